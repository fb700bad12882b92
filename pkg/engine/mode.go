package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseMode accepts an octal mode ("0755") or a comma separated list of
// additive symbolic clauses starting from zero ("u+rwx,og+rx").
func ParseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, fmt.Errorf("empty mode")
	}
	if n, err := strconv.ParseUint(s, 8, 32); err == nil {
		if n > 0o7777 {
			return 0, fmt.Errorf("mode %q out of range", s)
		}
		return fileModeFromUnix(uint32(n)), nil
	}

	var mode uint32
	for _, clause := range strings.Split(s, ",") {
		who, perms, ok := strings.Cut(clause, "+")
		if !ok {
			return 0, fmt.Errorf("mode clause %q: only octal modes and '+' clauses are supported", clause)
		}
		if who == "" {
			who = "a"
		}

		var bits uint32
		for _, p := range perms {
			switch p {
			case 'r':
				bits |= 4
			case 'w':
				bits |= 2
			case 'x':
				bits |= 1
			default:
				return 0, fmt.Errorf("mode clause %q: unknown permission %q", clause, p)
			}
		}

		for _, w := range who {
			switch w {
			case 'u':
				mode |= bits << 6
			case 'g':
				mode |= bits << 3
			case 'o':
				mode |= bits
			case 'a':
				mode |= bits<<6 | bits<<3 | bits
			default:
				return 0, fmt.Errorf("mode clause %q: unknown class %q", clause, w)
			}
		}
	}
	return os.FileMode(mode), nil
}

func fileModeFromUnix(n uint32) os.FileMode {
	mode := os.FileMode(n & 0o777)
	if n&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if n&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if n&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

const (
	defaultDirMode  os.FileMode = 0o755 // u+rwx,og+rx
	defaultDataMode os.FileMode = 0o444 // a+r
	defaultExecMode os.FileMode = 0o555 // a+rx
	defaultOwner                = "root:root"
)
