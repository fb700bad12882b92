package rpm

import (
	"strings"

	"github.com/openfroyo/fsimage/pkg/engine"
)

// CompareVersions returns 1 if a is newer than b, -1 if it is older and 0
// if both are the same build. Epochs compare numerically and win outright;
// versions and releases compare with rpmvercmp.
func CompareVersions(a, b engine.RpmMetadata) int {
	if a.Epoch != b.Epoch {
		if a.Epoch > b.Epoch {
			return 1
		}
		return -1
	}
	if c := Vercmp(a.Version, b.Version); c != 0 {
		return c
	}
	return Vercmp(a.Release, b.Release)
}

// Vercmp compares two version strings segment by segment. Numeric segments
// beat alphabetic ones, "~" sorts before anything including the end of the
// string, and separators only delimit segments.
func Vercmp(a, b string) int {
	if a == b {
		return 0
	}

	for a != "" || b != "" {
		a = strings.TrimLeftFunc(a, isSeparator)
		b = strings.TrimLeftFunc(b, isSeparator)

		if strings.HasPrefix(a, "~") || strings.HasPrefix(b, "~") {
			if !strings.HasPrefix(a, "~") {
				return 1
			}
			if !strings.HasPrefix(b, "~") {
				return -1
			}
			a, b = a[1:], b[1:]
			continue
		}

		if a == "" || b == "" {
			break
		}

		var segA, segB string
		numeric := isDigit(rune(a[0]))
		if numeric {
			segA, a = splitPrefix(a, isDigit)
			segB, b = splitPrefix(b, isDigit)
			if segB == "" {
				// Numbers are newer than letters.
				return 1
			}
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) > len(segB) {
					return 1
				}
				return -1
			}
		} else {
			segA, a = splitPrefix(a, isAlpha)
			segB, b = splitPrefix(b, isAlpha)
			if segB == "" {
				return -1
			}
		}

		if c := strings.Compare(segA, segB); c != 0 {
			return c
		}
	}

	switch {
	case a == "" && b == "":
		return 0
	case a != "":
		return 1
	default:
		return -1
	}
}

func splitPrefix(s string, keep func(rune) bool) (string, string) {
	for i, r := range s {
		if !keep(r) {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isAlpha(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }

func isSeparator(r rune) bool { return !isDigit(r) && !isAlpha(r) && r != '~' }
