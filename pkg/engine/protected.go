package engine

import (
	"sort"
	"strings"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// ProtectedPaths holds image paths no item may touch. Entries are image
// relative; a trailing "/" marks a directory, anything else is a file.
type ProtectedPaths map[string]struct{}

// ProtectedPathSet returns the protected paths of sv: the metadata
// directory plus every recorded mountpoint. Pass nil for a subvolume that
// does not exist yet.
func ProtectedPathSet(sv *subvol.Subvol) (ProtectedPaths, error) {
	paths := ProtectedPaths{subvol.MetaDir + "/": {}}
	if sv == nil {
		return paths, nil
	}

	mounts, err := sv.Mounts()
	if err != nil {
		return nil, NewTransientError("failed to read mount metadata", err).
			WithResource(sv.String())
	}
	for _, m := range mounts {
		paths[m.ProtectedPath()] = struct{}{}
	}
	return paths, nil
}

// IsPathProtected reports whether p is a protected path or lies beneath
// one. A path below a protected file counts too.
func IsPathProtected(p Path, protected ProtectedPaths) bool {
	candidate := string(p) + "/"
	for prot := range protected {
		if !strings.HasSuffix(prot, "/") {
			prot += "/"
		}
		if strings.HasPrefix(candidate, prot) {
			return true
		}
	}
	return false
}

// Sorted returns the protected paths in lexical order.
func (ps ProtectedPaths) Sorted() []string {
	out := make([]string, 0, len(ps))
	for p := range ps {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
