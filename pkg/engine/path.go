package engine

import (
	"fmt"
	"path"
	"strings"
)

// Path is a normalized image-relative path. The image root is ".", every
// other path has no leading slash and never escapes the root. Equal paths
// are equal strings, so a Path can key a map directly.
type Path string

// RootPath is the image root.
const RootPath Path = "."

// NewPath normalizes p. Absolute paths are treated as image-relative.
func NewPath(p string) (Path, error) {
	rel := path.Clean(p)
	if !strings.HasPrefix(p, "/") && (rel == ".." || strings.HasPrefix(rel, "../")) {
		return "", NewPermanentError(fmt.Sprintf("path %q cannot start with ../", p), nil).
			WithCode(ErrCodeValidation).WithResource(p)
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return RootPath, nil
	}
	return Path(cleaned), nil
}

// MustPath is NewPath for literals known to be valid.
func MustPath(p string) Path {
	np, err := NewPath(p)
	if err != nil {
		panic(err)
	}
	return np
}

// String renders the path image-absolute, e.g. "/etc/passwd".
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + string(p)
}

// IsRoot reports whether p is the image root.
func (p Path) IsRoot() bool {
	return p == RootPath || p == ""
}

// Dir returns the parent directory. The parent of the root is the root.
func (p Path) Dir() Path {
	if p.IsRoot() {
		return RootPath
	}
	dir := path.Dir(string(p))
	if dir == "." {
		return RootPath
	}
	return Path(dir)
}

// Base returns the last element of the path.
func (p Path) Base() string {
	if p.IsRoot() {
		return "/"
	}
	return path.Base(string(p))
}

// Join appends image-relative elements to p.
func (p Path) Join(elem ...string) Path {
	parts := append([]string{"/", string(p)}, elem...)
	if p.IsRoot() {
		parts[1] = ""
	}
	joined := strings.TrimPrefix(path.Join(parts...), "/")
	if joined == "" {
		return RootPath
	}
	return Path(joined)
}

// Components returns every non-root prefix of p, outermost first and p
// itself last. The root has no components.
func (p Path) Components() []Path {
	if p.IsRoot() {
		return nil
	}
	parts := strings.Split(string(p), "/")
	out := make([]Path, len(parts))
	for i := range parts {
		out[i] = Path(strings.Join(parts[:i+1], "/"))
	}
	return out
}

// HasPrefix reports whether p equals prefix or lies below it.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.IsRoot() {
		return true
	}
	return p == prefix || strings.HasPrefix(string(p), string(prefix)+"/")
}

// Rel returns p relative to base, which must be a prefix of p.
func (p Path) Rel(base Path) (Path, bool) {
	if !p.HasPrefix(base) {
		return "", false
	}
	if base.IsRoot() {
		return p, true
	}
	if p == base {
		return RootPath, true
	}
	return Path(strings.TrimPrefix(string(p), string(base)+"/")), true
}
