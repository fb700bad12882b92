package engine

import "fmt"

// Predicate is what a requirement asks of the filesystem object at a path.
type Predicate int

const (
	// IsDirectory is satisfied by a directory.
	IsDirectory Predicate = iota + 1
	// IsFile is satisfied by any non-directory.
	IsFile
)

func (p Predicate) String() string {
	switch p {
	case IsDirectory:
		return "is_directory"
	case IsFile:
		return "is_file"
	default:
		return fmt.Sprintf("predicate(%d)", int(p))
	}
}

// Requirement is a predicate that must hold at a path before an item builds.
type Requirement struct {
	Path      Path
	Predicate Predicate
}

// RequireDirectory requires a directory at p.
func RequireDirectory(p Path) Requirement {
	return Requirement{Path: p, Predicate: IsDirectory}
}

// RequireFile requires a non-directory at p.
func RequireFile(p Path) Requirement {
	return Requirement{Path: p, Predicate: IsFile}
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s(%s)", r.Predicate, r.Path)
}

// ProvideKind tags the Provide variants.
type ProvideKind int

const (
	ProvideKindDirectory ProvideKind = iota + 1
	ProvideKindFile
	ProvideKindDoNotAccess
)

func (k ProvideKind) String() string {
	switch k {
	case ProvideKindDirectory:
		return "directory"
	case ProvideKindFile:
		return "file"
	case ProvideKindDoNotAccess:
		return "do_not_access"
	default:
		return fmt.Sprintf("provide(%d)", int(k))
	}
}

// Provide is a claim that, once its item has built, a filesystem object
// exists at a path. The set of variants is closed.
type Provide interface {
	ProvidedPath() Path
	Kind() ProvideKind

	// Matches reports whether the provide satisfies req. The index is
	// available to predicates that need to look at neighboring paths.
	// Calling Matches with a requirement at a different path panics.
	Matches(index PathIndex, req Requirement) bool

	isProvide()
}

// ProvidesDirectory claims a directory at Path.
type ProvidesDirectory struct {
	Path Path
}

// ProvidesFile claims a non-directory at Path.
type ProvidesFile struct {
	Path Path
}

// ProvidesDoNotAccess marks Path as off limits: it matches no requirement,
// but it still occupies the path, so no other item may provide it.
type ProvidesDoNotAccess struct {
	Path Path
}

func (p ProvidesDirectory) ProvidedPath() Path   { return p.Path }
func (p ProvidesFile) ProvidedPath() Path        { return p.Path }
func (p ProvidesDoNotAccess) ProvidedPath() Path { return p.Path }

func (ProvidesDirectory) Kind() ProvideKind   { return ProvideKindDirectory }
func (ProvidesFile) Kind() ProvideKind        { return ProvideKindFile }
func (ProvidesDoNotAccess) Kind() ProvideKind { return ProvideKindDoNotAccess }

func (ProvidesDirectory) isProvide()   {}
func (ProvidesFile) isProvide()        {}
func (ProvidesDoNotAccess) isProvide() {}

func (p ProvidesDirectory) Matches(_ PathIndex, req Requirement) bool {
	mustMatchPath(p, req)
	return req.Predicate == IsDirectory
}

func (p ProvidesFile) Matches(_ PathIndex, req Requirement) bool {
	mustMatchPath(p, req)
	return req.Predicate == IsFile
}

func (p ProvidesDoNotAccess) Matches(_ PathIndex, req Requirement) bool {
	mustMatchPath(p, req)
	return false
}

func mustMatchPath(p Provide, req Requirement) {
	if p.ProvidedPath() != req.Path {
		panic(fmt.Sprintf("tried to match %s against %s at a different path", ProvideString(p), req))
	}
}

// ProvideString renders a provide for messages.
func ProvideString(p Provide) string {
	return fmt.Sprintf("%s(%s)", p.Kind(), p.ProvidedPath())
}
