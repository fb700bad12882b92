package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// symlinkSourceWhitelist holds file targets that exist in every image at
// runtime but are never provided at build time.
var symlinkSourceWhitelist = map[Path]struct{}{
	"dev/null": {},
}

// SymlinkToDirItem creates a symlink at Dest pointing at the directory
// Source.
type SymlinkToDirItem struct {
	ItemBase
	Source Path
	Dest   Path
}

// SymlinkToFileItem creates a symlink at Dest pointing at the file Source.
type SymlinkToFileItem struct {
	ItemBase
	Source Path
	Dest   Path
}

// NewSymlinkToDirItem validates a symlink to a directory. A dest ending in
// "/" gets the source basename appended.
func NewSymlinkToDirItem(base ItemBase, source, dest string) (SymlinkToDirItem, error) {
	s, d, err := symlinkPaths(KindSymlinkToDir, source, dest)
	if err != nil {
		return SymlinkToDirItem{}, err
	}
	return SymlinkToDirItem{ItemBase: base, Source: s, Dest: d}, nil
}

// NewSymlinkToFileItem validates a symlink to a file. A dest ending in "/"
// gets the source basename appended.
func NewSymlinkToFileItem(base ItemBase, source, dest string) (SymlinkToFileItem, error) {
	s, d, err := symlinkPaths(KindSymlinkToFile, source, dest)
	if err != nil {
		return SymlinkToFileItem{}, err
	}
	if s.IsRoot() {
		return SymlinkToFileItem{}, NewPermanentError("symlink_to_file: source cannot be the image root", nil).
			WithCode(ErrCodeValidation)
	}
	return SymlinkToFileItem{ItemBase: base, Source: s, Dest: d}, nil
}

func symlinkPaths(kind, source, dest string) (Path, Path, error) {
	s, err := pathField(kind, "source", source)
	if err != nil {
		return "", "", err
	}
	if strings.HasSuffix(dest, "/") {
		dest += s.Base()
	}
	d, err := pathField(kind, "dest", dest)
	if err != nil {
		return "", "", err
	}
	if d.IsRoot() {
		return "", "", NewPermanentError(kind+": dest cannot be the image root", nil).
			WithCode(ErrCodeValidation)
	}
	if s == d {
		return "", "", NewPermanentError(kind+": a symlink cannot point at itself", nil).
			WithCode(ErrCodeValidation).WithResource(d.String())
	}
	return s, d, nil
}

func (SymlinkToDirItem) Kind() string       { return KindSymlinkToDir }
func (SymlinkToFileItem) Kind() string      { return KindSymlinkToFile }
func (SymlinkToDirItem) Phase() PhaseOrder  { return PhaseNone }
func (SymlinkToFileItem) Phase() PhaseOrder { return PhaseNone }

func (i SymlinkToDirItem) Provides() ([]Provide, error) {
	return []Provide{ProvidesDirectory{Path: i.Dest}}, nil
}

func (i SymlinkToFileItem) Provides() ([]Provide, error) {
	return []Provide{ProvidesFile{Path: i.Dest}}, nil
}

func (i SymlinkToDirItem) Requires() ([]Requirement, error) {
	reqs := []Requirement{RequireDirectory(i.Source)}
	if parent := i.Dest.Dir(); parent != i.Source {
		reqs = append(reqs, RequireDirectory(parent))
	}
	return reqs, nil
}

func (i SymlinkToFileItem) Requires() ([]Requirement, error) {
	reqs := []Requirement{RequireDirectory(i.Dest.Dir())}
	if _, ok := symlinkSourceWhitelist[i.Source]; !ok {
		reqs = append(reqs, RequireFile(i.Source))
	}
	return reqs, nil
}

func (i SymlinkToDirItem) Build(ctx context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	return makeSymlink(ctx, sv, i.Source, i.Dest)
}

func (i SymlinkToFileItem) Build(ctx context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	return makeSymlink(ctx, sv, i.Source, i.Dest)
}

// makeSymlink links dest to the image-absolute source. The target is
// stored verbatim, so it resolves inside the image at runtime.
func makeSymlink(ctx context.Context, sv *subvol.Subvol, source, dest Path) error {
	_, err := sv.RunAsRoot(ctx, "ln", "--symbolic", "--no-dereference", source.String(), sv.Path(string(dest)))
	if err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", dest, source, err)
	}
	return nil
}
