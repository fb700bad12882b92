package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// MakeDirsItem creates PathToMake, and every missing component of it,
// inside IntoDir.
type MakeDirsItem struct {
	ItemBase

	IntoDir    Path
	PathToMake Path
	Mode       os.FileMode
	UserGroup  string
}

// NewMakeDirsItem validates and normalizes a make_dirs declaration. Zero
// mode and empty owner mean 0755 and root:root.
func NewMakeDirsItem(base ItemBase, intoDir, pathToMake string, mode os.FileMode, userGroup string) (MakeDirsItem, error) {
	into, err := pathField(KindMakeDirs, "into_dir", intoDir)
	if err != nil {
		return MakeDirsItem{}, err
	}
	toMake, err := pathField(KindMakeDirs, "path_to_make", pathToMake)
	if err != nil {
		return MakeDirsItem{}, err
	}
	if toMake.IsRoot() {
		return MakeDirsItem{}, NewPermanentError("make_dirs: path_to_make must name a directory", nil).
			WithCode(ErrCodeValidation).WithResource(pathToMake)
	}
	if mode == 0 {
		mode = defaultDirMode
	}
	if userGroup == "" {
		userGroup = defaultOwner
	}
	return MakeDirsItem{
		ItemBase:   base,
		IntoDir:    into,
		PathToMake: toMake,
		Mode:       mode,
		UserGroup:  userGroup,
	}, nil
}

func (MakeDirsItem) Kind() string      { return KindMakeDirs }
func (MakeDirsItem) Phase() PhaseOrder { return PhaseNone }

func (i MakeDirsItem) Provides() ([]Provide, error) {
	components := i.PathToMake.Components()
	provides := make([]Provide, len(components))
	for n, c := range components {
		provides[n] = ProvidesDirectory{Path: i.IntoDir.Join(string(c))}
	}
	return provides, nil
}

func (i MakeDirsItem) Requires() ([]Requirement, error) {
	return []Requirement{RequireDirectory(i.IntoDir)}, nil
}

// Build creates each component and applies mode and owner to all of them.
func (i MakeDirsItem) Build(_ context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	owner, err := sv.ResolveOwner(i.UserGroup)
	if err != nil {
		return NewPermanentError("make_dirs: bad owner", err).WithResource(i.UserGroup)
	}

	for _, c := range i.PathToMake.Components() {
		p := i.IntoDir.Join(string(c))
		name := subvol.FsPath(string(p))
		if err := sv.Fs().Mkdir(name, i.Mode); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
		if err := applyModeAndOwner(sv, p, i.Mode, owner); err != nil {
			return err
		}
	}
	return nil
}

// applyModeAndOwner sets mode and ownership on an image path.
func applyModeAndOwner(sv *subvol.Subvol, p Path, mode os.FileMode, owner subvol.Owner) error {
	name := subvol.FsPath(string(p))
	if err := sv.Fs().Chmod(name, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", p, err)
	}
	if err := sv.Fs().Chown(name, owner.UID, owner.GID); err != nil {
		return fmt.Errorf("failed to chown %s: %w", p, err)
	}
	return nil
}
