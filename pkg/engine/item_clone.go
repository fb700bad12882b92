package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// CloneItem copies a path from another built layer, preserving ownership,
// modes, xattrs, hardlinks and reflinked extents.
type CloneItem struct {
	ItemBase

	// SourceLayer is the target of the layer to copy from.
	SourceLayer string
	SourcePath  Path

	// Dest is the destination path, or the directory receiving the copy
	// when PreExistingDest is set.
	Dest Path

	// OmitOuterDir copies the contents of a source directory rather than
	// the directory itself. It implies PreExistingDest.
	OmitOuterDir    bool
	PreExistingDest bool

	source *subvol.Subvol
}

// NewCloneItem validates a clone declaration and resolves the source layer.
func NewCloneItem(base ItemBase, sourceLayer, sourcePath, dest string, omitOuterDir, preExistingDest bool, opts *LayerOpts) (CloneItem, error) {
	src, err := pathField(KindClone, "source path", sourcePath)
	if err != nil {
		return CloneItem{}, err
	}
	d, err := pathField(KindClone, "dest", dest)
	if err != nil {
		return CloneItem{}, err
	}
	if omitOuterDir && !preExistingDest {
		return CloneItem{}, NewPermanentError("clone: omit_outer_dir requires pre_existing_dest", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	if d.IsRoot() && !preExistingDest {
		return CloneItem{}, NewPermanentError("clone: the image root always exists, set pre_existing_dest", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}

	sv, err := opts.LocateLayer(sourceLayer)
	if err != nil {
		return CloneItem{}, err
	}

	return CloneItem{
		ItemBase:        base,
		SourceLayer:     sourceLayer,
		SourcePath:      src,
		Dest:            d,
		OmitOuterDir:    omitOuterDir,
		PreExistingDest: preExistingDest,
		source:          sv,
	}, nil
}

func (CloneItem) Kind() string      { return KindClone }
func (CloneItem) Phase() PhaseOrder { return PhaseNone }

// target is where the source root lands, or "" when only its contents
// are copied.
func (i CloneItem) target() Path {
	switch {
	case i.OmitOuterDir:
		return ""
	case i.PreExistingDest:
		return i.Dest.Join(i.SourcePath.Base())
	default:
		return i.Dest
	}
}

func (i CloneItem) Provides() ([]Provide, error) {
	protected, err := ProtectedPathSet(i.source)
	if err != nil {
		return nil, err
	}
	subtree, err := subtreeProvides(i.source, i.SourcePath, protected)
	if err != nil {
		return nil, err
	}

	target := i.target()
	provides := make([]Provide, 0, len(subtree))
	for _, prov := range subtree {
		rel := prov.ProvidedPath()
		var dest Path
		if target == "" {
			if rel.IsRoot() {
				continue
			}
			dest = i.Dest.Join(string(rel))
		} else {
			dest = target.Join(string(rel))
		}

		switch prov.(type) {
		case ProvidesDirectory:
			provides = append(provides, ProvidesDirectory{Path: dest})
		case ProvidesFile:
			provides = append(provides, ProvidesFile{Path: dest})
		default:
			provides = append(provides, ProvidesDoNotAccess{Path: dest})
		}
	}
	return provides, nil
}

func (i CloneItem) Requires() ([]Requirement, error) {
	if i.PreExistingDest {
		return []Requirement{RequireDirectory(i.Dest)}, nil
	}
	return []Requirement{RequireDirectory(i.Dest.Dir())}, nil
}

// Build copies with cp. --no-clobber backs up the provides check, and
// --no-dereference copies symlinks as symlinks.
func (i CloneItem) Build(ctx context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	src := i.source.Path(string(i.SourcePath))
	dest := sv.Path(string(i.target()))
	if i.OmitOuterDir {
		src += "/."
		dest = sv.Path(string(i.Dest))
	}

	_, err := sv.RunAsRoot(ctx, "cp",
		"--recursive", "--no-clobber", "--reflink=always", "--preserve=all",
		"--no-dereference", "--no-target-directory",
		src, dest,
	)
	if err != nil {
		return fmt.Errorf("failed to clone %s:%s to %s: %w", i.SourceLayer, i.SourcePath, i.Dest, err)
	}
	return nil
}
