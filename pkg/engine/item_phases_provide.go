package engine

import (
	"context"
	"path/filepath"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// PhasesProvideItem describes the subvolume as the phases left it. It
// provides every existing path, so pool items can require what the parent
// layer or the RPM phases created. Protected paths are provided as
// DoNotAccess and not descended into.
//
// It anchors the dependency order and is never built.
type PhasesProvideItem struct {
	ItemBase
	Subvol *subvol.Subvol
}

// NewPhasesProvideItem describes sv.
func NewPhasesProvideItem(layerTarget string, sv *subvol.Subvol) PhasesProvideItem {
	return PhasesProvideItem{ItemBase: ItemBase{FromTarget: layerTarget}, Subvol: sv}
}

func (PhasesProvideItem) Kind() string                     { return KindPhasesProvide }
func (PhasesProvideItem) Phase() PhaseOrder                { return PhaseNone }
func (PhasesProvideItem) Requires() ([]Requirement, error) { return nil, nil }

func (i PhasesProvideItem) Provides() ([]Provide, error) {
	protected, err := ProtectedPathSet(i.Subvol)
	if err != nil {
		return nil, err
	}
	return subtreeProvides(i.Subvol, RootPath, protected)
}

// Build is a no-op: the phases already built what this item describes.
func (PhasesProvideItem) Build(context.Context, *subvol.Subvol, *LayerOpts) error {
	return nil
}

// subtreeProvides walks the subtree of sv at root and returns provides
// whose paths are relative to root, root itself being ".".
func subtreeProvides(sv *subvol.Subvol, root Path, protected ProtectedPaths) ([]Provide, error) {
	var provides []Provide
	err := sv.Walk(string(root), func(name string, kind subvol.EntryKind) error {
		p := MustPath(name)
		rel, _ := p.Rel(root)

		if IsPathProtected(p, protected) {
			provides = append(provides, ProvidesDoNotAccess{Path: rel})
			return filepath.SkipDir
		}
		if kind == subvol.EntryDirectory {
			provides = append(provides, ProvidesDirectory{Path: rel})
		} else {
			provides = append(provides, ProvidesFile{Path: rel})
		}
		return nil
	})
	if err != nil {
		return nil, NewTransientError("failed to walk subvolume", err).
			WithResource(sv.Path(string(root)))
	}
	return provides, nil
}
