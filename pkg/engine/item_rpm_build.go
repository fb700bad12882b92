package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// RpmBuildItem builds the RPMs described by an rpmbuild tree that earlier
// layers placed in the image.
type RpmBuildItem struct {
	ItemBase
	RpmbuildDir Path
}

// NewRpmBuildItem validates an rpm_build declaration.
func NewRpmBuildItem(base ItemBase, rpmbuildDir string) (RpmBuildItem, error) {
	dir, err := pathField(KindRpmBuild, "rpmbuild_dir", rpmbuildDir)
	if err != nil {
		return RpmBuildItem{}, err
	}
	return RpmBuildItem{ItemBase: base, RpmbuildDir: dir}, nil
}

func (RpmBuildItem) Kind() string                     { return KindRpmBuild }
func (RpmBuildItem) Phase() PhaseOrder                { return PhaseRpmBuild }
func (RpmBuildItem) Provides() ([]Provide, error)     { return nil, nil }
func (RpmBuildItem) Requires() ([]Requirement, error) { return nil, nil }

// PhaseBuilder runs the RPM builder once per tree, in path order.
func (RpmBuildItem) PhaseBuilder(_ context.Context, items []Item, opts *LayerOpts) (PhaseBuilder, error) {
	if opts.RpmBuild == nil {
		return nil, NewPermanentError("rpm_build needs an RPM builder", nil).
			WithCode(ErrCodeValidation).WithResource(opts.LayerTarget)
	}

	dirs := make([]Path, 0, len(items))
	for _, item := range items {
		rb, ok := item.(RpmBuildItem)
		if !ok {
			return nil, NewInternalError(fmt.Sprintf("%s in the %s phase", ItemString(item), PhaseRpmBuild), nil)
		}
		dirs = append(dirs, rb.RpmbuildDir)
	}
	sort.Slice(dirs, func(a, b int) bool { return dirs[a] < dirs[b] })

	return func(ctx context.Context, sv *subvol.Subvol) error {
		for _, dir := range dirs {
			if !sv.IsDir(string(dir)) {
				return NewPermanentError("rpmbuild directory does not exist in the image", nil).
					WithCode(ErrCodeNotFound).WithResource(dir.String())
			}
			if err := opts.RpmBuild.BuildRpms(ctx, sv, sv.Path(string(dir))); err != nil {
				return fmt.Errorf("rpmbuild in %s: %w", dir, err)
			}
		}
		return nil
	}, nil
}
