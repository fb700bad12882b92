package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// RemoveAction says what to do when the path to remove is absent.
type RemoveAction string

const (
	// RemoveIfExists silently skips absent paths.
	RemoveIfExists RemoveAction = "if_exists"
	// RemoveAssertExists fails the build on absent paths.
	RemoveAssertExists RemoveAction = "assert_exists"
)

// RemovePathItem deletes a path in the RemovePaths phase.
type RemovePathItem struct {
	ItemBase
	Path   Path
	Action RemoveAction
}

// NewRemovePathItem validates a remove_path declaration.
func NewRemovePathItem(base ItemBase, path string, action RemoveAction) (RemovePathItem, error) {
	p, err := pathField(KindRemovePath, "path", path)
	if err != nil {
		return RemovePathItem{}, err
	}
	if p.IsRoot() {
		return RemovePathItem{}, NewPermanentError("remove_path: cannot remove the image root", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	switch action {
	case RemoveIfExists, RemoveAssertExists:
	default:
		return RemovePathItem{}, NewPermanentError(fmt.Sprintf("remove_path: bad action %q", action), nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	return RemovePathItem{ItemBase: base, Path: p, Action: action}, nil
}

func (RemovePathItem) Kind() string                     { return KindRemovePath }
func (RemovePathItem) Phase() PhaseOrder                { return PhaseRemovePaths }
func (RemovePathItem) Provides() ([]Provide, error)     { return nil, nil }
func (RemovePathItem) Requires() ([]Requirement, error) { return nil, nil }

// SortRemovePaths orders removals so that children go before parents, and
// if_exists goes before assert_exists on the same path.
func SortRemovePaths(items []RemovePathItem) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Path != items[b].Path {
			return items[a].Path > items[b].Path
		}
		return items[a].Action == RemoveIfExists && items[b].Action == RemoveAssertExists
	})
}

// PhaseBuilder removes the paths of all items in sorted order.
func (RemovePathItem) PhaseBuilder(_ context.Context, items []Item, _ *LayerOpts) (PhaseBuilder, error) {
	removes := make([]RemovePathItem, 0, len(items))
	for _, item := range items {
		rp, ok := item.(RemovePathItem)
		if !ok {
			return nil, NewInternalError(fmt.Sprintf("%s in the %s phase", ItemString(item), PhaseRemovePaths), nil)
		}
		removes = append(removes, rp)
	}
	SortRemovePaths(removes)

	return func(ctx context.Context, sv *subvol.Subvol) error {
		protected, err := ProtectedPathSet(sv)
		if err != nil {
			return err
		}
		var removed []Path
		for _, item := range removes {
			didRemove, err := item.remove(ctx, sv, protected, removed)
			if err != nil {
				return err
			}
			if didRemove {
				removed = append(removed, item.Path)
			}
		}
		return nil
	}, nil
}

func (i RemovePathItem) remove(ctx context.Context, sv *subvol.Subvol, protected ProtectedPaths, removed []Path) (bool, error) {
	if IsPathProtected(i.Path, protected) {
		return false, NewPermanentError(fmt.Sprintf("%s tried to remove a protected path", ItemString(i)), nil).
			WithCode(ErrCodeProtectedPath).WithResource(i.Path.String())
	}

	// A path removed earlier in this phase existed when the phase started.
	for _, r := range removed {
		if i.Path.HasPrefix(r) {
			return false, nil
		}
	}

	// Lstat: a symlink at the leaf is removed, never its target.
	if _, err := sv.Lstat(string(i.Path)); err != nil {
		if !os.IsNotExist(err) {
			return false, err
		}
		if i.Action == RemoveIfExists {
			return false, nil
		}
		return false, NewPermanentError(fmt.Sprintf("%s: path does not exist", ItemString(i)), err).
			WithCode(ErrCodeNotFound).WithResource(i.Path.String())
	}

	_, err := sv.RunAsRoot(ctx, "rm", "--recursive", "--force", "--one-file-system", "--", sv.Path(string(i.Path)))
	if err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", i.Path, err)
	}
	return true, nil
}
