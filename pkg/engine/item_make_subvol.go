package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// FilesystemRootItem creates an empty subvolume. It is the default
// MakeSubvol item of layers without a parent.
type FilesystemRootItem struct {
	ItemBase
}

func (FilesystemRootItem) Kind() string                     { return KindFilesystemRoot }
func (FilesystemRootItem) Phase() PhaseOrder                { return PhaseMakeSubvol }
func (FilesystemRootItem) Provides() ([]Provide, error)     { return nil, nil }
func (FilesystemRootItem) Requires() ([]Requirement, error) { return nil, nil }

// PhaseBuilder creates the subvolume with a root-owned 0755 root directory.
func (i FilesystemRootItem) PhaseBuilder(_ context.Context, items []Item, _ *LayerOpts) (PhaseBuilder, error) {
	if err := singleMakeSubvol(items, i); err != nil {
		return nil, err
	}
	return func(ctx context.Context, sv *subvol.Subvol) error {
		if err := sv.Create(ctx); err != nil {
			return err
		}
		if err := sv.Fs().Chmod("/", 0o755); err != nil {
			return fmt.Errorf("failed to chmod subvolume root: %w", err)
		}
		if err := sv.Fs().Chown("/", subvol.RootOwner.UID, subvol.RootOwner.GID); err != nil {
			return fmt.Errorf("failed to chown subvolume root: %w", err)
		}
		return sv.EnsureMetaDir()
	}, nil
}

// ParentLayerItem snapshots a built parent layer.
type ParentLayerItem struct {
	ItemBase

	// Parent is the target of the parent layer.
	Parent string
}

// NewParentLayerItem validates a parent layer declaration.
func NewParentLayerItem(base ItemBase, parent string) (ParentLayerItem, error) {
	if parent == "" {
		return ParentLayerItem{}, NewPermanentError("parent_layer: parent target is required", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	return ParentLayerItem{ItemBase: base, Parent: parent}, nil
}

func (ParentLayerItem) Kind() string                     { return KindParentLayer }
func (ParentLayerItem) Phase() PhaseOrder                { return PhaseMakeSubvol }
func (ParentLayerItem) Provides() ([]Provide, error)     { return nil, nil }
func (ParentLayerItem) Requires() ([]Requirement, error) { return nil, nil }

// PhaseBuilder resolves the parent now, then snapshots it at build time and
// re-creates the parent's mounts inside the snapshot.
func (i ParentLayerItem) PhaseBuilder(_ context.Context, items []Item, opts *LayerOpts) (PhaseBuilder, error) {
	if err := singleMakeSubvol(items, i); err != nil {
		return nil, err
	}
	parent, err := opts.LocateLayer(i.Parent)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, sv *subvol.Subvol) error {
		if err := sv.Snapshot(ctx, parent); err != nil {
			return err
		}

		mounts, err := sv.Mounts()
		if err != nil {
			return fmt.Errorf("failed to read mounts inherited from %s: %w", i.Parent, err)
		}
		for _, m := range mounts {
			if err := roRbindMount(ctx, sv, parent.Path(m.Mountpoint), m.Mountpoint); err != nil {
				return err
			}
		}
		return sv.EnsureMetaDir()
	}, nil
}

// ReceiveSendstreamItem creates the subvolume from a btrfs sendstream.
type ReceiveSendstreamItem struct {
	ItemBase

	// Source is the host path of the sendstream.
	Source string
}

// NewReceiveSendstreamItem validates a sendstream declaration.
func NewReceiveSendstreamItem(base ItemBase, source string) (ReceiveSendstreamItem, error) {
	if source == "" {
		return ReceiveSendstreamItem{}, NewPermanentError("receive_sendstream: source is required", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	return ReceiveSendstreamItem{ItemBase: base, Source: source}, nil
}

func (ReceiveSendstreamItem) Kind() string                     { return KindReceiveSendstream }
func (ReceiveSendstreamItem) Phase() PhaseOrder                { return PhaseMakeSubvol }
func (ReceiveSendstreamItem) Provides() ([]Provide, error)     { return nil, nil }
func (ReceiveSendstreamItem) Requires() ([]Requirement, error) { return nil, nil }

// PhaseBuilder receives the stream next to the target subvolume, moves the
// single received subvolume into place and makes it writable.
func (i ReceiveSendstreamItem) PhaseBuilder(_ context.Context, items []Item, _ *LayerOpts) (PhaseBuilder, error) {
	if err := singleMakeSubvol(items, i); err != nil {
		return nil, err
	}
	if _, err := hostFs.Stat(i.Source); err != nil {
		return nil, NewPermanentError("receive_sendstream: cannot read source", err).
			WithCode(ErrCodeNotFound).WithResource(i.Source)
	}

	return func(ctx context.Context, sv *subvol.Subvol) error {
		stream, err := hostFs.Open(i.Source)
		if err != nil {
			return err
		}
		defer stream.Close()

		receiveDir := sv.Path() + ".receive"
		if _, err := sv.RunAsRoot(ctx, "mkdir", "--mode=0700", receiveDir); err != nil {
			return fmt.Errorf("failed to create %s: %w", receiveDir, err)
		}
		if err := sv.Receive(ctx, stream, receiveDir); err != nil {
			return err
		}

		entries, err := afero.ReadDir(hostFs, receiveDir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", receiveDir, err)
		}
		if len(entries) != 1 {
			return NewPermanentError(
				fmt.Sprintf("sendstream %s produced %d subvolumes, expected 1", i.Source, len(entries)), nil,
			).WithCode(ErrCodeMakeSubvol)
		}

		received := filepath.Join(receiveDir, entries[0].Name())
		if _, err := sv.RunAsRoot(ctx, "mv", "--no-target-directory", received, sv.Path()); err != nil {
			return fmt.Errorf("failed to move received subvolume: %w", err)
		}
		if _, err := sv.RunAsRoot(ctx, "rmdir", receiveDir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", receiveDir, err)
		}
		if err := sv.SetReadonly(ctx, false); err != nil {
			return err
		}
		return sv.EnsureMetaDir()
	}, nil
}

func singleMakeSubvol(items []Item, self Item) error {
	if len(items) != 1 || items[0] != self {
		return NewInternalError(fmt.Sprintf("%s must be the only item of its phase", ItemString(self)), nil).
			WithCode(ErrCodeMakeSubvol)
	}
	return nil
}
