package engine

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// Item is one declarative operation contributed by a feature. Items are
// comparable values: identical items from different features collapse into
// one when used as map keys.
type Item interface {
	// Kind names the item variant, e.g. "install_file".
	Kind() string

	// Provenance is the target of the feature that declared the item.
	Provenance() string

	// Phase is PhaseNone for items ordered by requires and provides.
	Phase() PhaseOrder

	// Provides lists the paths the item creates.
	Provides() ([]Provide, error)

	// Requires lists what must exist before the item builds.
	Requires() ([]Requirement, error)
}

// Buildable is a pool item, built individually in dependency order.
type Buildable interface {
	Item
	Build(ctx context.Context, sv *subvol.Subvol, opts *LayerOpts) error
}

// PhaseBuilder applies a whole phase to the subvolume.
type PhaseBuilder func(ctx context.Context, sv *subvol.Subvol) error

// PhaseItem is an item built as part of a phase. All items in a phase share
// one builder, created from the whole bucket.
type PhaseItem interface {
	Item
	PhaseBuilder(ctx context.Context, items []Item, opts *LayerOpts) (PhaseBuilder, error)
}

// ItemBase carries the fields every item has.
type ItemBase struct {
	// FromTarget is the feature target that declared the item.
	FromTarget string
}

// Provenance returns the declaring target.
func (b ItemBase) Provenance() string {
	return b.FromTarget
}

// ItemString renders an item for messages.
func ItemString(item Item) string {
	if item.Provenance() == "" {
		return item.Kind()
	}
	return fmt.Sprintf("%s from %s", item.Kind(), item.Provenance())
}

// hostFs is where items read their host-side sources (files to install,
// tarballs, sendstreams, local RPMs).
var hostFs afero.Fs = afero.NewOsFs()

// UseHostFs replaces the host filesystem and returns a function restoring
// the previous one. Tests use it to serve sources from memory.
func UseHostFs(fs afero.Fs) (restore func()) {
	prev := hostFs
	hostFs = fs
	return func() { hostFs = prev }
}

// HostFs returns the filesystem items read host-side sources from.
func HostFs() afero.Fs {
	return hostFs
}

// pathField normalizes a user-supplied path field of an item.
func pathField(kind, field, value string) (Path, error) {
	if value == "" {
		return "", NewPermanentError(fmt.Sprintf("%s: %s is required", kind, field), nil).
			WithCode(ErrCodeValidation)
	}
	p, err := NewPath(value)
	if err != nil {
		return "", NewPermanentError(fmt.Sprintf("%s: invalid %s", kind, field), err).
			WithCode(ErrCodeValidation)
	}
	return p, nil
}

// Item kinds.
const (
	KindFilesystemRoot    = "filesystem_root"
	KindParentLayer       = "parent_layer"
	KindReceiveSendstream = "receive_sendstream"
	KindMakeDirs          = "make_dirs"
	KindInstallFile       = "install_file"
	KindSymlinkToDir      = "symlink_to_dir"
	KindSymlinkToFile     = "symlink_to_file"
	KindTarball           = "tarball"
	KindClone             = "clone"
	KindMount             = "mount"
	KindRemovePath        = "remove_path"
	KindRpmAction         = "rpm_action"
	KindRpmBuild          = "rpm_build"
	KindPhasesProvide     = "phases_provide"
)
