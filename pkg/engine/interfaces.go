package engine

import (
	"context"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// RpmCommand is an installer subcommand used by the RPM phases.
type RpmCommand string

const (
	// RpmRemoveName removes installed packages by name; absent ones are
	// ignored by the installer.
	RpmRemoveName RpmCommand = "remove-n"
	// RpmLocalDowngrade installs local RPM files older than or equal to
	// the installed version.
	RpmLocalDowngrade RpmCommand = "downgrade"
	// RpmLocalInstall installs local RPM files.
	RpmLocalInstall RpmCommand = "install"
	// RpmInstallName installs packages by name from the repositories.
	RpmInstallName RpmCommand = "install-n"
)

// RpmCommandOrder is the order in which one phase runs its commands.
var RpmCommandOrder = []RpmCommand{
	RpmRemoveName,
	RpmLocalDowngrade,
	RpmLocalInstall,
	RpmInstallName,
}

// RpmTransaction is one batched installer invocation.
type RpmTransaction struct {
	Command RpmCommand

	// Packages are names for name commands and host paths of RPM files
	// for local commands, sorted.
	Packages []string

	// ProtectedPaths must survive the transaction untouched.
	ProtectedPaths []string

	// Installer is "dnf" or "yum".
	Installer string

	// BuildAppliance, when set, is the subvolume whose installer runs the
	// transaction.
	BuildAppliance *subvol.Subvol

	PreserveCache bool
}

// RpmExecutor applies RPM transactions to a subvolume. Dependency solving
// and repository access are its business.
type RpmExecutor interface {
	Execute(ctx context.Context, sv *subvol.Subvol, tx RpmTransaction) error
}

// RpmMetadata identifies one RPM build.
type RpmMetadata struct {
	Name    string
	Epoch   int
	Version string
	Release string
}

// RpmInspector reads RPM metadata.
type RpmInspector interface {
	// FileMetadata reads a local .rpm file.
	FileMetadata(ctx context.Context, path string) (RpmMetadata, error)

	// InstalledMetadata queries the RPM database of sv. It returns an
	// error with code ErrCodeNotFound when the package is not installed.
	InstalledMetadata(ctx context.Context, sv *subvol.Subvol, name string) (RpmMetadata, error)

	// CompareVersions returns -1, 0 or 1 comparing a to b by epoch,
	// version and release.
	CompareVersions(a, b RpmMetadata) int
}

// RpmBuilder builds RPMs from an rpmbuild tree inside the subvolume.
type RpmBuilder interface {
	BuildRpms(ctx context.Context, sv *subvol.Subvol, rpmbuildDir string) error
}

// SubvolumeLocator resolves a layer target to its built subvolume.
type SubvolumeLocator interface {
	Locate(target string) (*subvol.Subvol, error)
}
