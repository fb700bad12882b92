package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// LayerOpts is the per-layer configuration handed to item constructors,
// phase builders and item builds.
type LayerOpts struct {
	// LayerTarget identifies the layer being built.
	LayerTarget string

	// SubvolumesDir is the host directory holding all built subvolumes.
	SubvolumesDir string

	// TargetToPath maps layer targets to their build output paths.
	TargetToPath map[string]string

	// BuildAppliance is the target of the layer whose installer runs the
	// RPM phases. Empty runs the host installer.
	BuildAppliance string

	// RpmInstaller is "dnf" or "yum".
	RpmInstaller string

	// PreserveInstallerCache keeps the installer cache in the image.
	PreserveInstallerCache bool

	// AllowedHostMountTargets lists target prefixes allowed to declare
	// host mounts.
	AllowedHostMountTargets []string

	// ArtifactsMayRequireRepo is recorded in the image metadata.
	ArtifactsMayRequireRepo bool

	Rpm        RpmExecutor
	RpmInspect RpmInspector
	RpmBuild   RpmBuilder
	Subvolumes SubvolumeLocator

	Logger zerolog.Logger
}

// RequireBuildAppliance returns the build appliance target or an error when
// none is configured.
func (o *LayerOpts) RequireBuildAppliance() (string, error) {
	if o.BuildAppliance == "" {
		return "", NewPermanentError("this layer needs a build appliance but none is set", nil).
			WithCode(ErrCodeValidation).WithResource(o.LayerTarget)
	}
	return o.BuildAppliance, nil
}

// Installer returns the configured RPM installer, defaulting to dnf.
func (o *LayerOpts) Installer() (string, error) {
	switch o.RpmInstaller {
	case "":
		return "dnf", nil
	case "dnf", "yum":
		return o.RpmInstaller, nil
	default:
		return "", NewPermanentError(fmt.Sprintf("unsupported RPM installer %q", o.RpmInstaller), nil).
			WithCode(ErrCodeValidation)
	}
}

// LocateLayer resolves a layer target to its built subvolume.
func (o *LayerOpts) LocateLayer(target string) (*subvol.Subvol, error) {
	if o.Subvolumes == nil {
		return nil, NewPermanentError(fmt.Sprintf("cannot resolve layer %s: no subvolume locator", target), nil).
			WithCode(ErrCodeNotFound).WithResource(target)
	}
	sv, err := o.Subvolumes.Locate(target)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("cannot resolve layer %s", target), err).
			WithCode(ErrCodeNotFound).WithResource(target)
	}
	return sv, nil
}
