package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// Mount source types.
const (
	MountSourceLayer = "layer"
	MountSourceHost  = "host"
)

// MountItem read-only bind mounts a layer or a host path into the image
// and records the mount in the image metadata. Nothing may be built inside
// a mountpoint.
type MountItem struct {
	ItemBase

	Mountpoint  Path
	IsDirectory bool

	// SourceType is MountSourceLayer or MountSourceHost; Source is a layer
	// target or a host path accordingly.
	SourceType string
	Source     string

	// RuntimeSource is an opaque JSON document for the container runtime.
	RuntimeSource string
}

// MountConfig is the declaration of a mount.
type MountConfig struct {
	Mountpoint    string
	IsDirectory   bool
	SourceType    string
	Source        string
	RuntimeSource map[string]any
}

// NewMountItem validates a mount. Host mounts are only allowed from targets
// under opts.AllowedHostMountTargets, and a layer that has mounts of its
// own cannot be mounted.
func NewMountItem(base ItemBase, cfg MountConfig, opts *LayerOpts) (MountItem, error) {
	mp, err := pathField(KindMount, "mountpoint", cfg.Mountpoint)
	if err != nil {
		return MountItem{}, err
	}
	if mp.IsRoot() {
		return MountItem{}, NewPermanentError("mount: cannot mount over the image root", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}

	switch cfg.SourceType {
	case MountSourceHost:
		if !hostMountAllowed(base.FromTarget, opts.AllowedHostMountTargets) {
			return MountItem{}, NewPermanentError(
				fmt.Sprintf("host mounts make images non-hermetic and must be declared under one of %v",
					opts.AllowedHostMountTargets), nil,
			).WithCode(ErrCodePolicyViolation).WithResource(base.FromTarget)
		}
	case MountSourceLayer:
		sv, err := opts.LocateLayer(cfg.Source)
		if err != nil {
			return MountItem{}, err
		}
		if sv.HasMounts() {
			return MountItem{}, NewPermanentError(
				fmt.Sprintf("refusing to mount %s: it has mounts of its own and nested mounts are unsupported", cfg.Source), nil,
			).WithCode(ErrCodeValidation).WithResource(base.FromTarget)
		}
	default:
		return MountItem{}, NewPermanentError(fmt.Sprintf("mount: bad source type %q", cfg.SourceType), nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}

	runtime := ""
	if cfg.RuntimeSource != nil {
		if t, _ := cfg.RuntimeSource["type"].(string); t == MountSourceHost {
			return MountItem{}, NewPermanentError("mount: only the build source may be a host mount", nil).
				WithCode(ErrCodeValidation).WithResource(base.FromTarget)
		}
		// encoding/json sorts map keys, so equal sources compare equal.
		data, err := json.Marshal(cfg.RuntimeSource)
		if err != nil {
			return MountItem{}, NewPermanentError("mount: bad runtime source", err).
				WithCode(ErrCodeValidation).WithResource(base.FromTarget)
		}
		runtime = string(data)
	}

	return MountItem{
		ItemBase:      base,
		Mountpoint:    mp,
		IsDirectory:   cfg.IsDirectory,
		SourceType:    cfg.SourceType,
		Source:        cfg.Source,
		RuntimeSource: runtime,
	}, nil
}

func hostMountAllowed(target string, allowed []string) bool {
	for _, prefix := range allowed {
		if target == prefix || strings.HasPrefix(target, strings.TrimSuffix(prefix, "/")+"/") ||
			strings.HasPrefix(target, strings.TrimSuffix(prefix, ":")+":") {
			return true
		}
	}
	return false
}

func (MountItem) Kind() string      { return KindMount }
func (MountItem) Phase() PhaseOrder { return PhaseNone }

// Provides marks the mountpoint off limits.
func (i MountItem) Provides() ([]Provide, error) {
	return []Provide{ProvidesDoNotAccess{Path: i.Mountpoint}}, nil
}

// Requires only the parent: the mountpoint is created by the build and
// then shadowed by the mount.
func (i MountItem) Requires() ([]Requirement, error) {
	return []Requirement{RequireDirectory(i.Mountpoint.Dir())}, nil
}

// Build records the mount, creates the mountpoint and mounts the source.
func (i MountItem) Build(ctx context.Context, sv *subvol.Subvol, opts *LayerOpts) error {
	source, err := i.sourcePath(opts)
	if err != nil {
		return err
	}

	record := subvol.MountRecord{
		Mountpoint:  string(i.Mountpoint),
		IsDirectory: i.IsDirectory,
		BuildSource: subvol.MountSource{Type: i.SourceType, Source: i.Source},
	}
	if i.RuntimeSource != "" {
		record.RuntimeSource = json.RawMessage(i.RuntimeSource)
	}
	if err := sv.WriteMount(record); err != nil {
		return err
	}

	if i.IsDirectory {
		if err := sv.Fs().Mkdir(subvol.FsPath(string(i.Mountpoint)), 0o755); err != nil {
			return fmt.Errorf("failed to create mountpoint %s: %w", i.Mountpoint, err)
		}
	} else {
		f, err := sv.Fs().Create(subvol.FsPath(string(i.Mountpoint)))
		if err != nil {
			return fmt.Errorf("failed to create mountpoint %s: %w", i.Mountpoint, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := sv.Fs().Chmod(subvol.FsPath(string(i.Mountpoint)), 0o444); err != nil {
			return err
		}
	}

	return roRbindMount(ctx, sv, source, string(i.Mountpoint))
}

func (i MountItem) sourcePath(opts *LayerOpts) (string, error) {
	if i.SourceType == MountSourceHost {
		return i.Source, nil
	}
	sv, err := opts.LocateLayer(i.Source)
	if err != nil {
		return "", err
	}
	return sv.Path(), nil
}

// roRbindMount bind mounts source at the image path mountpoint, read-only
// and recursively.
func roRbindMount(ctx context.Context, sv *subvol.Subvol, source, mountpoint string) error {
	target := sv.Path(mountpoint)
	if _, err := sv.RunAsRoot(ctx, "mount", "-o", "ro,rbind", source, target); err != nil {
		return fmt.Errorf("failed to mount %s at %s: %w", source, target, err)
	}
	// A bind mount ignores "ro" on its first pass, remount to apply it.
	if _, err := sv.RunAsRoot(ctx, "mount", "-o", "remount,ro,bind", target); err != nil {
		return fmt.Errorf("failed to make %s read-only: %w", target, err)
	}
	return nil
}
