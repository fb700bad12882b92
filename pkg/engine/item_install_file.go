package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// InstallFileItem copies a host file, or a host directory tree, to Dest.
type InstallFileItem struct {
	ItemBase

	// Source is a host path.
	Source string
	Dest   Path

	// Mode applies to single-file sources. Zero picks a+rx for
	// executable sources and a+r otherwise. Directory trees always use
	// 0755 for directories and the same executable rule for files.
	Mode      os.FileMode
	UserGroup string

	sourceIsDir bool
}

// NewInstallFileItem validates an install_file declaration against the
// host source.
func NewInstallFileItem(base ItemBase, source, dest string, mode os.FileMode, userGroup string) (InstallFileItem, error) {
	d, err := pathField(KindInstallFile, "dest", dest)
	if err != nil {
		return InstallFileItem{}, err
	}
	if d.IsRoot() {
		return InstallFileItem{}, NewPermanentError("install_file: dest cannot be the image root", nil).
			WithCode(ErrCodeValidation)
	}

	info, err := hostFs.Stat(source)
	if err != nil {
		return InstallFileItem{}, NewPermanentError("install_file: cannot read source", err).
			WithCode(ErrCodeNotFound).WithResource(source)
	}
	if info.IsDir() && mode != 0 {
		return InstallFileItem{}, NewPermanentError("install_file: mode cannot be set for a directory source", nil).
			WithCode(ErrCodeValidation).WithResource(source)
	}
	if userGroup == "" {
		userGroup = defaultOwner
	}

	return InstallFileItem{
		ItemBase:    base,
		Source:      source,
		Dest:        d,
		Mode:        mode,
		UserGroup:   userGroup,
		sourceIsDir: info.IsDir(),
	}, nil
}

func (InstallFileItem) Kind() string      { return KindInstallFile }
func (InstallFileItem) Phase() PhaseOrder { return PhaseNone }

func (i InstallFileItem) Provides() ([]Provide, error) {
	if !i.sourceIsDir {
		return []Provide{ProvidesFile{Path: i.Dest}}, nil
	}

	var provides []Provide
	err := i.walkSource(func(rel Path, info os.FileInfo) error {
		dest := i.Dest.Join(string(rel))
		if info.IsDir() {
			provides = append(provides, ProvidesDirectory{Path: dest})
		} else {
			provides = append(provides, ProvidesFile{Path: dest})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provides, nil
}

func (i InstallFileItem) Requires() ([]Requirement, error) {
	return []Requirement{RequireDirectory(i.Dest.Dir())}, nil
}

// Build copies the source into the image.
func (i InstallFileItem) Build(_ context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	owner, err := sv.ResolveOwner(i.UserGroup)
	if err != nil {
		return NewPermanentError("install_file: bad owner", err).WithResource(i.UserGroup)
	}

	if !i.sourceIsDir {
		info, err := hostFs.Stat(i.Source)
		if err != nil {
			return err
		}
		mode := i.Mode
		if mode == 0 {
			mode = fileModeFor(info)
		}
		return i.copyFile(sv, i.Source, i.Dest, mode, owner)
	}

	return i.walkSource(func(rel Path, info os.FileInfo) error {
		dest := i.Dest.Join(string(rel))
		if info.IsDir() {
			if err := sv.Fs().Mkdir(subvol.FsPath(string(dest)), defaultDirMode); err != nil {
				return fmt.Errorf("failed to create %s: %w", dest, err)
			}
			return applyModeAndOwner(sv, dest, defaultDirMode, owner)
		}
		return i.copyFile(sv, filepath.Join(i.Source, string(rel)), dest, fileModeFor(info), owner)
	})
}

func (i InstallFileItem) copyFile(sv *subvol.Subvol, source string, dest Path, mode os.FileMode, owner subvol.Owner) error {
	src, err := hostFs.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sv.Fs().OpenFile(subvol.FsPath(string(dest)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", source, dest, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return applyModeAndOwner(sv, dest, mode, owner)
}

// walkSource visits the source tree, root first, with paths relative to it.
func (i InstallFileItem) walkSource(fn func(rel Path, info os.FileInfo) error) error {
	return afero.Walk(hostFs, i.Source, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return NewPermanentError("install_file: symlinks are not supported in directory sources", nil).
				WithCode(ErrCodeValidation).WithResource(name)
		}
		rel, err := filepath.Rel(i.Source, name)
		if err != nil {
			return err
		}
		return fn(MustPath(rel), info)
	})
}

func fileModeFor(info os.FileInfo) os.FileMode {
	if info.Mode().Perm()&0o111 != 0 {
		return defaultExecMode
	}
	return defaultDataMode
}
