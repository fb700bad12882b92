package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/fsimage/pkg/archive"
	"github.com/openfroyo/fsimage/pkg/subvol"
)

// TarballItem extracts a host tarball into IntoDir.
type TarballItem struct {
	ItemBase

	// Source is the host path of the tarball, optionally compressed.
	Source  string
	IntoDir Path

	// Hash, if set, is "sha256:<hex>" or "sha512:<hex>" and is checked
	// before extraction.
	Hash string

	// ForceRootOwnership ignores the ownership recorded in the archive.
	ForceRootOwnership bool
}

// NewTarballItem validates a tarball declaration.
func NewTarballItem(base ItemBase, source, intoDir, hash string, forceRoot bool) (TarballItem, error) {
	into, err := pathField(KindTarball, "into_dir", intoDir)
	if err != nil {
		return TarballItem{}, err
	}
	if _, err := hostFs.Stat(source); err != nil {
		return TarballItem{}, NewPermanentError("tarball: cannot read source", err).
			WithCode(ErrCodeNotFound).WithResource(source)
	}
	return TarballItem{
		ItemBase:           base,
		Source:             source,
		IntoDir:            into,
		Hash:               hash,
		ForceRootOwnership: forceRoot,
	}, nil
}

func (TarballItem) Kind() string      { return KindTarball }
func (TarballItem) Phase() PhaseOrder { return PhaseNone }

// Provides lists every archive member under IntoDir. The extraction
// directory itself is not provided: extraction leaves it untouched.
func (i TarballItem) Provides() ([]Provide, error) {
	members, err := archive.Members(hostFs, i.Source)
	if err != nil {
		return nil, NewPermanentError("tarball: cannot list members", err).WithResource(i.Source)
	}

	provides := make([]Provide, 0, len(members))
	for _, m := range members {
		rel, err := NewPath(m.Name)
		if err != nil {
			return nil, NewPermanentError(fmt.Sprintf("tarball: bad member %q", m.Name), err).
				WithCode(ErrCodeValidation).WithResource(i.Source)
		}
		if m.IsDir {
			if rel.IsRoot() {
				continue
			}
			provides = append(provides, ProvidesDirectory{Path: i.IntoDir.Join(string(rel))})
		} else {
			provides = append(provides, ProvidesFile{Path: i.IntoDir.Join(string(rel))})
		}
	}
	return provides, nil
}

func (i TarballItem) Requires() ([]Requirement, error) {
	return []Requirement{RequireDirectory(i.IntoDir)}, nil
}

// Build streams the decompressed archive into tar. --keep-old-files makes
// tar fail rather than overwrite a file, and keeps the metadata of
// directories that already exist, including IntoDir.
func (i TarballItem) Build(ctx context.Context, sv *subvol.Subvol, _ *LayerOpts) error {
	if i.Hash != "" {
		if err := archive.VerifyDigest(hostFs, i.Source, i.Hash); err != nil {
			return NewPermanentError("tarball: digest mismatch", err).WithResource(i.Source)
		}
	}

	stream, _, err := archive.Open(hostFs, i.Source)
	if err != nil {
		return err
	}
	defer stream.Close()

	args := []string{"-C", sv.Path(string(i.IntoDir)), "-x", "--force-local"}
	if i.ForceRootOwnership {
		args = append(args, "--no-same-owner")
	}
	args = append(args, "--keep-old-files", "-f", "-")

	if _, err := sv.RunAsRootWithStdin(ctx, stream, "tar", args...); err != nil {
		return fmt.Errorf("failed to extract %s: %w", i.Source, err)
	}
	return nil
}
