// Package subvol wraps the btrfs subvolume that an image layer is built in.
//
// A Subvol pairs the host path of the subvolume with an afero.Fs rooted at
// that path and a Runner for privileged commands. Reads, metadata writes and
// small file installs go through the Fs; everything that needs kernel
// support (btrfs, mount, tar, cp --reflink) goes through the Runner.
package subvol

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MetaDir is the image-relative directory holding build metadata.
const MetaDir = "meta"

// Subvol is a handle to a (possibly not yet created) btrfs subvolume.
type Subvol struct {
	path   string
	fs     afero.Fs
	runner Runner
}

// New returns a handle for the subvolume at the absolute host path.
func New(path string, runner Runner) *Subvol {
	return NewWithFs(path, afero.NewBasePathFs(afero.NewOsFs(), path), runner)
}

// NewWithFs returns a handle backed by the given filesystem, which must be
// rooted at the subvolume.
func NewWithFs(path string, fs afero.Fs, runner Runner) *Subvol {
	return &Subvol{
		path:   filepath.Clean(path),
		fs:     fs,
		runner: runner,
	}
}

// Path returns the host path of the image-relative path rel.
func (s *Subvol) Path(rel ...string) string {
	parts := make([]string, 0, len(rel)+1)
	parts = append(parts, s.path)
	for _, r := range rel {
		parts = append(parts, strings.TrimPrefix(r, "/"))
	}
	return filepath.Join(parts...)
}

// Fs returns the filesystem rooted at the subvolume.
func (s *Subvol) Fs() afero.Fs {
	return s.fs
}

// Runner returns the command runner used for privileged operations.
func (s *Subvol) Runner() Runner {
	return s.runner
}

// String returns the host path of the subvolume.
func (s *Subvol) String() string {
	return s.path
}

// RunAsRoot runs a privileged command.
func (s *Subvol) RunAsRoot(ctx context.Context, name string, args ...string) (*Result, error) {
	return s.runner.Run(ctx, Command{Name: name, Args: args, AsRoot: true})
}

// RunAsRootWithStdin runs a privileged command fed from stdin.
func (s *Subvol) RunAsRootWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) (*Result, error) {
	return s.runner.Run(ctx, Command{Name: name, Args: args, Stdin: stdin, AsRoot: true})
}

// Exists reports whether the subvolume root exists.
func (s *Subvol) Exists() bool {
	info, err := s.fs.Stat("/")
	return err == nil && info.IsDir()
}

// Create makes a new, empty subvolume.
func (s *Subvol) Create(ctx context.Context) error {
	if _, err := s.RunAsRoot(ctx, "btrfs", "subvolume", "create", s.path); err != nil {
		return fmt.Errorf("failed to create subvolume %s: %w", s.path, err)
	}
	return nil
}

// Snapshot makes this subvolume a writable snapshot of source.
func (s *Subvol) Snapshot(ctx context.Context, source *Subvol) error {
	if _, err := s.RunAsRoot(ctx, "btrfs", "subvolume", "snapshot", source.path, s.path); err != nil {
		return fmt.Errorf("failed to snapshot %s into %s: %w", source.path, s.path, err)
	}
	return nil
}

// Receive unpacks a btrfs sendstream into dir, a host directory. The
// received subvolume keeps the name recorded in the stream.
func (s *Subvol) Receive(ctx context.Context, sendstream io.Reader, dir string) error {
	if _, err := s.RunAsRootWithStdin(ctx, sendstream, "btrfs", "receive", dir); err != nil {
		return fmt.Errorf("failed to receive sendstream into %s: %w", dir, err)
	}
	return nil
}

// SetReadonly toggles the btrfs read-only property.
func (s *Subvol) SetReadonly(ctx context.Context, readonly bool) error {
	_, err := s.RunAsRoot(ctx, "btrfs", "property", "set", "-ts", s.path, "ro", fmt.Sprintf("%t", readonly))
	if err != nil {
		return fmt.Errorf("failed to set ro=%t on %s: %w", readonly, s.path, err)
	}
	return nil
}

// Delete removes the subvolume.
func (s *Subvol) Delete(ctx context.Context) error {
	if _, err := s.RunAsRoot(ctx, "btrfs", "subvolume", "delete", s.path); err != nil {
		return fmt.Errorf("failed to delete subvolume %s: %w", s.path, err)
	}
	return nil
}

// EnsureMetaDir creates the build metadata directory.
func (s *Subvol) EnsureMetaDir() error {
	if err := s.fs.MkdirAll(FsPath(MetaDir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", MetaDir, err)
	}
	return nil
}

// WriteFile writes data at the image-relative path, creating parents.
func (s *Subvol) WriteFile(rel string, data []byte, perm os.FileMode) error {
	name := FsPath(rel)
	if err := s.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, name, data, perm)
}

// Lstat returns file info for rel without following a leaf symlink.
func (s *Subvol) Lstat(rel string) (os.FileInfo, error) {
	name := FsPath(rel)
	if lstater, ok := s.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(name)
		return info, err
	}
	return s.fs.Stat(name)
}

// FsPath converts an image-relative path to the absolute form used with
// the subvolume's afero.Fs.
func FsPath(rel string) string {
	return filepath.Join("/", rel)
}
