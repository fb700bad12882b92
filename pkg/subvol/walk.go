package subvol

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// maxSymlinkHops bounds symlink resolution, matching the kernel's ELOOP limit.
const maxSymlinkHops = 40

// EntryKind classifies a walked path.
type EntryKind int

const (
	// EntryDirectory is a directory, or a symlink resolving to one inside
	// the image.
	EntryDirectory EntryKind = iota
	// EntryFile is anything else: regular files, devices, FIFOs, sockets,
	// and symlinks that do not resolve to a directory.
	EntryFile
)

func (k EntryKind) String() string {
	if k == EntryDirectory {
		return "directory"
	}
	return "file"
}

// WalkFunc is called for every path of the subvolume. rel is
// image-relative, "." for the root. Returning filepath.SkipDir from a
// directory skips its contents; from a file it is ignored.
type WalkFunc func(rel string, kind EntryKind) error

// Walk visits the subtree at root ("." for the whole subvolume) in lexical
// order without following symlinks. Symlinks are reported but never
// descended into.
func (s *Subvol) Walk(root string, fn WalkFunc) error {
	return afero.Walk(s.fs, FsPath(root), func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(name, "/")
		if rel == "" {
			rel = "."
		}

		kind := EntryFile
		switch {
		case info.IsDir():
			kind = EntryDirectory
		case info.Mode()&os.ModeSymlink != 0 && s.IsDir(rel):
			kind = EntryDirectory
		}

		err = fn(rel, kind)
		if err == filepath.SkipDir && !info.IsDir() {
			return nil
		}
		return err
	})
}

// IsDir reports whether rel is a directory once symlinks are resolved
// inside the image. Absolute link targets are interpreted relative to the
// subvolume root, not the host.
func (s *Subvol) IsDir(rel string) bool {
	name := FsPath(rel)
	for range maxSymlinkHops {
		info, err := s.Lstat(name)
		if err != nil {
			return false
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return info.IsDir()
		}

		reader, ok := s.fs.(afero.LinkReader)
		if !ok {
			return false
		}
		target, err := reader.ReadlinkIfPossible(name)
		if err != nil {
			return false
		}
		if filepath.IsAbs(target) {
			name = FsPath(target)
		} else {
			name = filepath.Join(filepath.Dir(name), target)
		}
	}
	return false
}
