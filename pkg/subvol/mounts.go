package subvol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	// MountsDir holds one record per mountpoint of the image.
	MountsDir = MetaDir + "/private/mount"

	// MountMarker terminates a mountpoint's path under MountsDir, so that
	// nested directories of a mountpoint path cannot be confused with it.
	MountMarker = "MOUNT"

	mountRecordFile = "mount.json"
)

// MountSource says where a mount comes from at build time.
type MountSource struct {
	// Type is "layer" or "host".
	Type string `json:"type"`

	// Source is a layer target for "layer" mounts, a host path otherwise.
	Source string `json:"source"`
}

// MountRecord is the metadata persisted for every mount of an image.
type MountRecord struct {
	Mountpoint    string          `json:"mountpoint"`
	IsDirectory   bool            `json:"is_directory"`
	BuildSource   MountSource     `json:"build_source"`
	RuntimeSource json.RawMessage `json:"runtime_source,omitempty"`
}

// ProtectedPath renders the mountpoint in protected-path form: image
// relative, with a trailing slash for directory mounts.
func (r MountRecord) ProtectedPath() string {
	p := strings.Trim(r.Mountpoint, "/")
	if r.IsDirectory {
		return p + "/"
	}
	return p
}

// WriteMount persists a mount record.
func (s *Subvol) WriteMount(record MountRecord) error {
	mountpoint := strings.Trim(record.Mountpoint, "/")
	if mountpoint == "" {
		return fmt.Errorf("mount record has empty mountpoint")
	}

	dir := FsPath(filepath.Join(MountsDir, mountpoint, MountMarker))
	if _, err := s.fs.Stat(dir); err == nil {
		return fmt.Errorf("mount metadata already exists for %s", mountpoint)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mount record: %w", err)
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return afero.WriteFile(s.fs, filepath.Join(dir, mountRecordFile), data, 0o644)
}

// Mounts returns the recorded mounts sorted by mountpoint.
func (s *Subvol) Mounts() ([]MountRecord, error) {
	root := FsPath(MountsDir)
	if _, err := s.fs.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []MountRecord
	err := afero.Walk(s.fs, root, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || info.Name() != MountMarker {
			return nil
		}

		data, err := afero.ReadFile(s.fs, filepath.Join(name, mountRecordFile))
		if err != nil {
			return fmt.Errorf("failed to read mount record %s: %w", name, err)
		}
		var record MountRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to parse mount record %s: %w", name, err)
		}
		records = append(records, record)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Mountpoint < records[j].Mountpoint
	})
	return records, nil
}

// HasMounts reports whether the image records any mount.
func (s *Subvol) HasMounts() bool {
	_, err := s.fs.Stat(FsPath(MountsDir))
	return err == nil
}
