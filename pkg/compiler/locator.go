package compiler

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// SubvolumeName derives the subvolume directory name of a layer target:
// "//images/base:app" becomes "images_base_app".
func SubvolumeName(target string) string {
	name := strings.TrimLeft(target, "/")
	name = strings.NewReplacer("/", "_", ":", "_").Replace(name)
	if name == "" {
		return "layer"
	}
	return name
}

// DirLocator resolves layer targets to subvolumes that were built into a
// directory, or to explicit paths. Resolved subvolumes are cached.
type DirLocator struct {
	dir          string
	targetToPath map[string]string
	open         func(path string) *subvol.Subvol

	mu    sync.Mutex
	cache map[string]*subvol.Subvol
}

// NewDirLocator creates a locator over dir. Targets in targetToPath resolve
// to their mapped path instead. open creates the handle for a path.
func NewDirLocator(dir string, targetToPath map[string]string, open func(path string) *subvol.Subvol) *DirLocator {
	return &DirLocator{
		dir:          dir,
		targetToPath: targetToPath,
		open:         open,
		cache:        make(map[string]*subvol.Subvol),
	}
}

// Locate implements engine.SubvolumeLocator. The subvolume must exist.
func (l *DirLocator) Locate(target string) (*subvol.Subvol, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sv, ok := l.cache[target]; ok {
		return sv, nil
	}

	path, ok := l.targetToPath[target]
	if !ok {
		if l.dir == "" {
			return nil, fmt.Errorf("no path known for layer %s", target)
		}
		path = filepath.Join(l.dir, SubvolumeName(target))
	}

	sv := l.open(path)
	if !sv.Exists() {
		return nil, fmt.Errorf("layer %s is not built at %s", target, path)
	}
	l.cache[target] = sv
	return sv, nil
}

// Forget drops the cached handle of target, so a rebuilt layer is
// resolved again.
func (l *DirLocator) Forget(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, target)
}
