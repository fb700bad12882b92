package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// fakeItem is a pool or phase item with fixed requires and provides. It is
// used through a pointer, so every fakeItem is distinct.
type fakeItem struct {
	name     string
	phase    PhaseOrder
	provides []Provide
	requires []Requirement
	log      *buildLog
}

func (f *fakeItem) Kind() string                     { return "fake" }
func (f *fakeItem) Provenance() string               { return f.name }
func (f *fakeItem) Phase() PhaseOrder                { return f.phase }
func (f *fakeItem) Provides() ([]Provide, error)     { return f.provides, nil }
func (f *fakeItem) Requires() ([]Requirement, error) { return f.requires, nil }

func (f *fakeItem) Build(context.Context, *subvol.Subvol, *LayerOpts) error {
	f.log.add(f.name)
	return nil
}

func (f *fakeItem) PhaseBuilder(_ context.Context, items []Item, _ *LayerOpts) (PhaseBuilder, error) {
	return func(context.Context, *subvol.Subvol) error {
		for _, item := range items {
			f.log.add(item.Provenance())
		}
		return nil
	}, nil
}

type buildLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *buildLog) add(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, name)
}

func dir(p string) Provide          { return ProvidesDirectory{Path: MustPath(p)} }
func file(p string) Provide         { return ProvidesFile{Path: MustPath(p)} }
func needDir(p string) Requirement  { return RequireDirectory(MustPath(p)) }
func needFile(p string) Requirement { return RequireFile(MustPath(p)) }
func base(target string) ItemBase   { return ItemBase{FromTarget: target} }
func noAccess(p string) Provide     { return ProvidesDoNotAccess{Path: MustPath(p)} }

// fakeLocator resolves layer targets to preassigned subvolumes.
type fakeLocator map[string]*subvol.Subvol

func (l fakeLocator) Locate(target string) (*subvol.Subvol, error) {
	sv, ok := l[target]
	if !ok {
		return nil, afero.ErrFileNotFound
	}
	return sv, nil
}

// useMemHostFs serves host-side sources from memory for the test.
func useMemHostFs(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	restore := UseHostFs(fs)
	t.Cleanup(restore)
	return fs
}

// mkdirs creates image directories on the subvolume filesystem.
func mkdirs(t *testing.T, sv *subvol.Subvol, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := sv.Fs().MkdirAll(subvol.FsPath(p), 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", p, err)
		}
	}
}

// checkOrder fails unless every item comes after the providers of its
// requirements. Providers missing from order are assumed to be phasesProvide.
func checkOrder(t *testing.T, order []Item) {
	t.Helper()
	position := make(map[Path]int)
	for i, item := range order {
		provides, _ := item.Provides()
		for _, p := range provides {
			position[p.ProvidedPath()] = i
		}
	}
	for i, item := range order {
		requires, _ := item.Requires()
		for _, r := range requires {
			if at, ok := position[r.Path]; ok && at >= i {
				t.Errorf("%s at %d requires %s, provided at %d", ItemString(item), i, r.Path, at)
			}
		}
	}
}
