package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/fsimage/pkg/engine"
)

// Items converts the layer into engine items. Layer-level declarations
// (parent layer, sendstream) are attributed to the layer target, feature
// items to their feature target.
func (l *LayerConfig) Items(opts *engine.LayerOpts) ([]engine.Item, error) {
	var items []engine.Item
	base := engine.ItemBase{FromTarget: l.Layer}

	if l.ParentLayer != "" {
		item, err := engine.NewParentLayerItem(base, l.ParentLayer)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if l.ReceiveSendstream != "" {
		item, err := engine.NewReceiveSendstreamItem(base, l.resolve(l.ReceiveSendstream))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	for _, f := range l.Features {
		featureItems, err := l.featureItems(f, opts)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.Target, err)
		}
		items = append(items, featureItems...)
	}
	return items, nil
}

func (l *LayerConfig) featureItems(f FeatureConfig, opts *engine.LayerOpts) ([]engine.Item, error) {
	var items []engine.Item
	add := func(item engine.Item, err error) error {
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	}
	base := engine.ItemBase{FromTarget: f.Target}

	for _, md := range f.MakeDirs {
		mode, err := parseMode(md.Mode)
		if err != nil {
			return nil, err
		}
		if err := add(engine.NewMakeDirsItem(base, md.IntoDir, md.PathToMake, mode, md.UserGroup)); err != nil {
			return nil, err
		}
	}
	for _, inf := range f.InstallFiles {
		mode, err := parseMode(inf.Mode)
		if err != nil {
			return nil, err
		}
		if err := add(engine.NewInstallFileItem(base, l.resolve(inf.Source), inf.Dest, mode, inf.UserGroup)); err != nil {
			return nil, err
		}
	}
	for _, s := range f.SymlinksToDirs {
		if err := add(engine.NewSymlinkToDirItem(base, s.Source, s.Dest)); err != nil {
			return nil, err
		}
	}
	for _, s := range f.SymlinksToFiles {
		if err := add(engine.NewSymlinkToFileItem(base, s.Source, s.Dest)); err != nil {
			return nil, err
		}
	}
	for _, t := range f.Tarballs {
		if err := add(engine.NewTarballItem(base, l.resolve(t.Source), t.IntoDir, t.Hash, t.ForceRootOwnership)); err != nil {
			return nil, err
		}
	}
	for _, c := range f.Clones {
		if err := add(engine.NewCloneItem(base, c.SourceLayer, c.SourcePath, c.Dest, c.OmitOuterDir, c.PreExistingDest, opts)); err != nil {
			return nil, err
		}
	}
	for _, m := range f.Mounts {
		isDir := true
		if m.IsDirectory != nil {
			isDir = *m.IsDirectory
		}
		source := m.Source
		if m.SourceType == engine.MountSourceHost {
			source = l.resolve(source)
		}
		cfg := engine.MountConfig{
			Mountpoint:    m.Mountpoint,
			IsDirectory:   isDir,
			SourceType:    m.SourceType,
			Source:        source,
			RuntimeSource: m.RuntimeSource,
		}
		if err := add(engine.NewMountItem(base, cfg, opts)); err != nil {
			return nil, err
		}
	}
	for _, rp := range f.RemovePaths {
		if err := add(engine.NewRemovePathItem(base, rp.Path, engine.RemoveAction(rp.Action))); err != nil {
			return nil, err
		}
	}
	for _, r := range f.Rpms {
		source := ""
		if r.Source != "" {
			source = l.resolve(r.Source)
		}
		if err := add(engine.NewRpmActionItem(base, r.Name, source, engine.RpmAction(r.Action))); err != nil {
			return nil, err
		}
	}
	if f.RpmBuild != nil {
		if err := add(engine.NewRpmBuildItem(base, f.RpmBuild.RpmbuildDir)); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Sources lists the host files the layer reads, resolved. Watch mode
// re-plans when any of them changes.
func (l *LayerConfig) Sources() []string {
	var sources []string
	if l.ReceiveSendstream != "" {
		sources = append(sources, l.resolve(l.ReceiveSendstream))
	}
	for _, f := range l.Features {
		for _, inf := range f.InstallFiles {
			sources = append(sources, l.resolve(inf.Source))
		}
		for _, t := range f.Tarballs {
			sources = append(sources, l.resolve(t.Source))
		}
		for _, r := range f.Rpms {
			if r.Source != "" {
				sources = append(sources, l.resolve(r.Source))
			}
		}
	}
	return sources
}

func (l *LayerConfig) resolve(source string) string {
	if filepath.IsAbs(source) || l.Dir == "" {
		return source
	}
	return filepath.Join(l.Dir, source)
}

func parseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	mode, err := engine.ParseMode(s)
	if err != nil {
		return 0, engine.NewPermanentError(fmt.Sprintf("invalid mode %q", s), err).
			WithCode(engine.ErrCodeValidation)
	}
	return mode, nil
}
