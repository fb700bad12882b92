package policy

import (
	"github.com/openfroyo/fsimage/pkg/engine"
)

// itemDocument renders an item for Rego. Paths are image-absolute
// ("/etc/app"), except path_to_make which is relative to into_dir. Modes
// are permission bits as integers.
func itemDocument(item engine.Item) map[string]interface{} {
	doc := map[string]interface{}{
		"kind":        item.Kind(),
		"from_target": item.Provenance(),
		"phase":       item.Phase().String(),
	}

	switch i := item.(type) {
	case engine.MakeDirsItem:
		doc["into_dir"] = i.IntoDir.String()
		doc["path_to_make"] = string(i.PathToMake)
		doc["mode"] = int(i.Mode.Perm())
		doc["user_group"] = i.UserGroup
	case engine.InstallFileItem:
		doc["source"] = i.Source
		doc["dest"] = i.Dest.String()
		doc["mode"] = int(i.Mode.Perm())
		doc["user_group"] = i.UserGroup
	case engine.SymlinkToDirItem:
		doc["source"] = i.Source.String()
		doc["dest"] = i.Dest.String()
	case engine.SymlinkToFileItem:
		doc["source"] = i.Source.String()
		doc["dest"] = i.Dest.String()
	case engine.TarballItem:
		doc["source"] = i.Source
		doc["into_dir"] = i.IntoDir.String()
		doc["hash"] = i.Hash
		doc["force_root_ownership"] = i.ForceRootOwnership
	case engine.CloneItem:
		doc["source_layer"] = i.SourceLayer
		doc["source_path"] = i.SourcePath.String()
		doc["dest"] = i.Dest.String()
	case engine.MountItem:
		doc["mountpoint"] = i.Mountpoint.String()
		doc["is_directory"] = i.IsDirectory
		doc["source_type"] = i.SourceType
		doc["source"] = i.Source
	case engine.RemovePathItem:
		doc["path"] = i.Path.String()
		doc["action"] = string(i.Action)
	case engine.RpmActionItem:
		doc["name"] = i.Name
		doc["source"] = i.Source
		doc["action"] = string(i.Action)
	case engine.RpmBuildItem:
		doc["rpmbuild_dir"] = i.RpmbuildDir.String()
	case engine.ParentLayerItem:
		doc["parent"] = i.Parent
	case engine.ReceiveSendstreamItem:
		doc["source"] = i.Source
	}
	return doc
}

func layerDocument(opts *engine.LayerOpts) LayerInput {
	allowed := opts.AllowedHostMountTargets
	if allowed == nil {
		allowed = []string{}
	}
	return LayerInput{
		Target:                  opts.LayerTarget,
		AllowedHostMountTargets: allowed,
		RpmInstaller:            opts.RpmInstaller,
		BuildAppliance:          opts.BuildAppliance,
	}
}
