package config

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// itemBuiltin describes a Starlark builtin declaring one feature item.
type itemBuiltin struct {
	name string

	// field is the FeatureConfig list the item is appended to.
	field string

	// params are UnpackArgs parameter names; a "?" suffix marks optional.
	params []string

	// defaults are fields set unless an argument overrides them.
	defaults map[string]string
}

var itemBuiltins = []itemBuiltin{
	{name: "make_dirs", field: "make_dirs", params: []string{"into_dir", "path_to_make", "mode?", "user_group?"}},
	{name: "install_file", field: "install_files", params: []string{"source", "dest", "mode?", "user_group?"}},
	{name: "symlink_to_dir", field: "symlinks_to_dirs", params: []string{"source", "dest"}},
	{name: "symlink_to_file", field: "symlinks_to_files", params: []string{"source", "dest"}},
	{name: "tarball", field: "tarballs", params: []string{"source", "into_dir", "hash?", "force_root_ownership?"}},
	{name: "clone", field: "clones", params: []string{"source_layer", "source_path", "dest", "omit_outer_dir?", "pre_existing_dest?"}},
	{name: "mount", field: "mounts", params: []string{"mountpoint", "source_type", "source", "is_directory?", "runtime_source?"}},
	{
		name:     "remove_path",
		field:    "remove_paths",
		params:   []string{"path", "action?"},
		defaults: map[string]string{"action": "assert_exists"},
	},
	{
		name:     "rpm_install",
		field:    "rpms",
		params:   []string{"name?", "source?"},
		defaults: map[string]string{"action": "install"},
	},
	{
		name:     "rpm_remove_if_exists",
		field:    "rpms",
		params:   []string{"name"},
		defaults: map[string]string{"action": "remove_if_exists"},
	},
	{name: "rpm_build", field: "rpm_build", params: []string{"rpmbuild_dir"}},
}

// layerBuiltins returns the predeclared functions of layer scripts:
//
//	layer = image_layer("//images:base", features = [
//	    feature("//features:etc", [
//	        make_dirs("/", "etc/app", mode = "0755"),
//	        rpm_install("cat"),
//	    ]),
//	])
func layerBuiltins() starlark.StringDict {
	fields := make(map[string]string, len(itemBuiltins))
	predeclared := starlark.StringDict{}
	for _, ib := range itemBuiltins {
		fields[ib.name] = ib.field
		predeclared[ib.name] = starlark.NewBuiltin(ib.name, ib.call)
	}
	predeclared["feature"] = starlark.NewBuiltin("feature", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return buildFeature(b, args, kwargs, fields)
	})
	predeclared["image_layer"] = starlark.NewBuiltin("image_layer", buildImageLayer)
	return predeclared
}

func (ib itemBuiltin) call(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	values := make([]starlark.Value, len(ib.params))
	pairs := make([]interface{}, 0, 2*len(ib.params))
	for i, p := range ib.params {
		pairs = append(pairs, p, &values[i])
	}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, pairs...); err != nil {
		return nil, err
	}

	item := starlark.StringDict{}
	for k, v := range ib.defaults {
		item[k] = starlark.String(v)
	}
	for i, p := range ib.params {
		if values[i] == nil || values[i] == starlark.None {
			continue
		}
		item[strings.TrimSuffix(p, "?")] = values[i]
	}
	return starlarkstruct.FromStringDict(starlark.String(ib.name), item), nil
}

func buildFeature(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, fields map[string]string) (starlark.Value, error) {
	var target string
	var items *starlark.List
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target, "items?", &items); err != nil {
		return nil, err
	}

	lists := map[string]*starlark.List{}
	feature := starlark.StringDict{"target": starlark.String(target)}
	if items == nil {
		return starlarkstruct.FromStringDict(starlark.String("feature"), feature), nil
	}

	for i := range items.Len() {
		s, ok := items.Index(i).(*starlarkstruct.Struct)
		if !ok {
			return nil, fmt.Errorf("%s: item %d is a %s, not an item", b.Name(), i, items.Index(i).Type())
		}
		kind, _ := s.Constructor().(starlark.String)
		field, ok := fields[string(kind)]
		if !ok {
			return nil, fmt.Errorf("%s: item %d is a %s struct, not an item", b.Name(), i, s.Constructor())
		}

		if field == "rpm_build" {
			if _, dup := feature[field]; dup {
				return nil, fmt.Errorf("%s: %s declares rpm_build twice", b.Name(), target)
			}
			feature[field] = s
			continue
		}
		if lists[field] == nil {
			lists[field] = starlark.NewList(nil)
			feature[field] = lists[field]
		}
		if err := lists[field].Append(s); err != nil {
			return nil, err
		}
	}
	return starlarkstruct.FromStringDict(starlark.String("feature"), feature), nil
}

func buildImageLayer(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, parent, sendstream string
	var features *starlark.List
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "features?", &features, "parent_layer?", &parent, "receive_sendstream?", &sendstream,
	); err != nil {
		return nil, err
	}

	layer := starlark.StringDict{"layer": starlark.String(name)}
	if features != nil {
		layer["features"] = features
	}
	if parent != "" {
		layer["parent_layer"] = starlark.String(parent)
	}
	if sendstream != "" {
		layer["receive_sendstream"] = starlark.String(sendstream)
	}
	return starlarkstruct.FromStringDict(starlark.String("layer"), layer), nil
}
