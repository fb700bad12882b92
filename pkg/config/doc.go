// Package config loads layer files and turns them into engine items.
//
// # Overview
//
// A layer file names the layer being built, how its subvolume starts
// (empty, a snapshot of a parent layer, or a received sendstream), and the
// features contributing items to it. The same structure can be written in
// four formats:
//
//   - YAML (.yaml, .yml), decoded with gopkg.in/yaml.v3;
//   - JSON (.json);
//   - CUE (.cue or a package directory), closed over the #Layer schema;
//   - Starlark (.star), which must assign the global layer.
//
// Unknown fields are rejected in every format. After decoding, the
// LayerConfig is validated with go-playground/validator struct tags.
//
// # Components
//
//   - Loader: dispatches on the file extension and validates the result.
//   - CUEParser: compiles and unifies CUE sources, reporting errors with
//     file positions.
//   - SchemaRegistry: the built-in CUE definitions (#Layer, #Feature and
//     one per item kind); custom schemas can be registered.
//   - StarlarkEvaluator: runs scripts with a timeout and no load().
//
// # Usage
//
//	loader := config.NewLoader(logger)
//	layer, err := loader.LoadLayer(ctx, "images/base.yaml")
//	items, err := layer.Items(opts)
//
// A Starlark layer file:
//
//	layer = image_layer("//images:base", features = [
//	    feature("//features:etc", [
//	        make_dirs("/", "etc/app"),
//	        install_file("app.conf", "/etc/app/app.conf", mode = "0644"),
//	        remove_path("/var/log/dnf.log", action = "if_exists"),
//	    ]),
//	])
//
// Relative host sources (install_file, tarball and local RPM sources, the
// sendstream) resolve against the directory of the layer file.
//
// # Thread Safety
//
// A Loader may be shared; CUE evaluation is serialized inside the
// SchemaRegistry's context by the CUE runtime.
package config
