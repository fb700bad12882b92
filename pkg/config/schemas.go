package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. All values it hands
// out belong to its CUE context; callers unifying with them must compile
// in Context().
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// The built-in source only fails to compile if it is edited badly.
	for name, def := range builtinDefinitions {
		if err := sr.RegisterSchema(name, builtinLayerSchema, def); err != nil {
			panic(err)
		}
	}
}

// schemaFilePrefix marks schema sources in CUE error positions.
const schemaFilePrefix = "schema:"

// builtinDefinitions maps schema names to definitions in builtinLayerSchema.
var builtinDefinitions = map[string]string{
	"layer":        "#Layer",
	"feature":      "#Feature",
	"make_dirs":    "#MakeDirs",
	"install_file": "#InstallFile",
	"symlink":      "#Symlink",
	"tarball":      "#Tarball",
	"clone":        "#Clone",
	"mount":        "#Mount",
	"remove_path":  "#RemovePath",
	"rpm":          "#Rpm",
	"rpm_build":    "#RpmBuild",
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles schema and registers its definition def (e.g.
// "#Layer") under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(schemaFilePrefix+name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, def)
	}

	sr.schemas[name] = defVal
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify closes val over the named schema. The result carries any schema
// violation as its error.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	return schema.Unify(val), nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified, err := sr.Unify(schemaName, dataVal)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinLayerSchema = `
// Mode is octal ("0755") or additive symbolic clauses ("u+rwx,og+rx").
#Mode: =~"^([0-7]{1,4}|[ugoa]*[+][rwx]+(,[ugoa]*[+][rwx]+)*)$"

// UserGroup is "user:group" or "user".
#UserGroup: =~"^[^:]+(:[^:]+)?$"

#Layer: {
	// Layer is the target of the layer being built.
	layer: string & != ""

	parent_layer?:       string & != ""
	receive_sendstream?: string & != ""

	features?: [...#Feature]
}

#Feature: {
	target: string & != ""

	make_dirs?: [...#MakeDirs]
	install_files?: [...#InstallFile]
	symlinks_to_dirs?: [...#Symlink]
	symlinks_to_files?: [...#Symlink]
	tarballs?: [...#Tarball]
	clones?: [...#Clone]
	mounts?: [...#Mount]
	remove_paths?: [...#RemovePath]
	rpms?: [...#Rpm]
	rpm_build?: #RpmBuild
}

#MakeDirs: {
	into_dir:     string & != ""
	path_to_make: string & != ""
	mode?:        #Mode
	user_group?:  #UserGroup
}

#InstallFile: {
	source:      string & != ""
	dest:        string & != ""
	mode?:       #Mode
	user_group?: #UserGroup
}

#Symlink: {
	source: string & != ""
	dest:   string & != ""
}

#Tarball: {
	source:                string & != ""
	into_dir:              string & != ""
	hash?:                 =~"^(sha256|sha512):[0-9a-fA-F]+$"
	force_root_ownership?: bool
}

#Clone: {
	source_layer:       string & != ""
	source_path:        string & != ""
	dest:               string & != ""
	omit_outer_dir?:    bool
	pre_existing_dest?: bool
}

#Mount: {
	mountpoint:    string & != ""
	is_directory?: bool
	source_type:   "layer" | "host"
	source:        string & != ""
	runtime_source?: {...}
}

#RemovePath: {
	path:   string & != ""
	action: "if_exists" | "assert_exists"
}

#Rpm: {
	name?:   string & != ""
	source?: string & =~"[.]rpm$"
	action:  "install" | "remove_if_exists"
}

#RpmBuild: {
	rpmbuild_dir: string & != ""
}
`
