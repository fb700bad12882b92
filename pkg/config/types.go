package config

import (
	"fmt"
	"time"
)

// LayerConfig is a parsed layer file: the layer being built, how its
// subvolume is created, and the features contributing items to it.
type LayerConfig struct {
	// Layer is the target of the layer being built.
	Layer string `json:"layer" yaml:"layer" validate:"required"`

	// ParentLayer, if set, is snapshotted as the starting point.
	ParentLayer string `json:"parent_layer,omitempty" yaml:"parent_layer,omitempty" validate:"excluded_with=ReceiveSendstream"`

	// ReceiveSendstream, if set, is a btrfs sendstream the layer starts from.
	ReceiveSendstream string `json:"receive_sendstream,omitempty" yaml:"receive_sendstream,omitempty"`

	// Features contribute the items of the layer.
	Features []FeatureConfig `json:"features,omitempty" yaml:"features,omitempty" validate:"dive"`

	// Dir is the directory relative host sources are resolved against.
	// Loaders set it to the directory of the layer file.
	Dir string `json:"-" yaml:"-"`
}

// FeatureConfig groups the items declared by one feature target.
type FeatureConfig struct {
	// Target identifies the feature; it becomes the provenance of its items.
	Target string `json:"target" yaml:"target" validate:"required"`

	MakeDirs        []MakeDirsConfig    `json:"make_dirs,omitempty" yaml:"make_dirs,omitempty" validate:"dive"`
	InstallFiles    []InstallFileConfig `json:"install_files,omitempty" yaml:"install_files,omitempty" validate:"dive"`
	SymlinksToDirs  []SymlinkConfig     `json:"symlinks_to_dirs,omitempty" yaml:"symlinks_to_dirs,omitempty" validate:"dive"`
	SymlinksToFiles []SymlinkConfig     `json:"symlinks_to_files,omitempty" yaml:"symlinks_to_files,omitempty" validate:"dive"`
	Tarballs        []TarballConfig     `json:"tarballs,omitempty" yaml:"tarballs,omitempty" validate:"dive"`
	Clones          []CloneConfig       `json:"clones,omitempty" yaml:"clones,omitempty" validate:"dive"`
	Mounts          []MountConfig       `json:"mounts,omitempty" yaml:"mounts,omitempty" validate:"dive"`
	RemovePaths     []RemovePathConfig  `json:"remove_paths,omitempty" yaml:"remove_paths,omitempty" validate:"dive"`
	Rpms            []RpmConfig         `json:"rpms,omitempty" yaml:"rpms,omitempty" validate:"dive"`
	RpmBuild        *RpmBuildConfig     `json:"rpm_build,omitempty" yaml:"rpm_build,omitempty"`
}

// MakeDirsConfig declares a make_dirs item.
type MakeDirsConfig struct {
	IntoDir    string `json:"into_dir" yaml:"into_dir" validate:"required"`
	PathToMake string `json:"path_to_make" yaml:"path_to_make" validate:"required"`

	// Mode is octal ("0755") or symbolic ("u+rwx,og+rx"). Default 0755.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,filemode"`

	// UserGroup is "user:group". Default root:root.
	UserGroup string `json:"user_group,omitempty" yaml:"user_group,omitempty"`
}

// InstallFileConfig declares an install_file item.
type InstallFileConfig struct {
	// Source is a host file or directory, relative to the layer file.
	Source string `json:"source" yaml:"source" validate:"required"`
	Dest   string `json:"dest" yaml:"dest" validate:"required"`
	Mode   string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,filemode"`

	UserGroup string `json:"user_group,omitempty" yaml:"user_group,omitempty"`
}

// SymlinkConfig declares a symlink_to_dir or symlink_to_file item. Both
// paths are image paths.
type SymlinkConfig struct {
	Source string `json:"source" yaml:"source" validate:"required"`
	Dest   string `json:"dest" yaml:"dest" validate:"required"`
}

// TarballConfig declares a tarball item.
type TarballConfig struct {
	Source  string `json:"source" yaml:"source" validate:"required"`
	IntoDir string `json:"into_dir" yaml:"into_dir" validate:"required"`

	// Hash is "sha256:<hex>" or "sha512:<hex>".
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty" validate:"omitempty,startswith=sha256:|startswith=sha512:"`

	ForceRootOwnership bool `json:"force_root_ownership,omitempty" yaml:"force_root_ownership,omitempty"`
}

// CloneConfig declares a clone item.
type CloneConfig struct {
	SourceLayer     string `json:"source_layer" yaml:"source_layer" validate:"required"`
	SourcePath      string `json:"source_path" yaml:"source_path" validate:"required"`
	Dest            string `json:"dest" yaml:"dest" validate:"required"`
	OmitOuterDir    bool   `json:"omit_outer_dir,omitempty" yaml:"omit_outer_dir,omitempty"`
	PreExistingDest bool   `json:"pre_existing_dest,omitempty" yaml:"pre_existing_dest,omitempty"`
}

// MountConfig declares a mount item.
type MountConfig struct {
	Mountpoint string `json:"mountpoint" yaml:"mountpoint" validate:"required"`

	// IsDirectory defaults to true.
	IsDirectory *bool `json:"is_directory,omitempty" yaml:"is_directory,omitempty"`

	SourceType string `json:"source_type" yaml:"source_type" validate:"required,oneof=layer host"`
	Source     string `json:"source" yaml:"source" validate:"required"`

	// RuntimeSource is passed through to the container runtime.
	RuntimeSource map[string]any `json:"runtime_source,omitempty" yaml:"runtime_source,omitempty"`
}

// RemovePathConfig declares a remove_path item.
type RemovePathConfig struct {
	Path   string `json:"path" yaml:"path" validate:"required"`
	Action string `json:"action" yaml:"action" validate:"required,oneof=if_exists assert_exists"`
}

// RpmConfig declares an RPM action by package name or local .rpm file.
type RpmConfig struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty" validate:"required_without=Source,excluded_with=Source"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Action string `json:"action" yaml:"action" validate:"required,oneof=install remove_if_exists"`
}

// RpmBuildConfig declares an rpm_build item.
type RpmBuildConfig struct {
	RpmbuildDir string `json:"rpmbuild_dir" yaml:"rpmbuild_dir" validate:"required"`
}

// ParsedLayer is the result of parsing layer sources.
type ParsedLayer struct {
	// Layer is nil when Errors is not empty.
	Layer *LayerConfig `json:"layer,omitempty"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "features.0.make_dirs").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the exported globals of the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
