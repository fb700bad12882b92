package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses CUE layer files and closes them over the #Layer schema.
type CUEParser struct {
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser(registry *SchemaRegistry) *CUEParser {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &CUEParser{schemaRegistry: registry}
}

// Parse parses CUE configuration from the given sources, which may be
// files or package directories. Values of all sources are unified.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedLayer, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var errs []ValidationError
		if info.IsDir() {
			var files []string
			val, files, errs = cp.loadDirectory(source)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs = cp.loadFile(source)
			sourceFiles = append(sourceFiles, source)
		}

		parseErrors = append(parseErrors, errs...)
		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedLayer{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractLayer(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedLayer, error) {
	val := cp.schemaRegistry.Context().CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedLayer{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}
	return cp.extractLayer(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:    dir,
			Message: "no CUE files found",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.schemaRegistry.Context().BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := cp.schemaRegistry.Context().CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractLayer closes val over #Layer and decodes it.
func (cp *CUEParser) extractLayer(val cue.Value, sourceFiles []string) *ParsedLayer {
	parsed := &ParsedLayer{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	unified, err := cp.schemaRegistry.Unify("layer", val)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{Message: err.Error()})
		return parsed
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		parsed.Errors = append(parsed.Errors, cp.convertCUEErrors(err)...)
		return parsed
	}

	var layer LayerConfig
	if err := unified.Decode(&layer); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message: fmt.Sprintf("failed to decode layer: %v", err),
		})
		return parsed
	}
	parsed.Layer = &layer
	return parsed
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		// Point at the layer file rather than the schema when possible.
		if pos := errors.Positions(e); len(pos) > 0 {
			p := pos[0]
			for _, candidate := range pos {
				if !strings.HasPrefix(candidate.Filename(), schemaFilePrefix) {
					p = candidate
					break
				}
			}
			file = p.Filename()
			line = p.Line()
			column = p.Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}

	return validationErrors
}

// ExportJSON renders a parsed layer as indented JSON.
func (cp *CUEParser) ExportJSON(layer *LayerConfig) ([]byte, error) {
	return json.MarshalIndent(layer, "", "  ")
}

// LoadFromDirectory lists the CUE files below dir.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}
