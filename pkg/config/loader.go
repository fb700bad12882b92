package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/fsimage/pkg/engine"
)

// Loader reads layer files in any of the supported formats.
type Loader struct {
	logger    zerolog.Logger
	cue       *CUEParser
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader(logger zerolog.Logger) *Loader {
	logger = logger.With().Str("component", "config").Logger()
	return &Loader{
		logger:    logger,
		cue:       NewCUEParser(NewSchemaRegistry()),
		starlark:  NewStarlarkEvaluator(30*time.Second, logger),
		validator: newValidator(),
	}
}

// LoadLayer loads a layer file with a default loader.
func LoadLayer(ctx context.Context, path string) (*LayerConfig, error) {
	return NewLoader(zerolog.Nop()).LoadLayer(ctx, path)
}

// LoadLayer reads the layer at path. The format follows the extension:
// .yaml/.yml, .json, .cue or .star; a directory is loaded as a CUE
// package. Relative host sources resolve against the file's directory.
func (l *Loader) LoadLayer(ctx context.Context, path string) (*LayerConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, engine.NewPermanentError("cannot read layer file", err).
			WithCode(engine.ErrCodeNotFound).WithResource(path)
	}

	var layer *LayerConfig
	dir := filepath.Dir(abs)
	switch ext := strings.ToLower(filepath.Ext(abs)); {
	case info.IsDir():
		dir = abs
		layer, err = l.loadCUE(ctx, abs)
	case ext == ".cue":
		layer, err = l.loadCUE(ctx, abs)
	case ext == ".yaml" || ext == ".yml":
		layer, err = l.loadYAML(abs)
	case ext == ".json":
		layer, err = l.loadJSON(abs)
	case ext == ".star" || ext == ".bzl":
		layer, err = l.loadStarlark(ctx, abs)
	default:
		return nil, engine.NewPermanentError(fmt.Sprintf("unsupported layer file extension %q", ext), nil).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}
	if err != nil {
		return nil, engine.NewPermanentError("invalid layer file", err).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}

	if err := l.Validate(layer); err != nil {
		return nil, engine.NewPermanentError("invalid layer file", err).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}
	layer.Dir = dir

	l.logger.Debug().
		Str("path", path).
		Str("layer", layer.Layer).
		Int("features", len(layer.Features)).
		Msg("Loaded layer")
	return layer, nil
}

// Validate checks a layer against its struct tags.
func (l *Loader) Validate(layer *LayerConfig) error {
	if err := l.validator.Struct(layer); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func (l *Loader) loadYAML(path string) (*LayerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layer LayerConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&layer); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return &layer, nil
}

func (l *Loader) loadJSON(path string) (*LayerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data)
}

func (l *Loader) loadCUE(ctx context.Context, path string) (*LayerConfig, error) {
	parsed, err := l.cue.Parse(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, validationErrors(parsed.Errors)
	}
	return parsed.Layer, nil
}

func (l *Loader) loadStarlark(ctx context.Context, path string) (*LayerConfig, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	result, err := l.starlark.Evaluate(ctx, path, string(script), nil)
	if err != nil {
		return nil, err
	}

	out, ok := result.Output["layer"]
	if !ok {
		return nil, fmt.Errorf("%s does not assign layer", path)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to convert layer: %w", err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (*LayerConfig, error) {
	var layer LayerConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&layer); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return &layer, nil
}

func validationErrors(errs []ValidationError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return errors.New(strings.Join(msgs, "; "))
}

// newValidator registers the layer file validations on top of the
// validator defaults.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		_, err := engine.ParseMode(fl.Field().String())
		return err == nil
	})
	return v
}
