package rpm

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/subvol"
)

// RpmbuildBuilder builds every spec file under <dir>/SPECS with rpmbuild.
type RpmbuildBuilder struct {
	logger zerolog.Logger
}

// NewRpmbuildBuilder creates a builder.
func NewRpmbuildBuilder(logger zerolog.Logger) *RpmbuildBuilder {
	return &RpmbuildBuilder{
		logger: logger.With().Str("component", "rpmbuild").Logger(),
	}
}

// BuildRpms runs rpmbuild once per spec, in name order. rpmbuildDir is the
// host path of a directory inside sv.
func (b *RpmbuildBuilder) BuildRpms(ctx context.Context, sv *subvol.Subvol, rpmbuildDir string) error {
	rel, err := filepath.Rel(sv.Path(), rpmbuildDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return engine.NewPermanentError("rpmbuild directory is outside the subvolume", err).
			WithCode(engine.ErrCodeValidation).WithResource(rpmbuildDir)
	}

	specs, err := afero.Glob(sv.Fs(), filepath.Join(subvol.FsPath(rel), "SPECS", "*.spec"))
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return engine.NewPermanentError("no spec files under SPECS", nil).
			WithCode(engine.ErrCodeNotFound).WithResource(rpmbuildDir)
	}
	sort.Strings(specs)

	for _, spec := range specs {
		specPath := sv.Path(spec)
		b.logger.Info().Str("spec", specPath).Msg("Building RPM")
		_, err := sv.RunAsRoot(ctx, "rpmbuild",
			"--define", "_topdir "+rpmbuildDir,
			"-ba", specPath,
		)
		if err != nil {
			return fmt.Errorf("rpmbuild of %s failed: %w", filepath.Base(spec), err)
		}
	}
	return nil
}
