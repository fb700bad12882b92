package compiler

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/subvol"
)

// ArtifactsRequireRepoFile marks whether the layer's artifacts need the
// source repository at runtime: "1" or "0".
const ArtifactsRequireRepoFile = subvol.MetaDir + "/private/opts/artifacts_may_require_repo"

// writeLayerMeta ensures the metadata directory exists and records the
// layer options that outlive the build. A self-contained layer may not be
// built on a parent whose artifacts require the repository.
func writeLayerMeta(sv *subvol.Subvol, opts *engine.LayerOpts) error {
	if err := sv.EnsureMetaDir(); err != nil {
		return err
	}

	want := 0
	if opts.ArtifactsMayRequireRepo {
		want = 1
	}

	data, err := afero.ReadFile(sv.Fs(), subvol.FsPath(ArtifactsRequireRepoFile))
	switch {
	case err == nil:
		inherited, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			return engine.NewInternalError(fmt.Sprintf("malformed %s", ArtifactsRequireRepoFile), perr).
				WithResource(opts.LayerTarget)
		}
		if inherited > want {
			return engine.NewPermanentError(
				"self-contained layer cannot be built on a parent layer whose artifacts require the repository", nil,
			).WithCode(engine.ErrCodeValidation).WithResource(opts.LayerTarget)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read %s: %w", ArtifactsRequireRepoFile, err)
	}

	return sv.WriteFile(ArtifactsRequireRepoFile, []byte(fmt.Sprintf("%d\n", want)), 0o644)
}
