package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fsimage/pkg/compiler"
)

// buildSummary is the --json output of a successful build.
type buildSummary struct {
	BuildID   string   `json:"build_id"`
	Layer     string   `json:"layer"`
	Subvolume string   `json:"subvolume"`
	Phases    []string `json:"phases"`
	Items     []string `json:"items"`
}

func newBuildCommand() *cobra.Command {
	var subvolume string

	cmd := &cobra.Command{
		Use:   "build <layer-file>",
		Short: "Build a layer into a new subvolume",
		Long: `Build a layer into a new subvolume under --subvolumes-dir.

The build:
  - Loads the layer file and evaluates policies over its items
  - Validates every phase and fails before touching the filesystem on any
    configuration error
  - Builds the phases, then the pool items one at a time in dependency order
  - Records the build and each step in the build journal

A failed build is not rolled back; 'fsimage history show' lists the step
that failed.`,
		Example: `  # Build a layer
  fsimage build images/app.yaml

  # Build on top of layers at explicit paths
  fsimage build images/app.cue --target-path //images:base=/mnt/base

  # Stream build events as JSON lines
  fsimage build images/app.star --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			a.tel.Events.Subscribe(progressPrinter(out), nil)

			log.Debug().Str("layer_file", args[0]).Str("subvolumes_dir", subvolumesDir).Msg("Building layer")
			result, err := a.compiler.Build(ctx, compiler.BuildRequest{LayerFile: args[0], Subvolume: subvolume})
			if result != nil && !jsonOutput {
				printPolicyWarnings(out, result.Policy)
			}
			if err != nil {
				if result != nil && result.BuildID != "" {
					return fmt.Errorf("build %s failed: %w", result.BuildID, err)
				}
				return err
			}

			summary := buildSummary{
				BuildID:   result.BuildID,
				Layer:     result.Layer,
				Subvolume: result.Subvolume.Path(),
				Items:     itemStrings(result.Items),
			}
			for _, phase := range result.Phases {
				summary.Phases = append(summary.Phases, phase.String())
			}

			if jsonOutput {
				return json.NewEncoder(out).Encode(summary)
			}
			printSuccess(out, fmt.Sprintf("Built %s", summary.Layer))
			printLabelValue(out, "Subvolume", summary.Subvolume)
			printLabelValue(out, "Build ID", summary.BuildID)
			printLabelValue(out, "Items", fmt.Sprintf("%d in %d phase(s) and the pool", len(summary.Items), len(summary.Phases)))
			return nil
		},
	}

	cmd.Flags().StringVar(&subvolume, "subvolume", "", "subvolume directory name (default: derived from the layer target)")

	return cmd
}
