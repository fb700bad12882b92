package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fsimage/pkg/compiler"
)

// planPhase is one phase in the --json output of plan.
type planPhase struct {
	Phase string   `json:"phase"`
	Items []string `json:"items"`
}

// planSummary is the --json output of plan.
type planSummary struct {
	Layer    string      `json:"layer"`
	Phases   []planPhase `json:"phases"`
	Levels   [][]string  `json:"levels"`
	Warnings []string    `json:"warnings,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan <layer-file>",
		Short: "Show the build order of a layer",
		Long: `Validate a layer and print the order a build would use, without
creating or changing any subvolume.

Pool items are ordered against the parent layer when it is built, or
against an empty subvolume otherwise. Items on the same level do not
depend on each other; their relative order in a build is arbitrary.`,
		Example: `  # Print the build order
  fsimage plan images/app.yaml

  # Write the dependency graph in Graphviz format
  fsimage plan images/app.yaml --dot app.dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			result, err := a.compiler.Plan(ctx, compiler.PlanRequest{
				BuildRequest: compiler.BuildRequest{LayerFile: args[0]},
			})
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(result.DOT), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT graph: %w", err)
				}
				log.Info().Str("path", dotFile).Msg("Wrote dependency graph")
			}

			summary := planSummary{Layer: result.Layer}
			for _, phase := range result.Phases {
				summary.Phases = append(summary.Phases, planPhase{
					Phase: phase.Order.String(),
					Items: itemStrings(phase.Items),
				})
			}
			for _, level := range result.Levels {
				summary.Levels = append(summary.Levels, itemStrings(level))
			}
			if result.Policy != nil {
				for _, v := range result.Policy.Warnings {
					summary.Warnings = append(summary.Warnings, v.String())
				}
			}

			if jsonOutput {
				return printJSON(out, summary)
			}

			printSection(out, fmt.Sprintf("Plan for %s", summary.Layer))
			for _, phase := range summary.Phases {
				printLabelValue(out, phase.Phase, fmt.Sprintf("%d item(s)", len(phase.Items)))
				for _, item := range phase.Items {
					_, _ = dimColor.Fprintf(out, "    %s\n", item)
				}
			}
			for i, level := range summary.Levels {
				printLabelValue(out, fmt.Sprintf("Level %d", i), fmt.Sprintf("%d item(s)", len(level)))
				for _, item := range level {
					_, _ = dimColor.Fprintf(out, "    %s\n", item)
				}
			}
			printPolicyWarnings(out, result.Policy)
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph to this file in DOT format")

	return cmd
}
