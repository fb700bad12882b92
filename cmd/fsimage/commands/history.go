package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fsimage/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		layer string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds",
		Long: `List the builds recorded in the build journal, newest first.

Every build records its status and each step it ran: one step per phase
and one per pool item. Builds are never rolled back, so the journal is
where a failed build's partial state is explained.`,
		Example: `  # List recent builds
  fsimage history

  # List builds of one layer
  fsimage history --layer //images:app

  # Show the steps of a build
  fsimage history show 2b1f0c0e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var layerFilter *string
			if layer != "" {
				layerFilter = &layer
			}
			builds, err := store.ListBuilds(ctx, layerFilter, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list builds: %w", err)
			}

			if jsonOutput {
				return printJSON(out, builds)
			}
			if len(builds) == 0 {
				fmt.Fprintln(out, "No builds recorded")
				return nil
			}
			printSection(out, "Builds")
			for _, b := range builds {
				printBuildLine(out, b)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "only list builds of this layer target")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of builds to list")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <build-id>",
		Short: "Show a build and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			build, err := store.GetBuild(ctx, args[0])
			if err != nil {
				return err
			}
			steps, err := store.ListBuildSteps(ctx, build.ID)
			if err != nil {
				return fmt.Errorf("failed to list steps: %w", err)
			}

			if jsonOutput {
				return printJSON(out, map[string]interface{}{"build": build, "steps": steps})
			}

			printSection(out, fmt.Sprintf("Build %s", build.ID))
			printLabelValue(out, "Layer", build.Layer)
			printLabelValue(out, "Subvolume", build.Subvolume)
			printLabelValue(out, "Status", string(build.Status))
			printLabelValue(out, "Started", fmt.Sprintf("%s (%s)", build.StartedAt.Local().Format(time.RFC3339), humanize.Time(build.StartedAt)))
			if build.CompletedAt != nil {
				printLabelValue(out, "Duration", build.CompletedAt.Sub(build.StartedAt).Round(time.Millisecond).String())
			}
			if build.Error != nil {
				printLabelValue(out, "Error", *build.Error)
			}

			printSection(out, "Steps")
			for _, s := range steps {
				line := fmt.Sprintf("%3d %-12s %-18s %s", s.Seq, s.Phase, s.Kind, s.Provenance)
				switch s.Status {
				case stores.StepStatusCompleted:
					printSuccess(out, line)
				case stores.StepStatusFailed:
					printError(out, line)
					if s.Error != nil {
						_, _ = dimColor.Fprintf(out, "      %s\n", *s.Error)
					}
				default:
					printWarning(out, line+" (interrupted)")
				}
			}
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old builds from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			before := time.Now().Add(-olderThan)
			deleted, err := store.DeleteBuildsBefore(ctx, before)
			if err != nil {
				return fmt.Errorf("failed to prune builds: %w", err)
			}
			log.Info().Int64("deleted", deleted).Time("before", before).Msg("Pruned build journal")
			printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Deleted %s build(s)", humanize.Comma(deleted)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete builds started longer ago than this")

	return cmd
}

func printBuildLine(w io.Writer, b *stores.Build) {
	line := fmt.Sprintf("%s  %-30s %s", b.ID, b.Layer, humanize.Time(b.StartedAt))
	switch b.Status {
	case stores.BuildStatusCompleted:
		printSuccess(w, line)
	case stores.BuildStatusFailed:
		printError(w, line)
	default:
		printWarning(w, line+" (running or interrupted)")
	}
}
