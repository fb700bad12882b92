package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	subvolumesDir        string
	stateDB              string
	logLevel             string
	jsonOutput           bool
	policyPaths          []string
	targetPaths          []string
	buildAppliance       string
	rpmInstaller         string
	allowHostMountsUnder []string
	metricsAddr          string
	traceExporter        string
	otlpEndpoint         string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "fsimage",
		Short: "fsimage - declarative filesystem image compiler",
		Long: `fsimage builds filesystem image layers into btrfs subvolumes from
declarative layer files (YAML, JSON, CUE or Starlark).

A layer is built in two stages:
  - Phases: create the subvolume (empty, parent snapshot or sendstream),
    remove and install RPMs, build RPMs, remove paths
  - Pool: every other item, ordered so that each item runs after the
    items providing the paths it requires

All configuration errors are reported before the subvolume is touched.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&subvolumesDir, "subvolumes-dir", "/var/lib/fsimage/subvolumes", "directory holding built subvolumes")
	flags.StringVar(&stateDB, "state-db", "", "build journal database (default: <subvolumes-dir>/.fsimage.db)")
	flags.StringVar(&logLevel, "log-level", defaultLevel, "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringSliceVar(&policyPaths, "policy", nil, "additional Rego policy files or directories")
	flags.StringSliceVar(&targetPaths, "target-path", nil, "explicit subvolume path of a layer, as target=path")
	flags.StringVar(&buildAppliance, "build-appliance", "", "layer whose installer runs the RPM phases")
	flags.StringVar(&rpmInstaller, "installer", "dnf", "RPM installer (dnf or yum)")
	flags.StringSliceVar(&allowHostMountsUnder, "allow-host-mounts-under", nil, "target prefixes allowed to declare host mounts")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for the otlp trace exporter")

	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
