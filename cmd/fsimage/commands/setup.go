package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/fsimage/pkg/compiler"
	"github.com/openfroyo/fsimage/pkg/config"
	"github.com/openfroyo/fsimage/pkg/policy"
	"github.com/openfroyo/fsimage/pkg/rpm"
	"github.com/openfroyo/fsimage/pkg/stores"
	"github.com/openfroyo/fsimage/pkg/subvol"
	"github.com/openfroyo/fsimage/pkg/telemetry"
)

// app holds everything a command needs to build or plan layers.
type app struct {
	tel      *telemetry.Telemetry
	policies *policy.Engine
	store    *stores.SQLiteStore
	compiler *compiler.Compiler
	metrics  *http.Server
}

// newApp wires the compiler from the global flags. With journal set the
// build journal is opened and every build is recorded in it.
func newApp(ctx context.Context, journal bool) (*app, error) {
	targetToPath, err := parseTargetPaths(targetPaths)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(policyPaths) > 0 {
		if err := policies.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	a := &app{tel: tel, policies: policies}

	deps := compiler.Dependencies{
		Loader:    config.NewLoader(logger),
		Policies:  policies,
		Telemetry: tel,
		Logger:    logger,
	}
	if journal {
		store, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		a.store = store
		deps.Journal = stores.NewJournal(store)
	}

	runner := subvol.NewExecRunner(logger)
	deps.Runner = runner
	deps.Rpm = rpm.NewDnfExecutor(logger)
	deps.RpmInspect = rpm.NewInspector(runner)
	deps.RpmBuild = rpm.NewRpmbuildBuilder(logger)

	a.compiler = compiler.New(compiler.Options{
		SubvolumesDir:           subvolumesDir,
		TargetToPath:            targetToPath,
		BuildAppliance:          buildAppliance,
		RpmInstaller:            rpmInstaller,
		AllowedHostMountTargets: allowHostMountsUnder,
	}, deps)

	a.metrics, err = tel.StartMetricsServer()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return a, nil
}

// Close flushes telemetry and closes the journal.
func (a *app) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close build journal")
		}
	}
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Logging.Level = logLevel
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	cfg.Tracing.Enabled = traceExporter != "none"
	cfg.Tracing.Exporter = traceExporter
	cfg.Tracing.Endpoint = otlpEndpoint
	cfg.Metrics.ListenAddress = metricsAddr
	return cfg
}

// openStore opens and migrates the build journal.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := stateDB
	if path == "" {
		path = filepath.Join(subvolumesDir, ".fsimage.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open build journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate build journal: %w", err)
	}
	return store, nil
}

// parseTargetPaths parses target=path pairs.
func parseTargetPaths(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		target, path, ok := strings.Cut(pair, "=")
		if !ok || target == "" || path == "" {
			return nil, fmt.Errorf("invalid --target-path %q: expected target=path", pair)
		}
		if _, dup := out[target]; dup {
			return nil, fmt.Errorf("duplicate --target-path for %s", target)
		}
		out[target] = path
	}
	return out, nil
}
