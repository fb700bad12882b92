package telemetry_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/fsimage/pkg/telemetry"
)

// Example_buildInstrumentation instruments a build with one phase and one
// item, printing the events it produces.
func Example_buildInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		if event.Target == "" {
			fmt.Println(event.Type)
			return
		}
		fmt.Println(event.Type, event.Target)
	}, telemetry.FilterByType(telemetry.EventTypePhaseCompleted, telemetry.EventTypeItemBuilt))

	ctx := tel.WithContext(context.Background())
	build := tel.StartBuild(ctx, "b-1", "//images:app")

	phase := tel.StartPhase(build.Ctx, "rpm_install", 2)
	tel.EndPhase(phase, "b-1", "//images:app", "rpm_install", 2, nil)

	item := tel.StartItem(build.Ctx, "install_file", "//features:etc")
	tel.EndItem(item, "b-1", "//images:app", "install_file", "//features:etc", nil)

	tel.EndBuild(build, "b-1", "//images:app", nil)
	// Output:
	// phase.completed
	// item.built //features:etc
}

// Example_eventFiltering subscribes to failures only.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelError))

	_ = tel.Events.PublishBuildStarted("b-2", "//images:app")
	_ = tel.Events.PublishPolicyViolation("//images:app", "//features:x", "world-writable", "mode 0777", false)
	_ = tel.Events.PublishBuildFailed("b-2", "//images:app", errors.New("cycle in item dependencies"))
	// Output: build.failed: cycle in item dependencies
}

// Example_configValidation shows a configuration error.
func Example_configValidation() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"

	fmt.Println(cfg.Validate())
	// Output: otlp trace exporter requires an endpoint
}
