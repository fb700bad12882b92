// Package telemetry provides logging, tracing, metrics, and build events
// for the image compiler.
//
//  1. Structured logging with zerolog, with build, layer, and item fields
//  2. OpenTelemetry spans per build, per phase, and per item, exported to
//     stdout or an OTLP gRPC collector
//  3. Prometheus metrics in a private registry: builds started and
//     completed, phase and item durations, validation failures by error
//     code, and policy violations
//  4. Build events delivered to subscribers in publishing order
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	build := tel.StartBuild(tel.WithContext(ctx), buildID, layer)
//	err = run(build.Ctx)
//	tel.EndBuild(build, buildID, layer, err)
//
// Library packages take a zerolog.Logger; pass a component logger:
//
//	eng, err := policy.NewEngine(tel.Logger.NewComponentLogger("policy").Zerolog())
//
// NewNop returns telemetry that records nothing, for tests and for
// callers that do not care.
package telemetry
