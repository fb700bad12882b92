package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Build statuses used in metrics and span attributes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Telemetry combines logging, tracing, metrics, and build events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.ResourceAttributes)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that records nothing.
func NewNop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  NopTracer(),
		Metrics: &Metrics{config: cfg.Metrics},
		Events:  &EventPublisher{config: cfg.Events},
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown delivers pending events and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() (*http.Server, error) {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries the span, logger, and timer of one build,
// phase, or item.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

func (t *Telemetry) instrument(ctx context.Context, span trace.Span, logger *Logger) *InstrumentedContext {
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}
	return &InstrumentedContext{
		Ctx:    logger.WithContext(ctx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// StartBuild opens the span of a layer build and records its start.
func (t *Telemetry) StartBuild(ctx context.Context, buildID, layer string) *InstrumentedContext {
	ctx, span := t.Tracer.StartBuildSpan(ctx, buildID, layer)
	ic := t.instrument(ctx, span, t.Logger.WithBuildID(buildID).WithLayer(layer))

	t.Metrics.RecordBuildStarted()
	if err := t.Events.PublishBuildStarted(buildID, layer); err != nil {
		ic.Logger.WithError(err).Warn("Failed to publish event")
	}
	return ic
}

// EndBuild closes a build opened by StartBuild.
func (t *Telemetry) EndBuild(ic *InstrumentedContext, buildID, layer string, err error) {
	duration := ic.Timer.Duration()
	status := StatusCompleted
	var pubErr error
	if err != nil {
		status = StatusFailed
		pubErr = t.Events.PublishBuildFailed(buildID, layer, err)
	} else {
		pubErr = t.Events.PublishBuildCompleted(buildID, layer, duration)
	}
	if pubErr != nil {
		ic.Logger.WithError(pubErr).Warn("Failed to publish event")
	}

	t.Metrics.RecordBuildCompleted(status, duration)
	ic.Span.SetAttributes(AttrBuildStatus.String(status))
	EndSpan(ic.Span, err)
}

// StartPhase opens the span of a phase.
func (t *Telemetry) StartPhase(ctx context.Context, phase string, items int) *InstrumentedContext {
	ctx, span := t.Tracer.StartPhaseSpan(ctx, phase, items)
	return t.instrument(ctx, span, FromContext(ctx).WithField("phase", phase))
}

// EndPhase closes a phase opened by StartPhase.
func (t *Telemetry) EndPhase(ic *InstrumentedContext, buildID, layer, phase string, items int, err error) {
	t.Metrics.RecordPhase(phase, ic.Timer.Duration())
	if err == nil {
		if pubErr := t.Events.PublishPhaseCompleted(buildID, layer, phase, items); pubErr != nil {
			ic.Logger.WithError(pubErr).Warn("Failed to publish event")
		}
	}
	EndSpan(ic.Span, err)
}

// StartItem opens the span of a pool item.
func (t *Telemetry) StartItem(ctx context.Context, kind, target string) *InstrumentedContext {
	ctx, span := t.Tracer.StartItemSpan(ctx, kind, target)
	return t.instrument(ctx, span, FromContext(ctx).WithItem(kind, target))
}

// EndItem closes an item opened by StartItem.
func (t *Telemetry) EndItem(ic *InstrumentedContext, buildID, layer, kind, target string, err error) {
	status := StatusCompleted
	var pubErr error
	if err != nil {
		status = StatusFailed
		pubErr = t.Events.PublishItemFailed(buildID, layer, kind, target, err)
	} else {
		pubErr = t.Events.PublishItemBuilt(buildID, layer, kind, target)
	}
	if pubErr != nil {
		ic.Logger.WithError(pubErr).Warn("Failed to publish event")
	}

	t.Metrics.RecordItem(kind, status, ic.Timer.Duration())
	EndSpan(ic.Span, err)
}
