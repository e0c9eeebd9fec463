package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and notifications.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

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

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
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

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops notification delivery and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// WithDepositContext enriches ctx with a deposit span and a deposit-scoped logger.
// The returned function ends the span.
func WithDepositContext(ctx context.Context, operation, depositID string) (context.Context, func(error)) {
	logger := FromContext(ctx).WithDepositID(depositID)
	ctx = logger.WithContext(ctx)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}

	spanCtx, span := tel.Tracer.StartDepositSpan(ctx, operation, depositID)
	return spanCtx, func(err error) {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

// WithPhaseContext enriches ctx with a phase span and logger. The returned function
// ends the span and records phase metrics under status.
func WithPhaseContext(ctx context.Context, depositID string, phase int) (context.Context, func(status string, err error)) {
	logger := FromContext(ctx).WithPhase(phase)
	ctx = logger.WithContext(ctx)
	timer := NewTimer()

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(string, error) {}
	}

	spanCtx, span := tel.Tracer.StartPhaseSpan(ctx, depositID, phase)
	return spanCtx, func(status string, err error) {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()

		duration := timer.Duration()
		tel.Metrics.RecordPhaseExecution(phase, status, duration)
		if err == nil && status == "succeeded" {
			_ = tel.Events.PublishPhaseCompleted(depositID, phase, duration)
		}
	}
}

// RecordServiceExecution runs fn inside a service span, recording call and error
// metrics. The context passed to fn carries the span and a service-scoped logger.
func RecordServiceExecution(ctx context.Context, serviceID string, fn func(ctx context.Context) error) error {
	ctx = FromContext(ctx).WithService(serviceID).WithContext(ctx)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartServiceSpan(ctx, serviceID)
	defer span.End()

	timer := NewTimer()
	err := fn(spanCtx)
	tel.Metrics.RecordServiceCall(serviceID, timer.Duration())
	if err != nil {
		tel.Metrics.RecordServiceError(serviceID)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}

// ClassifiedError is implemented by errors carrying a class and code.
type ClassifiedError interface {
	error
	ErrorClass() string
	ErrorCode() string
}

// RecordErrorMetrics counts err by class and code when it is classified.
func RecordErrorMetrics(ctx context.Context, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil || err == nil {
		return
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		tel.Metrics.RecordError(ce.ErrorClass(), ce.ErrorCode())
		return
	}
	tel.Metrics.RecordError("unclassified", "")
}

