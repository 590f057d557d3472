// Package tracing provides OpenTelemetry tracing helpers for the sparx server.
package tracing

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for all spans.
const TracerName = "github.com/stusseligmini/FionaSparx-sub000"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string  // OTLP/HTTP host:port
	SampleRate  float64 // 0.0 to 1.0
}

// DefaultConfig returns the default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "sparx",
		Endpoint:    "localhost:4318",
		SampleRate:  1.0,
	}
}

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer(TracerName)
}

// GetTracer returns the package tracer.
func GetTracer() trace.Tracer {
	return tracer
}

// SetTracer sets a custom tracer (useful for testing).
func SetTracer(t trace.Tracer) {
	tracer = t
}

// Span attributes.
var (
	AttrWorkflowID  = attribute.Key("sparx.workflow.id")
	AttrExecID      = attribute.Key("sparx.execution.id")
	AttrExecStatus  = attribute.Key("sparx.execution.status")
	AttrAttempt     = attribute.Key("sparx.execution.attempt")
	AttrPriority    = attribute.Key("sparx.workflow.priority")
	AttrEndpointID  = attribute.Key("sparx.webhook.endpoint")
	AttrEventID     = attribute.Key("sparx.webhook.event_id")
	AttrPlatform    = attribute.Key("sparx.timing.platform")
	AttrContentType = attribute.Key("sparx.timing.content_type")
)

// StartAttemptSpan starts a span around one workflow attempt.
func StartAttemptSpan(ctx context.Context, workflowID, execID string, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.attempt",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrWorkflowID.String(workflowID),
			AttrExecID.String(execID),
			AttrAttempt.Int(attempt),
		),
	)
}

// StartTickSpan starts a span for an orchestrator loop tick.
func StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.tick",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartWebhookSpan starts a server span for an ingress event.
func StartWebhookSpan(ctx context.Context, endpointID, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "webhook.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrEndpointID.String(endpointID),
			AttrEventID.String(eventID),
		),
	)
}

// StartRecommendationSpan starts a span for a timing recommendation.
func StartRecommendationSpan(ctx context.Context, platform, contentType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "timing.recommend",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrPlatform.String(platform),
			AttrContentType.String(contentType),
		),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddExecutionAttributes adds outcome attributes to an attempt span.
func AddExecutionAttributes(span trace.Span, status string, duration time.Duration) {
	span.SetAttributes(
		AttrExecStatus.String(status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)
}

// Propagator returns the context propagator for distributed tracing.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// ExtractHTTP pulls an upstream trace context out of request headers.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return Propagator().Extract(ctx, propagation.HeaderCarrier(h))
}
