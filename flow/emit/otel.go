package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// Span name is event.Msg. Standard attributes use the "stepflow." prefix
// (run_id, step, step_id, kind); Meta entries are attached under their own
// key. A string Meta["error"] marks the span as failed.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	engine, _ := flow.New(reg, flow.WithEmitter(emit.NewOTelEmitter(otel.Tracer("stepflow"))))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records a point-in-time span for event. When Meta["duration_ms"]
// is present the span is back-dated to cover the step's execution.
func (o *OTelEmitter) Emit(event Event) {
	o.record(context.Background(), event)
}

// EmitBatch records one span per event using ctx as the parent.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		o.record(ctx, event)
	}
	return nil
}

// Flush forces export of buffered spans when the global provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) record(ctx context.Context, event Event) {
	end := time.Now()
	start := end
	if d, ok := durationOf(event.Meta["duration_ms"]); ok {
		start = end.Add(-d)
	}

	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("stepflow.run_id", event.RunID),
		attribute.Int("stepflow.step", event.Step),
		attribute.String("stepflow.step_id", event.StepID),
		attribute.String("stepflow.kind", event.Kind),
	)
	for key, value := range event.Meta {
		span.SetAttributes(toAttribute(key, value))
	}
	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End(trace.WithTimestamp(end))
}

func durationOf(v interface{}) (time.Duration, bool) {
	switch d := v.(type) {
	case int64:
		return time.Duration(d) * time.Millisecond, true
	case int:
		return time.Duration(d) * time.Millisecond, true
	case float64:
		return time.Duration(d * float64(time.Millisecond)), true
	case time.Duration:
		return d, true
	}
	return 0, false
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, int64(v/time.Millisecond))
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
