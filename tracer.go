package labflow

import "context"

// Tracer creates spans for tracing step invocations and next-call
// transitions. The observer package provides an OTEL-backed
// implementation via NewTracer(). When no Tracer is configured, span
// creation is skipped (nil check).
type Tracer interface {
	// Start creates a new span with the given name and optional attributes.
	// Returns a child context carrying the span and the span itself.
	// Callers must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation. Callers must call End() when the
// operation completes to flush the span to the configured exporter.
type Span interface {
	// SetAttr adds attributes to the span after creation.
	SetAttr(attrs ...SpanAttr)
	// Event records a named event (annotation) on the span timeline.
	Event(name string, attrs ...SpanAttr)
	// Error records an error on the span and marks it as failed.
	Error(err error)
	// End completes the span. Must be called exactly once.
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr creates a string-typed span attribute.
func StringAttr(k, v string) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

// IntAttr creates an int-typed span attribute.
func IntAttr(k string, v int) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

// BoolAttr creates a bool-typed span attribute.
func BoolAttr(k string, v bool) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

// Float64Attr creates a float64-typed span attribute.
func Float64Attr(k string, v float64) SpanAttr {
	return SpanAttr{Key: k, Value: v}
}

// Canonical span names emitted by the engine. Every span carries at
// least a workflow_id attribute (see workflowSpan); span names are
// namespaced so they read unambiguously in a trace backend shared with
// other services.
const (
	SpanStepInvoke = "labflow.step.invoke"
	SpanStepNext   = "labflow.step.next"
	SpanKill       = "labflow.workflow.kill"
	SpanRevive     = "labflow.workflow.revive"
)

// workflowSpan starts a span for an operation scoped to w, attaching the
// workflow_id attribute every engine span carries plus step, when given,
// and whatever operation-specific attrs the caller supplies. Centralizing
// this here keeps invoker.go/stepcontext.go/controlops.go from
// hand-building the same attribute pairs at each call site, and is the
// one place that decides what "belongs" on a labflow span.
func (w *Workflow) workflowSpan(ctx context.Context, name, step string, extra ...SpanAttr) (context.Context, Span) {
	if w.tracer == nil {
		return ctx, noopSpan{}
	}
	attrs := make([]SpanAttr, 0, len(extra)+2)
	attrs = append(attrs, StringAttr("workflow_id", w.rec.ID))
	if step != "" {
		attrs = append(attrs, StringAttr("step", step))
	}
	attrs = append(attrs, extra...)
	return w.tracer.Start(ctx, name, attrs...)
}

// noopSpan discards every call; used when no Tracer is configured so
// call sites never need a nil check of their own.
type noopSpan struct{}

func (noopSpan) SetAttr(...SpanAttr)       {}
func (noopSpan) Event(string, ...SpanAttr) {}
func (noopSpan) Error(error)               {}
func (noopSpan) End()                      {}
