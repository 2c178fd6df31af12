package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxwire/fluxwire/flow"
)

const tracerName = "github.com/fluxwire/fluxwire"

// TraceObserver mirrors workflow runs into OpenTelemetry spans: one root
// span per run, one child span per node execution, and execution log
// entries as span events. Span boundaries use the engine's own transition
// timestamps, so trace durations match the run record exactly. One
// TraceObserver may watch any number of concurrent runs.
type TraceObserver struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]spanEntry
	nodes map[string]trace.Span
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewTraceObserver creates a trace observer. A nil provider falls back to
// the global one installed by Init.
func NewTraceObserver(tp trace.TracerProvider) *TraceObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TraceObserver{
		tracer: tp.Tracer(tracerName),
		runs:   make(map[string]spanEntry),
		nodes:  make(map[string]trace.Span),
	}
}

// OnRunStatusChange implements flow.Observer. The run span opens on the
// transition to running and closes, with a status derived from the
// terminal state, when the run finalizes.
func (o *TraceObserver) OnRunStatusChange(change flow.RunStatusChange) {
	switch {
	case change.To == flow.RunStatusRunning:
		ctx, span := o.tracer.Start(context.Background(), "workflow.run",
			trace.WithTimestamp(change.At),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("fluxwire.run_id", change.RunID),
				attribute.String("fluxwire.workflow_id", change.WorkflowID),
				attribute.String("fluxwire.workflow_name", change.WorkflowName),
			),
		)
		o.mu.Lock()
		o.runs[change.RunID] = spanEntry{ctx: ctx, span: span}
		o.mu.Unlock()

	case change.To.Terminal():
		o.mu.Lock()
		entry, ok := o.runs[change.RunID]
		delete(o.runs, change.RunID)
		o.mu.Unlock()
		if !ok {
			return
		}
		entry.span.SetStatus(statusCode(change.To == flow.RunStatusSuccess), string(change.To))
		entry.span.End(trace.WithTimestamp(change.At))
	}
}

// OnNodeStatusChange implements flow.Observer. Node spans parent under
// their run's span; a terminal transition closes the span with the node's
// final status.
func (o *TraceObserver) OnNodeStatusChange(change flow.NodeStatusChange) {
	key := change.RunID + "/" + change.NodeID

	switch {
	case change.To == flow.NodeStatusRunning:
		parent := context.Background()
		o.mu.Lock()
		if entry, ok := o.runs[change.RunID]; ok {
			parent = entry.ctx
		}
		o.mu.Unlock()

		_, span := o.tracer.Start(parent, "node."+change.NodeType,
			trace.WithTimestamp(change.At),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("fluxwire.run_id", change.RunID),
				attribute.String("fluxwire.node_id", change.NodeID),
				attribute.String("fluxwire.node_type", change.NodeType),
			),
		)
		o.mu.Lock()
		o.nodes[key] = span
		o.mu.Unlock()

	case change.To.Terminal():
		o.mu.Lock()
		span, ok := o.nodes[key]
		delete(o.nodes, key)
		o.mu.Unlock()
		if !ok {
			return
		}
		span.SetStatus(statusCode(change.To == flow.NodeStatusSuccess), string(change.To))
		span.End(trace.WithTimestamp(change.At))
	}
}

// OnLogEntry implements flow.Observer. Entries attach as events to the
// node span when the entry names a node, otherwise to the run span.
// Entries arriving outside any open span are dropped.
func (o *TraceObserver) OnLogEntry(logEntry flow.ExecutionLogEntry) {
	var span trace.Span

	o.mu.Lock()
	if logEntry.NodeID != "" {
		span = o.nodes[logEntry.RunID+"/"+logEntry.NodeID]
	}
	if span == nil {
		if entry, ok := o.runs[logEntry.RunID]; ok {
			span = entry.span
		}
	}
	o.mu.Unlock()
	if span == nil {
		return
	}

	span.AddEvent(logEntry.Message,
		trace.WithTimestamp(logEntry.Timestamp),
		trace.WithAttributes(
			attribute.String("log.level", string(logEntry.Level)),
			attribute.String("fluxwire.node_id", logEntry.NodeID),
		),
	)
}

func statusCode(success bool) codes.Code {
	if success {
		return codes.Ok
	}
	return codes.Error
}
