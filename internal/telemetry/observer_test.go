package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxwire/fluxwire/flow"
)

func newRecordingObserver(t *testing.T) (*TraceObserver, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTraceObserver(tp), exporter
}

func spanByName(t *testing.T, stubs tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range stubs {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %q among %d exported spans", name, len(stubs))
	return tracetest.SpanStub{}
}

func runChange(runID string, to flow.RunStatus, at time.Time) flow.RunStatusChange {
	change := flow.RunStatusChange{RunID: runID, WorkflowID: "wf-1", WorkflowName: "demo", To: to, At: at}
	if to != flow.RunStatusRunning {
		change.From = flow.RunStatusRunning
	}
	return change
}

func nodeChange(runID, nodeID string, to flow.NodeStatus, at time.Time) flow.NodeStatusChange {
	return flow.NodeStatusChange{RunID: runID, NodeID: nodeID, NodeType: "http", To: to, At: at}
}

func TestTraceObserver_RunSpanLifecycle(t *testing.T) {
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, started))
	assert.Empty(t, exporter.GetSpans(), "span must stay open until the run finalizes")

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusSuccess, started.Add(2*time.Second)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "workflow.run", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Equal(t, 2*time.Second, span.EndTime.Sub(span.StartTime))
	assert.Contains(t, span.Attributes, attribute.String("fluxwire.run_id", "run-1"))
	assert.Contains(t, span.Attributes, attribute.String("fluxwire.workflow_name", "demo"))
}

func TestTraceObserver_FailedRunSetsErrorStatus(t *testing.T) {
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, started))
	o.OnRunStatusChange(runChange("run-1", flow.RunStatusError, started.Add(time.Second)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "error", spans[0].Status.Description)
}

func TestTraceObserver_NodeSpanParentsUnderRun(t *testing.T) {
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusSuccess, started.Add(time.Second)))
	o.OnRunStatusChange(runChange("run-1", flow.RunStatusSuccess, started.Add(2*time.Second)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	run := spanByName(t, spans, "workflow.run")
	node := spanByName(t, spans, "node.http")

	assert.Equal(t, run.SpanContext.TraceID(), node.SpanContext.TraceID())
	assert.Equal(t, run.SpanContext.SpanID(), node.Parent.SpanID())
	assert.Contains(t, node.Attributes, attribute.String("fluxwire.node_id", "a"))
}

func TestTraceObserver_CancelledNodeSetsErrorStatus(t *testing.T) {
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusCancelled, started.Add(time.Second)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "cancelled", spans[0].Status.Description)
}

func TestTraceObserver_LogEntriesBecomeSpanEvents(t *testing.T) {
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusRunning, started))

	o.OnLogEntry(flow.ExecutionLogEntry{
		RunID: "run-1", NodeID: "a",
		Level: flow.LogLevelInfo, Message: "halfway there", Timestamp: started.Add(time.Second),
	})
	o.OnLogEntry(flow.ExecutionLogEntry{
		RunID: "run-1",
		Level: flow.LogLevelInfo, Message: "run started", Timestamp: started,
	})

	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusSuccess, started.Add(2*time.Second)))
	o.OnRunStatusChange(runChange("run-1", flow.RunStatusSuccess, started.Add(3*time.Second)))

	spans := exporter.GetSpans()
	node := spanByName(t, spans, "node.http")
	require.Len(t, node.Events, 1)
	assert.Equal(t, "halfway there", node.Events[0].Name)
	assert.Contains(t, node.Events[0].Attributes, attribute.String("log.level", "info"))

	run := spanByName(t, spans, "workflow.run")
	require.Len(t, run.Events, 1)
	assert.Equal(t, "run started", run.Events[0].Name)
}

func TestTraceObserver_LateNodeEntryFallsBackToRunSpan(t *testing.T) {
	// The scheduler appends failure entries after the node's terminal
	// transition, so they must land on the run span instead of vanishing.
	o, exporter := newRecordingObserver(t)
	started := time.Now()

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusRunning, started))
	o.OnNodeStatusChange(nodeChange("run-1", "a", flow.NodeStatusError, started.Add(time.Second)))

	o.OnLogEntry(flow.ExecutionLogEntry{
		RunID: "run-1", NodeID: "a",
		Level: flow.LogLevelError, Message: "node a failed: boom", Timestamp: started.Add(time.Second),
	})

	o.OnRunStatusChange(runChange("run-1", flow.RunStatusError, started.Add(time.Second)))

	run := spanByName(t, exporter.GetSpans(), "workflow.run")
	require.Len(t, run.Events, 1)
	assert.Equal(t, "node a failed: boom", run.Events[0].Name)
}

func TestTraceObserver_IgnoresUnknownRuns(t *testing.T) {
	o, exporter := newRecordingObserver(t)

	assert.NotPanics(t, func() {
		o.OnRunStatusChange(runChange("ghost", flow.RunStatusSuccess, time.Now()))
		o.OnNodeStatusChange(nodeChange("ghost", "a", flow.NodeStatusSuccess, time.Now()))
		o.OnLogEntry(flow.ExecutionLogEntry{RunID: "ghost", Message: "dropped"})
	})
	assert.Empty(t, exporter.GetSpans())
}

func TestTraceObserver_NilProviderFallsBackToGlobal(t *testing.T) {
	o := NewTraceObserver(nil)
	require.NotNil(t, o)

	// The global provider is noop under test, so callbacks must still be
	// safe to invoke.
	assert.NotPanics(t, func() {
		o.OnRunStatusChange(runChange("run-1", flow.RunStatusRunning, time.Now()))
		o.OnRunStatusChange(runChange("run-1", flow.RunStatusSuccess, time.Now()))
	})
}

func TestTraceObserver_WatchesARealRun(t *testing.T) {
	o, exporter := newRecordingObserver(t)

	registry := flow.NewTypeRegistry(nil)
	require.NoError(t, registry.RegisterFunc("noop", func(ctx context.Context, nc *flow.NodeContext) (any, error) {
		nc.Log("working")
		return nil, nil
	}))

	g, err := flow.NewGraph("wf-trace", "trace").
		AddNode("s", "noop", nil).
		AddNode("n", "noop", nil).
		AddEdge("s", "n").
		Starter("s").
		Build()
	require.NoError(t, err)

	engine := flow.NewEngine(registry, flow.WithObserver(o))
	handle, err := engine.Start(context.Background(), g, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := handle.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, flow.RunStatusSuccess, rec.Status)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	run := spanByName(t, spans, "workflow.run")
	assert.Equal(t, codes.Ok, run.Status.Code)
	assert.Contains(t, run.Attributes, attribute.String("fluxwire.run_id", rec.ID))

	nodeSpans := 0
	for _, s := range spans {
		if s.Name == "node.noop" {
			nodeSpans++
			assert.Equal(t, run.SpanContext.TraceID(), s.SpanContext.TraceID())
			assert.Equal(t, run.SpanContext.SpanID(), s.Parent.SpanID())
		}
	}
	assert.Equal(t, 2, nodeSpans)
}
