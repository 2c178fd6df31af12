package quick

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire/fluxwire/flow"
)

const greetingJSON = `{
  "id": "wf-greeting",
  "name": "greeting",
  "nodes": [
    {"id": "start", "type": "starter"},
    {"id": "shape", "type": "transform", "config": {"fields": {"who": "env.NAME"}}}
  ],
  "edges": [
    {"source": "start", "target": "shape"}
  ]
}`

func TestRun(t *testing.T) {
	rec, err := Run(context.Background(), []byte(greetingJSON), map[string]string{"NAME": "fluxwire"})
	require.NoError(t, err)

	assert.Equal(t, flow.RunStatusSuccess, rec.Status)
	assert.Equal(t, "wf-greeting", rec.WorkflowID)

	shape := rec.Nodes["shape"]
	require.NotNil(t, shape)
	assert.Equal(t, flow.NodeStatusSuccess, shape.Status)
	assert.Equal(t, "fluxwire", shape.Outputs["who"])
}

func TestRun_InvalidDefinition(t *testing.T) {
	_, err := Run(context.Background(), []byte(`{"nodes": []}`), nil)
	require.Error(t, err)
}

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeting.json")
	require.NoError(t, os.WriteFile(path, []byte(greetingJSON), 0o644))

	rec, err := RunFile(context.Background(), path, map[string]string{"NAME": "disk"})
	require.NoError(t, err)
	assert.Equal(t, flow.RunStatusSuccess, rec.Status)
	assert.Equal(t, "disk", rec.Nodes["shape"].Outputs["who"])
}

func TestRunDefinition_Timeout(t *testing.T) {
	def, err := flow.DefinitionFromJSON([]byte(`{
      "id": "wf-slow",
      "nodes": [
        {"id": "start", "type": "starter"},
        {"id": "nap", "type": "delay", "config": {"durationMs": 5000}}
      ],
      "edges": [{"source": "start", "target": "nap"}]
    }`))
	require.NoError(t, err)

	rec, err := RunDefinition(context.Background(), def, nil, WithTimeout(30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, flow.RunStatusCancelled, rec.Status)
}

func TestRunDefinition_ContextCancel(t *testing.T) {
	def, err := flow.DefinitionFromJSON([]byte(`{
      "id": "wf-slow",
      "nodes": [
        {"id": "start", "type": "starter"},
        {"id": "nap", "type": "delay", "config": {"durationMs": 5000}}
      ],
      "edges": [{"source": "start", "target": "nap"}]
    }`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rec, err := RunDefinition(ctx, def, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	assert.Equal(t, flow.RunStatusCancelled, rec.Status)
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	require.NotNil(t, engine)

	def, err := flow.DefinitionFromJSON([]byte(greetingJSON))
	require.NoError(t, err)
	graph, err := def.Graph()
	require.NoError(t, err)

	handle, err := engine.Start(context.Background(), graph, map[string]string{"NAME": "engine"})
	require.NoError(t, err)

	rec, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, flow.RunStatusSuccess, rec.Status)
}
