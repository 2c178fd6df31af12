package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire/fluxwire/types"
)

const sampleJSON = `{
  "id": "wf-weather",
  "name": "weather alert",
  "nodes": [
    {"id": "start", "type": "starter"},
    {"id": "fetch", "type": "http", "config": {"url": "https://wttr.in", "method": "GET"}},
    {"id": "check", "type": "condition", "config": {"expression": "fetch.status == 200"}}
  ],
  "edges": [
    {"source": "start", "target": "fetch"},
    {"source": "fetch", "target": "check", "label": "response"}
  ]
}`

const sampleYAML = `
id: wf-weather
name: weather alert
starter_id: start
nodes:
  - id: start
    type: starter
  - id: fetch
    type: http
    config:
      url: https://wttr.in
edges:
  - source: start
    target: fetch
`

func TestDefinitionFromJSON(t *testing.T) {
	def, err := DefinitionFromJSON([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "wf-weather", def.ID)
	assert.Len(t, def.Nodes, 3)
	assert.Len(t, def.Edges, 2)
	assert.Equal(t, "response", def.Edges[1].Label)

	g, err := def.Graph()
	require.NoError(t, err)
	assert.Equal(t, "start", g.StarterID())

	n, ok := g.NodeByID("check")
	require.True(t, ok)
	assert.Equal(t, "fetch.status == 200", n.Config["expression"])
}

func TestDefinitionFromYAML(t *testing.T) {
	def, err := DefinitionFromYAML([]byte(sampleYAML))
	require.NoError(t, err)

	g, err := def.Graph()
	require.NoError(t, err)
	assert.Equal(t, "start", g.StarterID())

	n, ok := g.NodeByID("fetch")
	require.True(t, ok)
	assert.Equal(t, "https://wttr.in", n.Config["url"])
}

func TestDefinitionFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id": "x",`},
		{"no nodes", `{"id": "x", "name": "y", "nodes": []}`},
		{"missing node id", `{"nodes": [{"type": "log"}]}`},
		{"duplicate node ids", `{"nodes": [{"id": "a", "type": "log"}, {"id": "a", "type": "log"}]}`},
		{"missing node type", `{"nodes": [{"id": "a"}]}`},
		{"unknown edge endpoint", `{"nodes": [{"id": "a", "type": "log"}], "edges": [{"source": "a", "target": "ghost"}]}`},
		{"unknown starter", `{"starter_id": "ghost", "nodes": [{"id": "a", "type": "log"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefinitionFromJSON([]byte(tt.body))
			require.Error(t, err)
		})
	}
}

func TestDefinitionStarterAutodetect(t *testing.T) {
	t.Run("unique root wins", func(t *testing.T) {
		def := &Definition{
			ID: "wf",
			Nodes: []NodeDefinition{
				{ID: "a", Type: "log"},
				{ID: "b", Type: "log"},
			},
			Edges: []EdgeDefinition{{Source: "a", Target: "b"}},
		}
		g, err := def.Graph()
		require.NoError(t, err)
		assert.Equal(t, "a", g.StarterID())
	})

	t.Run("starter type breaks ties", func(t *testing.T) {
		def := &Definition{
			ID: "wf",
			Nodes: []NodeDefinition{
				{ID: "first", Type: "starter"},
				{ID: "second", Type: "log"},
				{ID: "third", Type: "log"},
			},
			Edges: []EdgeDefinition{
				{Source: "first", Target: "third"},
				{Source: "second", Target: "third"},
			},
		}
		g, err := def.Graph()
		require.NoError(t, err)
		assert.Equal(t, "first", g.StarterID())
	})

	t.Run("ambiguous fails", func(t *testing.T) {
		def := &Definition{
			ID: "wf",
			Nodes: []NodeDefinition{
				{ID: "a", Type: "log"},
				{ID: "b", Type: "log"},
			},
		}
		_, err := def.Graph()
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrMissingStarter))
	})
}

func TestGraphToDefinitionRoundTrip(t *testing.T) {
	def, err := DefinitionFromJSON([]byte(sampleJSON))
	require.NoError(t, err)

	g, err := def.Graph()
	require.NoError(t, err)

	back := g.ToDefinition()
	assert.Equal(t, def.ID, back.ID)
	assert.Equal(t, "start", back.StarterID)
	assert.Len(t, back.Nodes, len(def.Nodes))
	assert.Len(t, back.Edges, len(def.Edges))

	data, err := back.ToJSON()
	require.NoError(t, err)
	again, err := DefinitionFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, back.Nodes, again.Nodes)
}
