package flow

import (
	"fmt"

	"github.com/fluxwire/fluxwire/types"
)

// GraphBuilder provides a fluent API for assembling workflow graphs in
// code. Build validates the result, so a Graph obtained from Build is
// always structurally sound.
type GraphBuilder struct {
	graph   *Graph
	edgeSeq int
	errs    []error
}

// NewGraph creates a builder for a graph with the given id and name.
func NewGraph(id, name string) *GraphBuilder {
	return &GraphBuilder{
		graph: &Graph{
			id:       id,
			name:     name,
			nodes:    make(map[string]*Node),
			outgoing: make(map[string][]*Edge),
			incoming: make(map[string][]*Edge),
		},
	}
}

// AddNode adds a node with the given id, type and configuration. Adding a
// duplicate id is recorded as a build error.
func (b *GraphBuilder) AddNode(id, nodeType string, config map[string]any) *GraphBuilder {
	if id == "" {
		b.errs = append(b.errs, fmt.Errorf("node id cannot be empty"))
		return b
	}
	if _, exists := b.graph.nodes[id]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node id %q", id))
		return b
	}
	b.graph.nodes[id] = &Node{ID: id, Type: nodeType, Config: config}
	b.graph.nodeOrder = append(b.graph.nodeOrder, id)
	return b
}

// AddEdge adds a directed edge from source to target with a generated id.
func (b *GraphBuilder) AddEdge(source, target string) *GraphBuilder {
	return b.AddLabeledEdge(source, target, "")
}

// AddLabeledEdge adds a directed edge carrying a routing label.
func (b *GraphBuilder) AddLabeledEdge(source, target, label string) *GraphBuilder {
	b.edgeSeq++
	edge := &Edge{
		ID:     fmt.Sprintf("e%d", b.edgeSeq),
		Source: source,
		Target: target,
		Label:  label,
	}
	b.graph.edges = append(b.graph.edges, edge)
	b.graph.outgoing[source] = append(b.graph.outgoing[source], edge)
	b.graph.incoming[target] = append(b.graph.incoming[target], edge)
	return b
}

// Starter designates the entry node of the graph.
func (b *GraphBuilder) Starter(id string) *GraphBuilder {
	b.graph.starterID = id
	return b
}

// Build validates the assembled graph and returns it. Accumulated builder
// errors and structural validation failures both fail the build.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, types.Errorf(types.ErrInvalidRequest, "graph build failed: %v", b.errs[0]).WithCause(b.errs[0])
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
