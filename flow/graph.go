package flow

import (
	"fmt"

	"github.com/fluxwire/fluxwire/types"
)

// Node is a unit of work in a workflow graph. Type is resolved to an
// executable behavior by the engine's Resolver; Config is handed opaquely
// to that behavior. Nodes are immutable for the duration of a run.
type Node struct {
	// ID uniquely identifies the node within its graph.
	ID string `json:"id" yaml:"id"`
	// Type names the behavior that executes this node.
	Type string `json:"type" yaml:"type"`
	// Config carries node-specific settings, passed verbatim to the behavior.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge is a directed dependency link between two nodes. Label is a routing
// hint for callers and UIs; the engine ignores it.
type Edge struct {
	// ID uniquely identifies the edge within its graph.
	ID string `json:"id" yaml:"id"`
	// Source is the node the edge leaves from.
	Source string `json:"source" yaml:"source"`
	// Target is the node the edge points to.
	Target string `json:"target" yaml:"target"`
	// Label carries optional handle metadata.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Graph is an immutable workflow description: a set of nodes, directed
// edges between them, and one designated starter node. Build it with
// GraphBuilder or compile it from a Definition; once built it is safe for
// concurrent reads.
type Graph struct {
	id        string
	name      string
	starterID string
	nodes     map[string]*Node
	nodeOrder []string
	edges     []*Edge
	outgoing  map[string][]*Edge
	incoming  map[string][]*Edge
}

// ID returns the graph identifier.
func (g *Graph) ID() string { return g.id }

// Name returns the human-readable graph name.
func (g *Graph) Name() string { return g.name }

// StarterID returns the id of the designated entry node.
func (g *Graph) StarterID() string { return g.starterID }

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// OutgoingEdges returns the edges leaving the given node, in insertion
// order. The returned slice must not be modified.
func (g *Graph) OutgoingEdges(id string) []*Edge { return g.outgoing[id] }

// IncomingEdges returns the edges pointing at the given node, in insertion
// order. The returned slice must not be modified.
func (g *Graph) IncomingEdges(id string) []*Edge { return g.incoming[id] }

// Validate checks the structural invariants the engine depends on: the
// starter node exists, every edge endpoint references a known node, and the
// subgraph reachable from the starter is acyclic. It returns a *types.Error
// carrying ErrMissingStarter, ErrDanglingEdge or ErrCycleDetected.
func (g *Graph) Validate() error {
	if g.starterID == "" {
		return types.NewError(types.ErrMissingStarter, "graph has no starter node")
	}
	if _, ok := g.nodes[g.starterID]; !ok {
		return types.Errorf(types.ErrMissingStarter, "starter node %q not found", g.starterID)
	}

	for _, e := range g.edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return types.Errorf(types.ErrDanglingEdge, "edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return types.Errorf(types.ErrDanglingEdge, "edge %q references unknown target node %q", e.ID, e.Target)
		}
	}

	if cycleNode := g.findCycle(); cycleNode != "" {
		return types.Errorf(types.ErrCycleDetected, "cycle detected involving node %q", cycleNode)
	}
	return nil
}

// Reachable returns the set of node ids reachable from the starter,
// including the starter itself.
func (g *Graph) Reachable() map[string]bool {
	reachable := make(map[string]bool, len(g.nodes))
	g.markReachable(g.starterID, reachable)
	return reachable
}

func (g *Graph) markReachable(id string, reachable map[string]bool) {
	if reachable[id] {
		return
	}
	if _, ok := g.nodes[id]; !ok {
		return
	}
	reachable[id] = true
	for _, e := range g.outgoing[id] {
		g.markReachable(e.Target, reachable)
	}
}

// findCycle runs a DFS with a recursion stack over the subgraph reachable
// from the starter and returns the id of a node on a back edge, or "".
func (g *Graph) findCycle() string {
	visited := make(map[string]bool, len(g.nodes))
	stack := make(map[string]bool, len(g.nodes))

	var visit func(id string) string
	visit = func(id string) string {
		visited[id] = true
		stack[id] = true
		for _, e := range g.outgoing[id] {
			if !visited[e.Target] {
				if n := visit(e.Target); n != "" {
					return n
				}
			} else if stack[e.Target] {
				return e.Target
			}
		}
		stack[id] = false
		return ""
	}

	if _, ok := g.nodes[g.starterID]; !ok {
		return ""
	}
	return visit(g.starterID)
}

// indegrees computes the in-degree of every node in reachable, counting
// only edges whose source is itself reachable. Parallel edges count once
// per edge.
func (g *Graph) indegrees(reachable map[string]bool) map[string]int {
	degrees := make(map[string]int, len(reachable))
	for id := range reachable {
		degrees[id] = 0
	}
	for _, e := range g.edges {
		if reachable[e.Source] && reachable[e.Target] {
			degrees[e.Target]++
		}
	}
	return degrees
}

func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%s: %d nodes, %d edges, starter=%s)", g.id, len(g.nodes), len(g.edges), g.starterID)
}
