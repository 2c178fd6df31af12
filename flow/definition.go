package flow

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxwire/fluxwire/types"
)

// Definition is the serializable wire format of a workflow graph, the
// shape accepted by the HTTP API and the CLI. Compile it into an
// executable Graph with the Graph method.
type Definition struct {
	// ID is the workflow identifier.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable workflow name.
	Name string `json:"name" yaml:"name"`
	// StarterID designates the entry node. When empty the starter is
	// autodetected: the unique node without incoming edges, or the unique
	// node of type "starter".
	StarterID string `json:"starter_id,omitempty" yaml:"starter_id,omitempty"`
	// Nodes lists every node in the workflow.
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`
	// Edges lists the directed dependencies between nodes.
	Edges []EdgeDefinition `json:"edges,omitempty" yaml:"edges,omitempty"`
	// Metadata carries additional workflow information the engine ignores.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDefinition is the wire form of a single node.
type NodeDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// EdgeDefinition is the wire form of a single edge. ID may be empty, in
// which case one is generated at compile time.
type EdgeDefinition struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
}

// DefinitionFromJSON parses and validates a JSON workflow definition.
func DefinitionFromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "parse workflow definition: %v", err).WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// DefinitionFromYAML parses and validates a YAML workflow definition.
func DefinitionFromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "parse workflow definition: %v", err).WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a definition from a .json, .yaml or .yml file,
// choosing the codec by extension and falling back to JSON.
func LoadDefinition(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	if isYAMLFile(filename) {
		return DefinitionFromYAML(data)
	}
	return DefinitionFromJSON(data)
}

func isYAMLFile(filename string) bool {
	n := len(filename)
	return (n > 5 && filename[n-5:] == ".yaml") || (n > 4 && filename[n-4:] == ".yml")
}

// ToJSON renders the definition as indented JSON.
func (d *Definition) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	return data, nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	return data, nil
}

// Validate checks wire-level invariants: node ids present and unique, node
// types present, and edge endpoints referencing declared nodes. Structural
// validation (starter, cycles) happens when the definition is compiled.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return types.NewError(types.ErrInvalidRequest, "workflow must declare at least one node")
	}

	ids := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return types.NewError(types.ErrInvalidRequest, "node id is required")
		}
		if ids[n.ID] {
			return types.Errorf(types.ErrInvalidRequest, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if n.Type == "" {
			return types.Errorf(types.ErrInvalidRequest, "node %q: type is required", n.ID)
		}
	}

	for _, e := range d.Edges {
		if !ids[e.Source] {
			return types.Errorf(types.ErrDanglingEdge, "edge references unknown source node %q", e.Source)
		}
		if !ids[e.Target] {
			return types.Errorf(types.ErrDanglingEdge, "edge references unknown target node %q", e.Target)
		}
	}

	if d.StarterID != "" && !ids[d.StarterID] {
		return types.Errorf(types.ErrMissingStarter, "starter node %q not found", d.StarterID)
	}
	return nil
}

// Graph compiles the definition into an executable Graph, autodetecting
// the starter when StarterID is empty, and validates the result.
func (d *Definition) Graph() (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := NewGraph(d.ID, d.Name)
	for _, n := range d.Nodes {
		b.AddNode(n.ID, n.Type, n.Config)
	}
	for _, e := range d.Edges {
		b.AddLabeledEdge(e.Source, e.Target, e.Label)
		if e.ID != "" {
			b.graph.edges[len(b.graph.edges)-1].ID = e.ID
		}
	}

	starter := d.StarterID
	if starter == "" {
		detected, err := d.detectStarter()
		if err != nil {
			return nil, err
		}
		starter = detected
	}
	b.Starter(starter)

	return b.Build()
}

// detectStarter picks the entry node for definitions that omit StarterID.
// The unique node with no incoming edges wins; when several qualify, the
// unique node of type "starter" breaks the tie.
func (d *Definition) detectStarter() (string, error) {
	hasIncoming := make(map[string]bool, len(d.Nodes))
	for _, e := range d.Edges {
		hasIncoming[e.Target] = true
	}

	var roots []string
	for _, n := range d.Nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 1 {
		return roots[0], nil
	}

	var starters []string
	for _, n := range d.Nodes {
		if n.Type == "starter" {
			starters = append(starters, n.ID)
		}
	}
	if len(starters) == 1 {
		return starters[0], nil
	}

	return "", types.NewError(types.ErrMissingStarter, "cannot determine starter node: set starter_id")
}

// ToDefinition converts a Graph back into its wire form.
func (g *Graph) ToDefinition() *Definition {
	def := &Definition{
		ID:        g.id,
		Name:      g.name,
		StarterID: g.starterID,
		Nodes:     make([]NodeDefinition, 0, len(g.nodeOrder)),
		Edges:     make([]EdgeDefinition, 0, len(g.edges)),
	}
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		def.Nodes = append(def.Nodes, NodeDefinition{ID: n.ID, Type: n.Type, Config: n.Config})
	}
	for _, e := range g.edges {
		def.Edges = append(def.Edges, EdgeDefinition{ID: e.ID, Source: e.Source, Target: e.Target, Label: e.Label})
	}
	return def
}
