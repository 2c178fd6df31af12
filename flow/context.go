package flow

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// Behavior is the executable side of a node type. Run receives a context
// already wired to the run's cancellation signal plus the node's own
// timeout, and the NodeContext carrying the node's capabilities. A
// map[string]any result merges into the node's output slot; any other
// non-nil result is stored under ValueKey; nil publishes nothing.
type Behavior interface {
	Run(ctx context.Context, nc *NodeContext) (any, error)
}

// BehaviorFunc adapts a plain function to the Behavior interface.
type BehaviorFunc func(ctx context.Context, nc *NodeContext) (any, error)

// Run implements Behavior.
func (f BehaviorFunc) Run(ctx context.Context, nc *NodeContext) (any, error) {
	return f(ctx, nc)
}

// NodeContext is the capability set handed to a node's behavior for one
// execution: identity, configuration, the caller's environment, output
// access, logging and the network capability. Behaviors interact with the
// run exclusively through it.
type NodeContext struct {
	// RunID identifies the run this execution belongs to.
	RunID string
	// WorkflowID identifies the workflow graph.
	WorkflowID string
	// NodeID identifies this node.
	NodeID string
	// NodeType is the resolved behavior type name.
	NodeType string
	// Config is the node's configuration map. Behaviors must treat it as
	// read-only.
	Config map[string]any
	// Env is the read-only environment supplied by the caller at run start.
	Env map[string]string
	// Network performs time-bounded outbound calls honoring the run's
	// cancellation. May be nil when the engine was built without one.
	Network Network

	logger   *zap.Logger
	registry *OutputRegistry
	record   *RunRecord
}

// Log appends an info entry tagged with this node to the run's execution
// log.
func (nc *NodeContext) Log(message string) {
	nc.record.appendLog(LogLevelInfo, nc.NodeID, message)
}

// Logf appends a formatted info entry tagged with this node.
func (nc *NodeContext) Logf(format string, args ...any) {
	nc.Log(fmt.Sprintf(format, args...))
}

// SetOutput publishes one value into this node's own registry slot. The
// write is visible immediately, including to GetOutput calls made later in
// the same execution.
func (nc *NodeContext) SetOutput(key string, value any) {
	nc.registry.set(nc.NodeID, key, value)
}

// GetOutput reads a value another node published. Passing WildcardNodeID
// searches every published slot in publication order.
func (nc *NodeContext) GetOutput(nodeID, key string) (any, bool) {
	return nc.registry.Get(nodeID, key)
}

// NodeOutputs returns a copy of one node's published outputs.
func (nc *NodeContext) NodeOutputs(nodeID string) map[string]any {
	return nc.registry.Outputs(nodeID)
}

// AllOutputs returns a snapshot of the entire output registry.
func (nc *NodeContext) AllOutputs() map[string]map[string]any {
	return nc.registry.Snapshot()
}

// Logger returns the zap logger scoped to this node execution.
func (nc *NodeContext) Logger() *zap.Logger {
	if nc.logger == nil {
		return zap.NewNop()
	}
	return nc.logger
}

// ConfigValue returns a raw configuration value.
func (nc *NodeContext) ConfigValue(key string) (any, bool) {
	v, ok := nc.Config[key]
	return v, ok
}

// ConfigString returns a string configuration value, or def when the key
// is absent or not a string.
func (nc *NodeContext) ConfigString(key, def string) string {
	if s, ok := nc.Config[key].(string); ok {
		return s
	}
	return def
}

// ConfigInt returns an integer configuration value, accepting the numeric
// types JSON and YAML decoding produce, or def when absent or not numeric.
func (nc *NodeContext) ConfigInt(key string, def int) int {
	if n, ok := toInt(nc.Config[key]); ok {
		return n
	}
	return def
}

// ConfigBool returns a boolean configuration value, or def when absent.
func (nc *NodeContext) ConfigBool(key string, def bool) bool {
	if b, ok := nc.Config[key].(bool); ok {
		return b
	}
	return def
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
