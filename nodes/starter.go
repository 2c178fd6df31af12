package nodes

import (
	"context"

	"github.com/fluxwire/fluxwire/flow"
)

// StarterNode is the entry point of a workflow. It publishes the node's
// configured payload so downstream nodes can reference the run's initial
// inputs.
type StarterNode struct{}

// Run publishes config["payload"] when it is a map, otherwise the raw
// payload value. A starter with no payload publishes nothing.
func (s *StarterNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	payload, ok := nc.Config["payload"]
	if !ok || payload == nil {
		return nil, nil
	}
	return payload, nil
}
