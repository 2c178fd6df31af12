package nodes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/flow/dsl"
)

// ConditionNode evaluates a boolean expression against prior node outputs.
//
// Config:
//
//	expression  the expression to evaluate (required)
//
// The verdict is published under the node's value key so downstream
// expressions can reference it as <nodeID>.value.
type ConditionNode struct {
	logger *zap.Logger
}

func (c *ConditionNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	expr := nc.ConfigString("expression", "")
	if expr == "" {
		return nil, fmt.Errorf("condition node requires an expression")
	}

	verdict, err := dsl.EvalBool(expr, exprVars(nc))
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}

	c.logger.Debug("condition evaluated",
		zap.String("node_id", nc.NodeID),
		zap.String("expression", expr),
		zap.Bool("verdict", verdict))
	nc.Logf("condition %q evaluated to %t", expr, verdict)
	return verdict, nil
}
