package nodes

import (
	"context"
	"fmt"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/flow/dsl"
)

// TransformNode reshapes prior outputs into a new set of keys.
//
// Config:
//
//	fields  map of output key to expression (required, non-empty)
//
// Each expression is evaluated against the shared scope and the results
// are published as this node's outputs.
type TransformNode struct{}

func (t *TransformNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	fields, ok := nc.Config["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("transform node requires a fields map")
	}

	vars := exprVars(nc)
	out := make(map[string]any, len(fields))
	for key, raw := range fields {
		expr, ok := raw.(string)
		if !ok {
			// Literal non-string field values pass through untouched.
			out[key] = raw
			continue
		}
		v, err := dsl.Eval(expr, vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate field %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}
