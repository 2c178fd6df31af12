package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxwire/fluxwire/flow"
)

// DelayNode pauses the branch for a configured duration.
//
// Config:
//
//	durationMs  milliseconds to wait (required, > 0)
//
// The wait honours run cancellation and node timeouts. On completion the
// node publishes waitedMs with the actual elapsed time.
type DelayNode struct{}

func (d *DelayNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	durationMs := nc.ConfigInt("durationMs", 0)
	if durationMs <= 0 {
		return nil, fmt.Errorf("delay node requires durationMs > 0")
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(durationMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]any{"waitedMs": time.Since(start).Milliseconds()}, nil
}
