package nodes

import (
	"context"
	"fmt"

	"github.com/fluxwire/fluxwire/flow"
)

// LogNode records a rendered message on the run's execution log.
//
// Config:
//
//	message  text to log, supports {{expr}} placeholders (required)
//
// The rendered message is also returned so downstream nodes can read it
// as <nodeID>.value.
type LogNode struct{}

func (l *LogNode) Run(ctx context.Context, nc *flow.NodeContext) (any, error) {
	tmpl := nc.ConfigString("message", "")
	if tmpl == "" {
		return nil, fmt.Errorf("log node requires a message")
	}

	msg, err := renderTemplate(tmpl, exprVars(nc))
	if err != nil {
		return nil, err
	}
	nc.Log(msg)
	return msg, nil
}
