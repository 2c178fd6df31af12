// Package fluxwire provides a top-level convenience entry point for
// running workflows with minimal boilerplate.
//
// Usage:
//
//	import "github.com/fluxwire/fluxwire"
//
//	rec, err := fluxwire.RunFile(ctx, "pipeline.yaml", nil)
//	rec, err := fluxwire.Run(ctx, definitionJSON, map[string]string{"API_KEY": key})
//
// This is a thin wrapper around [quick.Run] and friends; both produce
// identical results. Use this package when you prefer the shorter import
// path. Applications embedding the engine long-term should work with
// [flow.Engine] directly.
package fluxwire

import (
	"context"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/quick"
)

// Option configures the engine assembled by [Run], [RunFile] and
// [RunDefinition].
type Option = quick.Option

// Run parses a JSON workflow definition, executes it and returns the
// terminal record.
func Run(ctx context.Context, definition []byte, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	return quick.Run(ctx, definition, env, opts...)
}

// RunFile loads a definition from a .json, .yaml or .yml file and
// executes it.
func RunFile(ctx context.Context, filename string, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	return quick.RunFile(ctx, filename, env, opts...)
}

// RunDefinition compiles and executes an already-parsed definition.
func RunDefinition(ctx context.Context, def *flow.Definition, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	return quick.RunDefinition(ctx, def, env, opts...)
}

// Re-export the quick options so callers never need to import quick/.

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithTimeout sets an overall deadline for the run.
var WithTimeout = quick.WithTimeout

// WithMaxConcurrentNodes caps how many nodes execute at the same time.
var WithMaxConcurrentNodes = quick.WithMaxConcurrentNodes

// WithNetwork replaces the default fetch client handed to http nodes.
var WithNetwork = quick.WithNetwork

// WithCompleter enables the ai node type by providing its model backend.
var WithCompleter = quick.WithCompleter

// WithObserver subscribes an observer to the run.
var WithObserver = quick.WithObserver
