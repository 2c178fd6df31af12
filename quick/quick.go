// Package quick runs workflow definitions with one call and no server.
// It assembles a throwaway engine with the builtin node types and a
// default fetch client, starts the run, and blocks until it finalizes.
//
// The package lives under quick/ (not root) so the root package can
// re-export flow types without an import cycle.
//
// Usage:
//
//	import "github.com/fluxwire/fluxwire/quick"
//
//	rec, err := quick.RunFile(ctx, "pipeline.yaml", nil)
//	rec, err := quick.Run(ctx, definitionJSON, map[string]string{"API_KEY": key})
package quick

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/fetch"
	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/nodes"
)

// Option configures the engine assembled by Run, RunFile and RunDefinition.
type Option func(*options)

type options struct {
	logger             *zap.Logger
	timeout            time.Duration
	maxConcurrentNodes int
	network            flow.Network
	completer          nodes.Completer
	observers          []flow.Observer
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTimeout sets an overall deadline for the run. A run exceeding it is
// cancelled and finalizes with status cancelled.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxConcurrentNodes caps how many nodes execute at the same time.
func WithMaxConcurrentNodes(n int) Option {
	return func(o *options) { o.maxConcurrentNodes = n }
}

// WithNetwork replaces the default fetch client handed to http nodes.
func WithNetwork(network flow.Network) Option {
	return func(o *options) { o.network = network }
}

// WithCompleter enables the ai node type by providing its model backend.
// Without one, ai nodes fail at execution time.
func WithCompleter(c nodes.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithObserver subscribes an observer to the run.
func WithObserver(observer flow.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.network == nil {
		o.network = fetch.New(fetch.WithLogger(o.logger))
	}
	return o
}

// NewEngine assembles an engine with the builtin node types registered.
// Use it when the application keeps the engine around instead of paying
// registry construction per run.
func NewEngine(opts ...Option) (*flow.Engine, error) {
	return buildOptions(opts).engine()
}

func (o *options) engine() (*flow.Engine, error) {
	registry := flow.NewTypeRegistry(o.logger)

	nodeOpts := []nodes.Option{nodes.WithLogger(o.logger)}
	if o.completer != nil {
		nodeOpts = append(nodeOpts, nodes.WithCompleter(o.completer))
	}
	if err := nodes.RegisterAll(registry, nodeOpts...); err != nil {
		return nil, err
	}

	engineOpts := []flow.Option{
		flow.WithLogger(o.logger),
		flow.WithNetwork(o.network),
	}
	if o.maxConcurrentNodes > 0 {
		engineOpts = append(engineOpts, flow.WithMaxConcurrentNodes(o.maxConcurrentNodes))
	}
	for _, obs := range o.observers {
		engineOpts = append(engineOpts, flow.WithObserver(obs))
	}
	return flow.NewEngine(registry, engineOpts...), nil
}

// Run parses a JSON workflow definition, executes it and returns the
// terminal record. env is exposed read-only to every node.
func Run(ctx context.Context, definition []byte, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	def, err := flow.DefinitionFromJSON(definition)
	if err != nil {
		return nil, err
	}
	return RunDefinition(ctx, def, env, opts...)
}

// RunFile loads a definition from a .json, .yaml or .yml file and
// executes it.
func RunFile(ctx context.Context, filename string, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	def, err := flow.LoadDefinition(filename)
	if err != nil {
		return nil, err
	}
	return RunDefinition(ctx, def, env, opts...)
}

// RunDefinition compiles and executes an already-parsed definition,
// blocking until the run finalizes or ctx is done. Cancelling ctx cancels
// the run.
func RunDefinition(ctx context.Context, def *flow.Definition, env map[string]string, opts ...Option) (*flow.RunRecord, error) {
	o := buildOptions(opts)

	engine, err := o.engine()
	if err != nil {
		return nil, err
	}

	graph, err := def.Graph()
	if err != nil {
		return nil, err
	}

	var runOpts []flow.RunOption
	if o.timeout > 0 {
		runOpts = append(runOpts, flow.WithRunTimeout(o.timeout))
	}

	handle, err := engine.Start(ctx, graph, env, runOpts...)
	if err != nil {
		return nil, err
	}

	select {
	case <-handle.Done():
		return handle.Record(), nil
	case <-ctx.Done():
		handle.Cancel()
		<-handle.Done()
		return handle.Record(), ctx.Err()
	}
}
