// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

/*
Package flow implements the workflow execution engine: it turns a directed
graph of typed nodes plus per-node configuration into an ordered,
fault-tolerant, cancellable run, propagating each node's outputs to its
dependents.

# Core types

  - Graph / GraphBuilder  — immutable node/edge/starter description with
    structural validation (starter, dangling edges, cycles)
  - Definition            — serializable JSON/YAML wire format, compiled
    into a Graph with starter autodetection
  - Engine                — schedules runs with in-degree (Kahn) dependency
    tracking and independent-branch concurrency
  - RunHandle             — cancel a live run, await completion, snapshot
    its record
  - Behavior / Resolver   — node type name resolved to executable behavior
  - NodeContext           — per-execution capability set: config, env,
    outputs, logging, network
  - OutputRegistry        — per-run store of published node results
  - RunRecord             — per-run audit trail: statuses, timestamps,
    ordered log, per-node records
  - Observer              — synchronous subscription to log entries, node
    status transitions and run lifecycle transitions

# Execution model

The scheduler restricts itself to the subgraph reachable from the starter,
tracks per-node in-degrees and starts a node only once every predecessor
reached success. Independent branches run concurrently, optionally capped
by WithMaxConcurrentNodes. The default failure policy is fail-fast: the
first node failure cancels still-running sibling branches; disable it with
WithFailFast(false) to let in-flight branches drain. Cancellation is
cooperative through contexts; nodes that never started stay pending.

A minimal run:

	registry := flow.NewTypeRegistry(logger)
	registry.RegisterFunc("greet", func(ctx context.Context, nc *flow.NodeContext) (any, error) {
		return map[string]any{"greeting": "hello " + nc.Env["name"]}, nil
	})

	graph, err := flow.NewGraph("wf-1", "demo").
		AddNode("start", "starter", nil).
		AddNode("greet", "greet", nil).
		AddEdge("start", "greet").
		Starter("start").
		Build()
	if err != nil {
		return err
	}

	engine := flow.NewEngine(registry, flow.WithLogger(logger))
	handle, err := engine.Start(ctx, graph, map[string]string{"name": "ada"})
	if err != nil {
		return err
	}
	record, err := handle.Wait(ctx)
*/
package flow
