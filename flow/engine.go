package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fluxwire/fluxwire/types"
)

// Engine turns validated workflow graphs into runs: it schedules nodes in
// dependency order, executes independent branches concurrently, collects
// outputs and produces a terminal RunRecord per run. One Engine serves any
// number of concurrent runs.
type Engine struct {
	resolver           Resolver
	network            Network
	logger             *zap.Logger
	observers          []Observer
	maxConcurrentNodes int64
	defaultNodeTimeout time.Duration
	failFast           bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNetwork sets the outbound-call capability handed to every node.
func WithNetwork(network Network) Option {
	return func(e *Engine) { e.network = network }
}

// WithObserver subscribes an observer to every run this engine starts.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// WithMaxConcurrentNodes caps how many nodes of one run execute at the
// same time. Zero or negative means no cap.
func WithMaxConcurrentNodes(n int) Option {
	return func(e *Engine) { e.maxConcurrentNodes = int64(n) }
}

// WithDefaultNodeTimeout bounds every node execution that does not
// override it via the "timeoutMs" config key. Zero means no default bound.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultNodeTimeout = d }
}

// WithFailFast controls the failure policy. Enabled (the default), the
// first node failure cancels still-running sibling branches; disabled,
// in-flight branches drain to completion before the run finalizes as
// error. Either way the failed node's exclusive descendants never start.
func WithFailFast(enabled bool) Option {
	return func(e *Engine) { e.failFast = enabled }
}

// NewEngine creates an engine resolving node types through resolver.
func NewEngine(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   zap.NewNop(),
		failFast: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	return e
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	timeout   time.Duration
	observers []Observer
}

// WithRunTimeout sets an overall deadline for the run. A run exceeding it
// is cancelled and finalizes with status cancelled.
func WithRunTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = d }
}

// WithRunObserver subscribes an observer to this run only.
func WithRunObserver(observer Observer) RunOption {
	return func(o *runOptions) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// RunHandle is the caller's grip on a live run: cancel it, watch for
// completion, read record snapshots.
type RunHandle struct {
	id     string
	record *RunRecord
	ctrl   *runControl
	done   chan struct{}
}

// ID returns the run identifier.
func (h *RunHandle) ID() string { return h.id }

// Cancel requests cancellation of the run. Nodes not yet started stay
// pending; in-flight nodes receive the signal through their contexts.
func (h *RunHandle) Cancel() { h.ctrl.CancelExternal() }

// Done is closed once the run reaches a terminal status.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Record returns a snapshot of the run's record, safe to read at any time.
func (h *RunHandle) Record() *RunRecord { return h.record.Snapshot() }

// Wait blocks until the run finalizes and returns the terminal record. The
// context bounds the wait only; cancelling it does not cancel the run.
func (h *RunHandle) Wait(ctx context.Context) (*RunRecord, error) {
	select {
	case <-h.done:
		return h.record.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start validates the graph and launches a run. Validation failures are
// returned directly and no run is created; once a handle is returned all
// further failures surface only through the run's record. env is copied
// and exposed read-only to every node.
func (e *Engine) Start(ctx context.Context, g *Graph, env map[string]string, opts ...RunOption) (*RunHandle, error) {
	if e.resolver == nil {
		return nil, types.NewError(types.ErrInternalError, "engine requires a resolver")
	}
	if g == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "graph cannot be nil")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	envCopy := make(map[string]string, len(env))
	for k, v := range env {
		envCopy[k] = v
	}

	runID := uuid.NewString()
	observer := combineObservers(append(append([]Observer{}, e.observers...), options.observers...)...)
	record := newRunRecord(runID, g, observer)
	ctrl := newRunControl(ctx, options.timeout)

	reachable := g.Reachable()
	s := &scheduler{
		graph:              g,
		resolver:           e.resolver,
		network:            e.network,
		logger:             e.logger.With(zap.String("run_id", runID)),
		record:             record,
		registry:           NewOutputRegistry(),
		ctrl:               ctrl,
		env:                envCopy,
		reachable:          reachable,
		indegree:           g.indegrees(reachable),
		results:            make(chan nodeResult, len(reachable)),
		failFast:           e.failFast,
		defaultNodeTimeout: e.defaultNodeTimeout,
	}
	if e.maxConcurrentNodes > 0 {
		s.sem = semaphore.NewWeighted(e.maxConcurrentNodes)
	}

	handle := &RunHandle{id: runID, record: record, ctrl: ctrl, done: make(chan struct{})}
	go s.run(handle)
	return handle, nil
}

// nodeResult is a worker's report back to the scheduler loop.
type nodeResult struct {
	nodeID string
	status NodeStatus
}

// scheduler drives one run. The loop goroutine exclusively owns the ready
// queue and in-degree counters; workers only touch the record, the
// registry and the results channel.
type scheduler struct {
	graph              *Graph
	resolver           Resolver
	network            Network
	logger             *zap.Logger
	record             *RunRecord
	registry           *OutputRegistry
	ctrl               *runControl
	env                map[string]string
	reachable          map[string]bool
	indegree           map[string]int
	results            chan nodeResult
	sem                *semaphore.Weighted
	failFast           bool
	defaultNodeTimeout time.Duration
}

func (s *scheduler) run(handle *RunHandle) {
	defer close(handle.done)
	defer s.ctrl.release()

	s.record.runStarted()
	s.record.appendLog(LogLevelInfo, "", fmt.Sprintf("run started: workflow %s", s.graph.ID()))
	s.logger.Info("run started",
		zap.String("workflow_id", s.graph.ID()),
		zap.Int("reachable_nodes", len(s.reachable)),
	)

	ready := []string{s.graph.StarterID()}
	running := 0
	anyError := false

	for len(ready) > 0 || running > 0 {
		// Start every currently-ready node in FIFO order, unless
		// cancellation was requested; dropped nodes stay pending.
		for len(ready) > 0 && !s.ctrl.requested() {
			if s.sem != nil {
				if err := s.sem.Acquire(s.ctrl.ctx, 1); err != nil {
					break
				}
			}
			id := ready[0]
			ready = ready[1:]
			running++
			s.launch(id)
		}

		if running == 0 {
			break
		}

		res := <-s.results
		running--

		switch res.status {
		case NodeStatusSuccess:
			for _, e := range s.graph.OutgoingEdges(res.nodeID) {
				if !s.reachable[e.Target] {
					continue
				}
				s.indegree[e.Target]--
				if s.indegree[e.Target] == 0 {
					ready = append(ready, e.Target)
				}
			}
		case NodeStatusError:
			anyError = true
			if s.failFast {
				s.ctrl.cancelFailFast(res.nodeID)
			}
		}
	}

	status := RunStatusSuccess
	switch {
	case anyError:
		status = RunStatusError
	case s.ctrl.requested():
		status = RunStatusCancelled
	}

	if s.ctrl.requested() {
		if cause := s.ctrl.cause(); cause != nil {
			s.record.appendLog(LogLevelWarn, cause.NodeID, cause.Message)
		}
	}
	s.record.appendLog(LogLevelInfo, "", fmt.Sprintf("run finished: %s", status))
	s.record.finalize(status)

	s.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int64("duration_ms", s.record.Snapshot().DurationMs),
	)
}

// launch transitions a node to running and executes it on its own
// goroutine. The results channel is buffered to the reachable node count,
// so workers never block reporting back.
func (s *scheduler) launch(nodeID string) {
	node, ok := s.graph.NodeByID(nodeID)
	if !ok {
		// Validation guarantees this cannot happen.
		s.results <- nodeResult{nodeID: nodeID, status: NodeStatusError}
		return
	}
	s.record.nodeStarted(nodeID)
	s.logger.Debug("node started",
		zap.String("node_id", nodeID),
		zap.String("node_type", node.Type),
	)

	go func() {
		defer func() {
			if s.sem != nil {
				s.sem.Release(1)
			}
		}()
		status := s.executeNode(node)
		s.results <- nodeResult{nodeID: node.ID, status: status}
	}()
}

// executeNode resolves and runs one node's behavior, publishes its result
// and settles its record. Always returns the node's terminal status.
func (s *scheduler) executeNode(node *Node) NodeStatus {
	behavior, ok := s.resolver.Resolve(node.Type)
	if !ok {
		terr := types.Errorf(types.ErrUnknownNodeType, "no behavior registered for node type %q", node.Type).WithNode(node.ID)
		return s.finishNode(node, NodeStatusError, terr)
	}

	timeout := s.defaultNodeTimeout
	if ms, ok := toInt(node.Config["timeoutMs"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	nodeCtx, cancel := s.ctrl.nodeContext(node.ID, timeout)
	defer cancel()

	nc := &NodeContext{
		RunID:      s.record.ID,
		WorkflowID: s.graph.ID(),
		NodeID:     node.ID,
		NodeType:   node.Type,
		Config:     copyValues(node.Config),
		Env:        s.env,
		Network:    s.network,
		logger:     s.logger.With(zap.String("node_id", node.ID), zap.String("node_type", node.Type)),
		registry:   s.registry,
		record:     s.record,
	}

	result, err := s.invoke(nodeCtx, behavior, nc)
	if err != nil {
		status, terr := s.classify(nodeCtx, node, err)
		return s.finishNode(node, status, terr)
	}

	s.registry.merge(node.ID, result)
	return s.finishNode(node, NodeStatusSuccess, nil)
}

// invoke runs the behavior, converting a panic into a node execution
// error so one misbehaving node cannot take down the scheduler.
func (s *scheduler) invoke(ctx context.Context, behavior Behavior, nc *NodeContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrNodeExecution, "node panicked: %v", r).WithNode(nc.NodeID)
		}
	}()
	return behavior.Run(ctx, nc)
}

// classify maps a behavior failure to the node's terminal status. Run
// cancellation (caller, deadline or fail-fast) yields cancelled; a node
// timeout is the node's own failure and yields error, as does everything
// else.
func (s *scheduler) classify(nodeCtx context.Context, node *Node, err error) (NodeStatus, *types.Error) {
	if terr := types.AsError(err); terr != nil {
		if terr.Code == types.ErrCancelled {
			return NodeStatusCancelled, terr
		}
		return NodeStatusError, terr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cause := types.AsError(context.Cause(nodeCtx)); cause != nil {
			if cause.Code == types.ErrCancelled {
				return NodeStatusCancelled, cause
			}
			return NodeStatusError, cause
		}
		return NodeStatusCancelled, types.NewError(types.ErrCancelled, "run cancelled").WithCause(err)
	}

	return NodeStatusError, types.NewError(types.ErrNodeExecution, err.Error()).WithNode(node.ID).WithCause(err)
}

// finishNode settles the node's record with whatever outputs were
// published before it ended and logs non-success outcomes.
func (s *scheduler) finishNode(node *Node, status NodeStatus, terr *types.Error) NodeStatus {
	var msg string
	if terr != nil {
		msg = terr.Message
	}
	s.record.nodeFinished(node.ID, status, s.registry.Outputs(node.ID), msg)

	switch status {
	case NodeStatusError:
		s.record.appendLog(LogLevelError, node.ID, fmt.Sprintf("node %s failed: %s", node.ID, msg))
		s.logger.Error("node failed",
			zap.String("node_id", node.ID),
			zap.String("node_type", node.Type),
			zap.String("error", msg),
		)
	case NodeStatusCancelled:
		s.record.appendLog(LogLevelWarn, node.ID, fmt.Sprintf("node %s cancelled", node.ID))
		s.logger.Debug("node cancelled", zap.String("node_id", node.ID))
	default:
		s.logger.Debug("node finished", zap.String("node_id", node.ID))
	}
	return status
}
