package flow

import (
	"context"
	"time"

	"github.com/fluxwire/fluxwire/types"
)

// runControl is the cancellation controller for one run. It owns the run
// context every node context derives from; cancelling it stops the
// scheduler from starting further nodes and propagates into all in-flight
// behaviors.
type runControl struct {
	ctx           context.Context
	cancel        context.CancelCauseFunc
	cancelTimeout context.CancelFunc
}

// newRunControl derives the run context from parent, applying the optional
// run-level deadline. A run that exceeds its deadline finalizes as
// cancelled.
func newRunControl(parent context.Context, runTimeout time.Duration) *runControl {
	ctx, cancel := context.WithCancelCause(parent)
	c := &runControl{ctx: ctx, cancel: cancel}
	if runTimeout > 0 {
		deadlineCause := types.Errorf(types.ErrCancelled, "run exceeded deadline of %s", runTimeout)
		c.ctx, c.cancelTimeout = context.WithTimeoutCause(c.ctx, runTimeout, deadlineCause)
	}
	return c
}

// Cancel requests run cancellation with the given cause. The first cause
// wins; later calls are no-ops.
func (c *runControl) Cancel(cause *types.Error) {
	c.cancel(cause)
}

// CancelExternal requests cancellation on behalf of the caller.
func (c *runControl) CancelExternal() {
	c.Cancel(types.NewError(types.ErrCancelled, "run cancelled by caller"))
}

// cancelFailFast requests cancellation of the remaining branches after a
// node failure under the fail-fast policy.
func (c *runControl) cancelFailFast(failedNodeID string) {
	c.Cancel(types.Errorf(types.ErrCancelled, "cancelling remaining branches: node %s failed", failedNodeID).WithNode(failedNodeID))
}

// release frees the deadline timer. Call once the run has finalized.
func (c *runControl) release() {
	if c.cancelTimeout != nil {
		c.cancelTimeout()
	}
	c.cancel(nil)
}

// requested reports whether cancellation has been signalled, whatever the
// source: caller, run deadline, fail-fast policy or parent context.
func (c *runControl) requested() bool {
	return c.ctx.Err() != nil
}

// cause returns the typed cancellation cause, or nil when the run is not
// cancelled or the cause carries no type (plain parent cancellation).
func (c *runControl) cause() *types.Error {
	return types.AsError(context.Cause(c.ctx))
}

// nodeContext derives one node execution's context, stacking the node's
// own timeout on top of the run context. The returned cancel must be
// called when the execution ends.
func (c *runControl) nodeContext(nodeID string, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	timeoutCause := types.Errorf(types.ErrTimeout, "node exceeded timeout of %s", timeout).WithNode(nodeID)
	return context.WithTimeoutCause(c.ctx, timeout, timeoutCause)
}
