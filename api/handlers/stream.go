package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/api"
	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// HandleStreamRun serves GET /api/v1/runs/{id}/stream. The connection is
// upgraded to a WebSocket carrying the run's log entries, node status
// changes and final outcome as JSON events. Archived runs replay their
// outcome as a single event.
func (s *RunService) HandleStreamRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.hub == nil {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming is not enabled"), s.logger)
		return
	}

	// Resolve the run before upgrading so failures stay plain HTTP errors.
	var (
		handle *flow.RunHandle
		final  *flow.RunRecord
	)
	if v, ok := s.active.Load(id); ok {
		handle = v.(*flow.RunHandle)
	} else {
		rec, err := s.lookup(r.Context(), id)
		if err != nil {
			WriteError(w, coerceError(err), s.logger)
			return
		}
		final = rec
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed",
			zap.String("run_id", id),
			zap.Error(err),
		)
		return
	}

	stream := newStreamConn(conn, s.logger)
	defer stream.Close()

	// The client never sends data; CloseRead surfaces disconnects and
	// keeps control frames flowing.
	ctx := conn.CloseRead(r.Context())

	if final != nil {
		_ = stream.Write(ctx, finalEvent(final))
		return
	}

	events, cancel := s.hub.Subscribe(id, 0)
	defer cancel()

	// The run may have finished between the handle lookup and the
	// subscription, in which case the hub might never close our channel.
	// A terminal snapshot here means the outcome is already decided, so
	// serve it directly.
	if rec := handle.Record(); rec.Status.Terminal() {
		_ = stream.Write(ctx, finalEvent(rec))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.Write(ctx, ev); err != nil {
				return
			}
			if ev.Type == api.EventRunFinished {
				return
			}
		}
	}
}

// finalEvent condenses a finished run into the event a live subscriber
// would have received last.
func finalEvent(rec *flow.RunRecord) api.StreamEvent {
	return api.StreamEvent{
		Type:  api.EventRunFinished,
		RunID: rec.ID,
		RunStatus: &flow.RunStatusChange{
			RunID:        rec.ID,
			WorkflowID:   rec.WorkflowID,
			WorkflowName: rec.WorkflowName,
			From:         flow.RunStatusRunning,
			To:           rec.Status,
			At:           rec.EndTime,
		},
	}
}

// streamConn wraps a WebSocket connection for event delivery. Writes are
// mutex guarded because WebSockets forbid concurrent writers.
type streamConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

func newStreamConn(conn *websocket.Conn, logger *zap.Logger) *streamConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &streamConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "run_stream")),
	}
}

// Write sends one event as a JSON text message.
func (c *streamConn) Write(ctx context.Context, ev api.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("stream closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close performs the normal closure handshake once.
func (c *streamConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(websocket.StatusNormalClosure, "stream complete")
}
