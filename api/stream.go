package api

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
)

// Stream event type names.
const (
	EventLog         = "log"
	EventNodeStatus  = "node_status"
	EventRunFinished = "run_finished"
)

// StreamEvent is one message on a run's event stream. Exactly one of the
// payload fields is set, matching Type.
type StreamEvent struct {
	Type       string                  `json:"type"`
	RunID      string                  `json:"run_id"`
	Log        *flow.ExecutionLogEntry `json:"log,omitempty"`
	NodeStatus *flow.NodeStatusChange  `json:"node_status,omitempty"`
	RunStatus  *flow.RunStatusChange   `json:"run_status,omitempty"`
}

// RunHub fans engine observer callbacks out to per-run subscribers. It is
// registered as an engine-level flow.Observer, so one hub serves every
// concurrent run. Delivery never blocks the engine: a subscriber whose
// buffer is full loses the event instead.
type RunHub struct {
	logger *zap.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan StreamEvent
}

// NewRunHub creates a hub. logger may be nil.
func NewRunHub(logger *zap.Logger) *RunHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHub{
		logger: logger.With(zap.String("component", "run_hub")),
		subs:   make(map[string]map[uint64]chan StreamEvent),
	}
}

// Subscribe registers for one run's events. The returned channel closes
// after the run's terminal event has been delivered. cancel is idempotent
// and detaches the subscription without closing the channel; callers that
// outlive the run must still call it.
func (h *RunHub) Subscribe(runID string, buffer int) (<-chan StreamEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan StreamEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[uint64]chan StreamEvent)
	}
	h.subs[runID][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[runID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subs, runID)
			}
		}
	}
	return ch, cancel
}

// Subscribers reports the open subscription count for a run.
func (h *RunHub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// OnLogEntry implements flow.Observer.
func (h *RunHub) OnLogEntry(entry flow.ExecutionLogEntry) {
	e := entry
	h.publish(entry.RunID, StreamEvent{Type: EventLog, RunID: entry.RunID, Log: &e})
}

// OnNodeStatusChange implements flow.Observer.
func (h *RunHub) OnNodeStatusChange(change flow.NodeStatusChange) {
	c := change
	h.publish(change.RunID, StreamEvent{Type: EventNodeStatus, RunID: change.RunID, NodeStatus: &c})
}

// OnRunStatusChange implements flow.Observer. The terminal transition is
// the stream's last event; every subscriber channel closes after it.
func (h *RunHub) OnRunStatusChange(change flow.RunStatusChange) {
	if !change.To.Terminal() {
		return
	}
	c := change
	h.publish(change.RunID, StreamEvent{Type: EventRunFinished, RunID: change.RunID, RunStatus: &c})
	h.closeRun(change.RunID)
}

func (h *RunHub) publish(runID string, event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[runID] {
		select {
		case ch <- event:
		default:
			h.logger.Debug("subscriber buffer full, dropping event",
				zap.String("run_id", runID),
				zap.String("type", event.Type),
			)
		}
	}
}

// closeRun detaches and closes every subscription of a finished run. The
// channels leave the map before closing, so a concurrent cancel cannot
// race the close.
func (h *RunHub) closeRun(runID string) {
	h.mu.Lock()
	subs := h.subs[runID]
	delete(h.subs, runID)
	h.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
