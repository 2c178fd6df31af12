package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the lifecycle state of one node within a run:
// pending → running → {success | error | cancelled}.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusError     NodeStatus = "error"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status is one of the right-hand states.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusError || s == NodeStatusCancelled
}

// RunStatus is the lifecycle state of a whole run. A run is created
// already running; every other state is terminal.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool { return s != RunStatusRunning && s != "" }

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLogEntry is one line of a run's append-only audit log. RunID
// attributes the entry when observers watch several runs at once.
type ExecutionLogEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeExecutionRecord is the audit entry for a single node. StartTime is
// zero for nodes that never left pending.
type NodeExecutionRecord struct {
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Status     NodeStatus     `json:"status"`
	StartTime  time.Time      `json:"start_time,omitempty"`
	EndTime    time.Time      `json:"end_time,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// RunRecord is the full audit trail of one run: status, timestamps, the
// ordered log, and a record per node. The engine mutates it in place while
// the run is live; external readers must go through Snapshot (or a
// RunHandle), which returns an isolated copy.
type RunRecord struct {
	mu       sync.RWMutex
	observer Observer

	ID           string                          `json:"id"`
	WorkflowID   string                          `json:"workflow_id"`
	WorkflowName string                          `json:"workflow_name,omitempty"`
	Status       RunStatus                       `json:"status"`
	StartTime    time.Time                       `json:"start_time"`
	EndTime      time.Time                       `json:"end_time,omitempty"`
	DurationMs   int64                           `json:"duration_ms"`
	Logs         []ExecutionLogEntry             `json:"logs"`
	Nodes        map[string]*NodeExecutionRecord `json:"nodes"`
}

// newRunRecord creates a running record with every graph node seeded as
// pending. observer must not be nil; use noopObserver.
func newRunRecord(runID string, g *Graph, observer Observer) *RunRecord {
	rec := &RunRecord{
		observer:     observer,
		ID:           runID,
		WorkflowID:   g.ID(),
		WorkflowName: g.Name(),
		Status:       RunStatusRunning,
		StartTime:    time.Now(),
		Nodes:        make(map[string]*NodeExecutionRecord, len(g.nodes)),
	}
	for id, n := range g.nodes {
		rec.Nodes[id] = &NodeExecutionRecord{
			NodeID:   id,
			NodeType: n.Type,
			Status:   NodeStatusPending,
		}
	}
	return rec
}

// Snapshot returns a deep copy safe to read, serialize or persist while
// the run is still mutating the original.
func (r *RunRecord) Snapshot() *RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &RunRecord{
		ID:           r.ID,
		WorkflowID:   r.WorkflowID,
		WorkflowName: r.WorkflowName,
		Status:       r.Status,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		DurationMs:   r.DurationMs,
		Logs:         make([]ExecutionLogEntry, len(r.Logs)),
		Nodes:        make(map[string]*NodeExecutionRecord, len(r.Nodes)),
	}
	copy(snap.Logs, r.Logs)
	for id, nr := range r.Nodes {
		cp := *nr
		cp.Outputs = copyValues(nr.Outputs)
		snap.Nodes[id] = &cp
	}
	return snap
}

// Node returns a copy of one node's record.
func (r *RunRecord) Node(nodeID string) (*NodeExecutionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nr, ok := r.Nodes[nodeID]
	if !ok {
		return nil, false
	}
	cp := *nr
	cp.Outputs = copyValues(nr.Outputs)
	return &cp, true
}

// CurrentStatus returns the run status under the record lock.
func (r *RunRecord) CurrentStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// appendLog appends an entry and notifies the observer. nodeID may be
// empty for run-level entries.
func (r *RunRecord) appendLog(level LogLevel, nodeID, message string) {
	entry := ExecutionLogEntry{
		ID:        uuid.NewString(),
		RunID:     r.ID,
		NodeID:    nodeID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	r.mu.Lock()
	r.Logs = append(r.Logs, entry)
	r.mu.Unlock()

	r.observer.OnLogEntry(entry)
}

// nodeStarted transitions a node from pending to running.
func (r *RunRecord) nodeStarted(nodeID string) {
	r.mu.Lock()
	nr, ok := r.Nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := nr.Status
	nr.Status = NodeStatusRunning
	nr.StartTime = time.Now()
	change := r.changeLocked(nr, from)
	r.mu.Unlock()

	r.observer.OnNodeStatusChange(change)
}

// nodeFinished transitions a node to a terminal status, recording its
// duration, output snapshot and error message.
func (r *RunRecord) nodeFinished(nodeID string, status NodeStatus, outputs map[string]any, errMsg string) {
	r.mu.Lock()
	nr, ok := r.Nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := nr.Status
	nr.Status = status
	nr.EndTime = time.Now()
	if !nr.StartTime.IsZero() {
		nr.DurationMs = nr.EndTime.Sub(nr.StartTime).Milliseconds()
	}
	nr.Outputs = outputs
	nr.Error = errMsg
	change := r.changeLocked(nr, from)
	r.mu.Unlock()

	r.observer.OnNodeStatusChange(change)
}

// runStarted announces the initial running state to the observer.
func (r *RunRecord) runStarted() {
	r.observer.OnRunStatusChange(RunStatusChange{
		RunID:        r.ID,
		WorkflowID:   r.WorkflowID,
		WorkflowName: r.WorkflowName,
		To:           RunStatusRunning,
		At:           r.StartTime,
	})
}

// finalize freezes the run with its terminal status. Later calls are
// ignored so the record is frozen exactly once.
func (r *RunRecord) finalize(status RunStatus) {
	r.mu.Lock()
	if r.Status != RunStatusRunning {
		r.mu.Unlock()
		return
	}
	r.Status = status
	r.EndTime = time.Now()
	r.DurationMs = r.EndTime.Sub(r.StartTime).Milliseconds()
	change := RunStatusChange{
		RunID:        r.ID,
		WorkflowID:   r.WorkflowID,
		WorkflowName: r.WorkflowName,
		From:         RunStatusRunning,
		To:           status,
		At:           r.EndTime,
	}
	r.mu.Unlock()

	r.observer.OnRunStatusChange(change)
}

func (r *RunRecord) changeLocked(nr *NodeExecutionRecord, from NodeStatus) NodeStatusChange {
	return NodeStatusChange{
		RunID:    r.ID,
		NodeID:   nr.NodeID,
		NodeType: nr.NodeType,
		From:     from,
		To:       nr.Status,
		At:       time.Now(),
	}
}
