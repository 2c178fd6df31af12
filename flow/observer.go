package flow

import (
	"time"

	"go.uber.org/zap"
)

// RunStatusChange describes a run-level state transition. The first event
// of every run announces the running state; the second and last announces
// the terminal status.
type RunStatusChange struct {
	RunID        string    `json:"run_id"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	From         RunStatus `json:"from,omitempty"`
	To           RunStatus `json:"to"`
	At           time.Time `json:"at"`
}

// NodeStatusChange describes one node state transition within a run.
type NodeStatusChange struct {
	RunID    string     `json:"run_id"`
	NodeID   string     `json:"node_id"`
	NodeType string     `json:"node_type"`
	From     NodeStatus `json:"from"`
	To       NodeStatus `json:"to"`
	At       time.Time  `json:"at"`
}

// Observer receives a run's three notification streams: appended log
// entries, node status transitions and run status transitions. Callbacks
// fire synchronously with the engine's state changes, so implementations
// must return quickly and must not call back into the engine.
type Observer interface {
	OnLogEntry(entry ExecutionLogEntry)
	OnNodeStatusChange(change NodeStatusChange)
	OnRunStatusChange(change RunStatusChange)
}

type noopObserver struct{}

func (noopObserver) OnLogEntry(ExecutionLogEntry)        {}
func (noopObserver) OnNodeStatusChange(NodeStatusChange) {}
func (noopObserver) OnRunStatusChange(RunStatusChange)   {}

// multiObserver fans events out to several observers in order.
type multiObserver []Observer

func (m multiObserver) OnLogEntry(entry ExecutionLogEntry) {
	for _, o := range m {
		o.OnLogEntry(entry)
	}
}

func (m multiObserver) OnNodeStatusChange(change NodeStatusChange) {
	for _, o := range m {
		o.OnNodeStatusChange(change)
	}
}

func (m multiObserver) OnRunStatusChange(change RunStatusChange) {
	for _, o := range m {
		o.OnRunStatusChange(change)
	}
}

// combineObservers flattens the given observers into a single one,
// returning noopObserver when none are supplied.
func combineObservers(observers ...Observer) Observer {
	var flat multiObserver
	for _, o := range observers {
		if o == nil {
			continue
		}
		if m, ok := o.(multiObserver); ok {
			flat = append(flat, m...)
			continue
		}
		flat = append(flat, o)
	}
	switch len(flat) {
	case 0:
		return noopObserver{}
	case 1:
		return flat[0]
	default:
		return flat
	}
}

// LoggingObserver mirrors run events onto a zap logger.
type LoggingObserver struct {
	logger *zap.Logger
}

// NewLoggingObserver creates an observer writing to logger.
func NewLoggingObserver(logger *zap.Logger) *LoggingObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingObserver{logger: logger.With(zap.String("component", "run_observer"))}
}

func (o *LoggingObserver) OnLogEntry(entry ExecutionLogEntry) {
	fields := []zap.Field{
		zap.String("node_id", entry.NodeID),
		zap.Time("at", entry.Timestamp),
	}
	switch entry.Level {
	case LogLevelError:
		o.logger.Error(entry.Message, fields...)
	case LogLevelWarn:
		o.logger.Warn(entry.Message, fields...)
	default:
		o.logger.Info(entry.Message, fields...)
	}
}

func (o *LoggingObserver) OnNodeStatusChange(change NodeStatusChange) {
	o.logger.Debug("node status changed",
		zap.String("run_id", change.RunID),
		zap.String("node_id", change.NodeID),
		zap.String("node_type", change.NodeType),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)
}

func (o *LoggingObserver) OnRunStatusChange(change RunStatusChange) {
	o.logger.Info("run status changed",
		zap.String("run_id", change.RunID),
		zap.String("workflow_id", change.WorkflowID),
		zap.String("to", string(change.To)),
	)
}
