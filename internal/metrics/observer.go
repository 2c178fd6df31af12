package metrics

import (
	"sync"
	"time"

	"github.com/fluxwire/fluxwire/flow"
)

// Observer adapts a Collector to flow.Observer so runs, node executions
// and log entries are measured as they happen. Durations are derived from
// the running→terminal transition pair; one Observer may watch any number
// of concurrent runs.
type Observer struct {
	collector *Collector

	mu          sync.Mutex
	started     map[string]time.Time
	runsStarted map[string]time.Time
}

// NewObserver creates an observer recording into collector.
func NewObserver(collector *Collector) *Observer {
	return &Observer{
		collector:   collector,
		started:     make(map[string]time.Time),
		runsStarted: make(map[string]time.Time),
	}
}

// OnLogEntry implements flow.Observer.
func (o *Observer) OnLogEntry(entry flow.ExecutionLogEntry) {
	o.collector.RecordLogEntry(string(entry.Level))
}

// OnNodeStatusChange implements flow.Observer.
func (o *Observer) OnNodeStatusChange(change flow.NodeStatusChange) {
	key := change.RunID + "/" + change.NodeID

	switch {
	case change.To == flow.NodeStatusRunning:
		o.mu.Lock()
		o.started[key] = change.At
		o.mu.Unlock()

	case change.To.Terminal():
		o.mu.Lock()
		startedAt, ok := o.started[key]
		delete(o.started, key)
		o.mu.Unlock()

		var duration time.Duration
		if ok {
			duration = change.At.Sub(startedAt)
		}
		o.collector.RecordNodeExecution(change.NodeType, string(change.To), duration)
	}
}

// OnRunStatusChange implements flow.Observer.
func (o *Observer) OnRunStatusChange(change flow.RunStatusChange) {
	switch {
	case change.To == flow.RunStatusRunning:
		o.mu.Lock()
		o.runsStarted[change.RunID] = change.At
		o.mu.Unlock()
		o.collector.RecordRunStarted()

	case change.To.Terminal():
		o.mu.Lock()
		startedAt, ok := o.runsStarted[change.RunID]
		delete(o.runsStarted, change.RunID)
		o.mu.Unlock()

		var duration time.Duration
		if ok {
			duration = change.At.Sub(startedAt)
		}
		o.collector.RecordRunFinished(string(change.To), duration)
	}
}
