package api

import (
	"encoding/json"
	"time"

	"github.com/fluxwire/fluxwire/flow"
)

// StartRunRequest starts a workflow run from an inline definition.
type StartRunRequest struct {
	// Definition is the workflow in the flow.Definition JSON shape.
	Definition json.RawMessage `json:"definition"`
	// Env seeds the run's read-only environment.
	Env map[string]string `json:"env,omitempty"`
	// TimeoutMs bounds the whole run; 0 leaves it unbounded.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Status       flow.RunStatus `json:"status"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Status       flow.RunStatus `json:"status"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	// Active marks runs still executing in this process.
	Active bool `json:"active"`
}

// NewRunSummary projects a record into its list view.
func NewRunSummary(rec *flow.RunRecord, active bool) RunSummary {
	return RunSummary{
		RunID:        rec.ID,
		WorkflowID:   rec.WorkflowID,
		WorkflowName: rec.WorkflowName,
		Status:       rec.Status,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		DurationMs:   rec.DurationMs,
		Active:       active,
	}
}

// ListRunsResponse pages run summaries, newest first.
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// RunLogsResponse carries a run's ordered execution log.
type RunLogsResponse struct {
	RunID string                   `json:"run_id"`
	Logs  []flow.ExecutionLogEntry `json:"logs"`
}

// CancelRunResponse acknowledges a cancellation request.
type CancelRunResponse struct {
	RunID string `json:"run_id"`
	// Cancelling reports whether the run was still active; the final
	// status lands on the record once in-flight nodes settle.
	Cancelling bool `json:"cancelling"`
}

// ValidateWorkflowRequest checks a definition without running it.
type ValidateWorkflowRequest struct {
	Definition json.RawMessage `json:"definition"`
}

// ValidateWorkflowResponse reports structural validation of a definition.
type ValidateWorkflowResponse struct {
	Valid      bool   `json:"valid"`
	WorkflowID string `json:"workflow_id,omitempty"`
	StarterID  string `json:"starter_id,omitempty"`
	NodeCount  int    `json:"node_count,omitempty"`
	EdgeCount  int    `json:"edge_count,omitempty"`
	// Code and Error describe the first failure for invalid definitions.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// NodeTypesResponse lists the node types the engine can execute.
type NodeTypesResponse struct {
	Types []string `json:"types"`
}
