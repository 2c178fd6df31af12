package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/api"
	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/store"
	"github.com/fluxwire/fluxwire/types"
)

const simpleDef = `{
	"id": "wf-demo",
	"name": "Demo",
	"nodes": [
		{"id": "s", "type": "starter"},
		{"id": "w", "type": "work"}
	],
	"edges": [{"source": "s", "target": "w"}]
}`

const gateDef = `{
	"id": "wf-gated",
	"name": "Gated",
	"nodes": [
		{"id": "s", "type": "starter"},
		{"id": "g", "type": "gate"}
	],
	"edges": [{"source": "s", "target": "g"}]
}`

const cycleDef = `{
	"id": "wf-cycle",
	"nodes": [
		{"id": "s", "type": "starter"},
		{"id": "a", "type": "work"},
		{"id": "b", "type": "work"}
	],
	"edges": [
		{"source": "s", "target": "a"},
		{"source": "a", "target": "b"},
		{"source": "b", "target": "a"}
	]
}`

// testHarness assembles a run service over a real engine, an in-memory
// store and an event hub. The gate behavior blocks until release closes.
type testHarness struct {
	svc     *RunService
	mux     *http.ServeMux
	hub     *api.RunHub
	store   store.RunStore
	release chan struct{}
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{release: make(chan struct{})}

	registry := flow.NewTypeRegistry(nil)
	require.NoError(t, registry.RegisterFunc("starter", func(ctx context.Context, nc *flow.NodeContext) (any, error) {
		return nil, nil
	}))
	require.NoError(t, registry.RegisterFunc("work", func(ctx context.Context, nc *flow.NodeContext) (any, error) {
		nc.Log("working")
		return map[string]any{"ok": true}, nil
	}))
	require.NoError(t, registry.RegisterFunc("gate", func(ctx context.Context, nc *flow.NodeContext) (any, error) {
		select {
		case <-h.release:
			nc.Log("gate opened")
			return map[string]any{"opened": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	h.hub = api.NewRunHub(zap.NewNop())
	h.store = store.NewMemoryStore()
	engine := flow.NewEngine(registry, flow.WithObserver(h.hub))

	h.svc = NewRunService(engine, registry, h.store, h.hub, nil, zap.NewNop())
	h.mux = http.NewServeMux()
	h.svc.RegisterRoutes(h.mux)
	return h
}

func (h *testHarness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, reader)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, r)
	return w
}

// decodeData unwraps the success envelope into a typed payload.
func decodeData[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	require.True(t, resp.Success, "expected a success envelope")

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func decodeError(t *testing.T, body io.Reader) *ErrorInfo {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func (h *testHarness) startRun(t *testing.T, def string) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/runs", `{"definition":`+def+`}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	started := decodeData[api.StartRunResponse](t, w.Body)
	require.NotEmpty(t, started.RunID)
	return started.RunID
}

// awaitArchived waits until the run left the active set and reached the
// store, returning the archived record.
func (h *testHarness) awaitArchived(t *testing.T, runID string) *flow.RunRecord {
	t.Helper()
	var rec *flow.RunRecord
	require.Eventually(t, func() bool {
		if _, active := h.svc.active.Load(runID); active {
			return false
		}
		got, err := h.store.Get(context.Background(), runID)
		if err != nil {
			return false
		}
		rec = got
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

func TestRunService_StartRun(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/runs", `{"definition":`+simpleDef+`}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	started := decodeData[api.StartRunResponse](t, w.Body)
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, "wf-demo", started.WorkflowID)
	assert.Equal(t, "Demo", started.WorkflowName)
	assert.Equal(t, flow.RunStatusRunning, started.Status)

	rec := h.awaitArchived(t, started.RunID)
	assert.Equal(t, flow.RunStatusSuccess, rec.Status)
	assert.Equal(t, flow.NodeStatusSuccess, rec.Nodes["w"].Status)
}

func TestRunService_StartRunRejectsBadRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		body     string
		noCT     bool
		wantCode types.ErrorCode
	}{
		{
			name:     "missing content type",
			body:     `{"definition":` + simpleDef + `}`,
			noCT:     true,
			wantCode: types.ErrInvalidRequest,
		},
		{
			name:     "empty definition",
			body:     `{}`,
			wantCode: types.ErrInvalidRequest,
		},
		{
			name:     "malformed definition",
			body:     `{"definition":{"id":"x","nodes":[]}}`,
			wantCode: types.ErrInvalidRequest,
		},
		{
			name:     "cyclic definition",
			body:     `{"definition":` + cycleDef + `}`,
			wantCode: types.ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))
			if !tt.noCT {
				r.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			h.mux.ServeHTTP(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			info := decodeError(t, w.Body)
			assert.Equal(t, string(tt.wantCode), info.Code)
		})
	}
}

func TestRunService_StartRunUnknownNodeType(t *testing.T) {
	h := newHarness(t)

	def := `{
		"id": "wf-bad",
		"nodes": [{"id": "s", "type": "no-such-type"}]
	}`
	id := h.startRun(t, def)

	// Unknown types surface during execution, not submission.
	rec := h.awaitArchived(t, id)
	assert.Equal(t, flow.RunStatusError, rec.Status)
}

func TestRunService_RunTimeout(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/runs",
		`{"definition":`+gateDef+`, "timeout_ms": 50}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decodeData[api.StartRunResponse](t, w.Body)

	rec := h.awaitArchived(t, started.RunID)
	assert.Equal(t, flow.RunStatusCancelled, rec.Status)
}

func TestRunService_GetRun(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t, simpleDef)
	h.awaitArchived(t, id)

	w := h.do(t, http.MethodGet, "/api/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec := decodeData[flow.RunRecord](t, w.Body)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "wf-demo", rec.WorkflowID)
	assert.Equal(t, flow.RunStatusSuccess, rec.Status)
	assert.NotEmpty(t, rec.Logs)
}

func TestRunService_GetRunWhileActive(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t, gateDef)

	w := h.do(t, http.MethodGet, "/api/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	rec := decodeData[flow.RunRecord](t, w.Body)
	assert.Equal(t, flow.RunStatusRunning, rec.Status)

	close(h.release)
	h.awaitArchived(t, id)
}

func TestRunService_GetRunNotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	info := decodeError(t, w.Body)
	assert.Equal(t, string(types.ErrRunNotFound), info.Code)
}

func TestRunService_RunLogs(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t, simpleDef)
	h.awaitArchived(t, id)

	w := h.do(t, http.MethodGet, "/api/v1/runs/"+id+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)

	logs := decodeData[api.RunLogsResponse](t, w.Body)
	assert.Equal(t, id, logs.RunID)

	messages := make([]string, 0, len(logs.Logs))
	for _, entry := range logs.Logs {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "working")
	assert.Contains(t, messages, "run finished: success")
}

func TestRunService_CancelRun(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t, gateDef)

	w := h.do(t, http.MethodPost, "/api/v1/runs/"+id+"/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	cancelled := decodeData[api.CancelRunResponse](t, w.Body)
	assert.Equal(t, id, cancelled.RunID)
	assert.True(t, cancelled.Cancelling)

	rec := h.awaitArchived(t, id)
	assert.Equal(t, flow.RunStatusCancelled, rec.Status)

	// Cancelling a finished run is a no-op.
	w = h.do(t, http.MethodPost, "/api/v1/runs/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	again := decodeData[api.CancelRunResponse](t, w.Body)
	assert.False(t, again.Cancelling)
}

func TestRunService_CancelRunNotFound(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/runs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunService_CancelActiveRuns(t *testing.T) {
	h := newHarness(t)
	first := h.startRun(t, gateDef)
	second := h.startRun(t, gateDef)

	n := h.svc.CancelActiveRuns()
	assert.Equal(t, 2, n)

	assert.Equal(t, flow.RunStatusCancelled, h.awaitArchived(t, first).Status)
	assert.Equal(t, flow.RunStatusCancelled, h.awaitArchived(t, second).Status)
}

func TestRunService_ListRuns(t *testing.T) {
	h := newHarness(t)

	demo := h.startRun(t, simpleDef)
	h.awaitArchived(t, demo)

	otherDef := strings.Replace(simpleDef, "wf-demo", "wf-other", 1)
	other := h.startRun(t, otherDef)
	h.awaitArchived(t, other)

	gated := h.startRun(t, gateDef)

	t.Run("all", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs", "")
		require.Equal(t, http.StatusOK, w.Code)

		list := decodeData[api.ListRunsResponse](t, w.Body)
		assert.Equal(t, 3, list.Count)
	})

	t.Run("by workflow", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs?workflow_id=wf-demo", "")
		list := decodeData[api.ListRunsResponse](t, w.Body)
		require.Equal(t, 1, list.Count)
		assert.Equal(t, demo, list.Runs[0].RunID)
		assert.False(t, list.Runs[0].Active)
	})

	t.Run("by status running", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs?status=running", "")
		list := decodeData[api.ListRunsResponse](t, w.Body)
		require.Equal(t, 1, list.Count)
		assert.Equal(t, gated, list.Runs[0].RunID)
		assert.True(t, list.Runs[0].Active)
	})

	t.Run("limit", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs?limit=2", "")
		list := decodeData[api.ListRunsResponse](t, w.Body)
		assert.Equal(t, 2, list.Count)
	})

	t.Run("invalid status", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs?status=bogus", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/runs?limit=-3", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	close(h.release)
	h.awaitArchived(t, gated)
}

func TestRunService_ListRunsSortedNewestFirst(t *testing.T) {
	h := newHarness(t)

	first := h.startRun(t, simpleDef)
	h.awaitArchived(t, first)
	second := h.startRun(t, simpleDef)
	h.awaitArchived(t, second)

	w := h.do(t, http.MethodGet, "/api/v1/runs", "")
	list := decodeData[api.ListRunsResponse](t, w.Body)
	require.Equal(t, 2, list.Count)
	assert.False(t, list.Runs[0].StartTime.Before(list.Runs[1].StartTime))
}

func TestRunService_ValidateWorkflow(t *testing.T) {
	h := newHarness(t)

	t.Run("valid", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/workflows/validate", `{"definition":`+simpleDef+`}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		verdict := decodeData[api.ValidateWorkflowResponse](t, w.Body)
		assert.True(t, verdict.Valid)
		assert.Equal(t, "wf-demo", verdict.WorkflowID)
		assert.Equal(t, "s", verdict.StarterID)
		assert.Equal(t, 2, verdict.NodeCount)
		assert.Equal(t, 1, verdict.EdgeCount)
	})

	t.Run("cycle reported, not rejected", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/workflows/validate", `{"definition":`+cycleDef+`}`)
		require.Equal(t, http.StatusOK, w.Code)

		verdict := decodeData[api.ValidateWorkflowResponse](t, w.Body)
		assert.False(t, verdict.Valid)
		assert.Equal(t, string(types.ErrCycleDetected), verdict.Code)
		assert.NotEmpty(t, verdict.Error)
	})

	t.Run("empty definition", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/workflows/validate", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRunService_NodeTypes(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/node-types", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeData[api.NodeTypesResponse](t, w.Body)
	assert.Equal(t, []string{"gate", "starter", "work"}, resp.Types)
}
