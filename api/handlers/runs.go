package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/api"
	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/internal/pool"
	"github.com/fluxwire/fluxwire/store"
	"github.com/fluxwire/fluxwire/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunService exposes workflow runs over HTTP: starting, inspecting,
// cancelling and streaming them. Active runs live in memory until they
// finish; finished runs are archived to the store in the background.
type RunService struct {
	engine   *flow.Engine
	registry *flow.TypeRegistry
	store    store.RunStore   // nil disables archival and history
	hub      *api.RunHub      // nil disables streaming
	archive  *pool.WorkerPool // nil archives inline
	logger   *zap.Logger

	defaultRunTimeout time.Duration

	active sync.Map // run id -> *flow.RunHandle
}

// RunServiceOption configures a RunService.
type RunServiceOption func(*RunService)

// WithDefaultRunTimeout bounds runs whose start request carries no
// timeout of its own. Zero leaves such runs unbounded.
func WithDefaultRunTimeout(d time.Duration) RunServiceOption {
	return func(s *RunService) { s.defaultRunTimeout = d }
}

// NewRunService wires a run service. store, hub and archive may each be
// nil; the matching feature degrades instead of failing.
func NewRunService(engine *flow.Engine, registry *flow.TypeRegistry, st store.RunStore, hub *api.RunHub, archive *pool.WorkerPool, logger *zap.Logger, opts ...RunServiceOption) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RunService{
		engine:   engine,
		registry: registry,
		store:    st,
		hub:      hub,
		archive:  archive,
		logger:   logger.With(zap.String("component", "run_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes attaches every run endpoint to mux.
func (s *RunService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", s.HandleStartRun)
	mux.HandleFunc("GET /api/v1/runs", s.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.HandleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.HandleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/logs", s.HandleRunLogs)
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", s.HandleStreamRun)
	mux.HandleFunc("POST /api/v1/workflows/validate", s.HandleValidateWorkflow)
	mux.HandleFunc("GET /api/v1/node-types", s.HandleNodeTypes)
}

// HandleStartRun serves POST /api/v1/runs. It compiles the submitted
// definition, starts the run and answers 202 without waiting for it.
func (s *RunService) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, s.logger) {
		return
	}

	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, s.logger); err != nil {
		return
	}
	if len(req.Definition) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "definition is required"), s.logger)
		return
	}

	def, err := flow.DefinitionFromJSON(req.Definition)
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}
	g, err := def.Graph()
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}

	timeout := s.defaultRunTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	var opts []flow.RunOption
	if timeout > 0 {
		opts = append(opts, flow.WithRunTimeout(timeout))
	}

	// Runs outlive the request; cancellation goes through the handle.
	handle, err := s.engine.Start(context.Background(), g, req.Env, opts...)
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}

	s.active.Store(handle.ID(), handle)
	go s.watch(handle)

	s.logger.Info("run started",
		zap.String("run_id", handle.ID()),
		zap.String("workflow_id", g.ID()),
	)

	WriteSuccessStatus(w, http.StatusAccepted, api.StartRunResponse{
		RunID:        handle.ID(),
		WorkflowID:   g.ID(),
		WorkflowName: g.Name(),
		Status:       flow.RunStatusRunning,
	})
}

// watch archives the run once it finishes and then retires the handle.
// The handle stays visible until the archive lands so lookups never fall
// into the gap between memory and store.
func (s *RunService) watch(handle *flow.RunHandle) {
	<-handle.Done()
	rec := handle.Record()

	if s.store == nil {
		s.active.Delete(rec.ID)
		return
	}

	task := func(ctx context.Context) error {
		defer s.active.Delete(rec.ID)
		if err := s.store.Save(ctx, rec); err != nil {
			s.logger.Error("archive run",
				zap.String("run_id", rec.ID),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	if s.archive != nil {
		if err := s.archive.Submit(context.Background(), task); err == nil {
			return
		}
		// Pool saturated or closed; archive inline rather than drop the record.
	}
	_ = task(context.Background())
}

// HandleGetRun serves GET /api/v1/runs/{id} with the full run record.
func (s *RunService) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.lookup(r.Context(), id)
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}
	WriteSuccess(w, rec)
}

// HandleRunLogs serves GET /api/v1/runs/{id}/logs.
func (s *RunService) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.lookup(r.Context(), id)
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}
	WriteSuccess(w, api.RunLogsResponse{RunID: rec.ID, Logs: rec.Logs})
}

// HandleCancelRun serves POST /api/v1/runs/{id}/cancel. Cancelling is
// idempotent: a finished run answers with cancelling=false.
func (s *RunService) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if v, ok := s.active.Load(id); ok {
		handle := v.(*flow.RunHandle)
		if !handle.Record().Status.Terminal() {
			handle.Cancel()
			s.logger.Info("run cancellation requested", zap.String("run_id", id))
			WriteSuccessStatus(w, http.StatusAccepted, api.CancelRunResponse{RunID: id, Cancelling: true})
			return
		}
		WriteSuccess(w, api.CancelRunResponse{RunID: id, Cancelling: false})
		return
	}

	// Not active: a stored run already finished, anything else is unknown.
	if _, err := s.lookup(r.Context(), id); err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}
	WriteSuccess(w, api.CancelRunResponse{RunID: id, Cancelling: false})
}

// runFilters are the list query parameters.
type runFilters struct {
	workflowID string
	status     flow.RunStatus
	since      time.Time
	until      time.Time
	limit      int
}

// HandleListRuns serves GET /api/v1/runs. Active runs and archived runs
// are merged, filtered, sorted newest first and truncated to the limit.
func (s *RunService) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	filters, err := parseRunFilters(r)
	if err != nil {
		WriteError(w, coerceError(err), s.logger)
		return
	}

	summaries := make([]api.RunSummary, 0, filters.limit)
	seen := make(map[string]bool)

	s.active.Range(func(_, v any) bool {
		rec := v.(*flow.RunHandle).Record()
		if filters.matches(rec) {
			summaries = append(summaries, api.NewRunSummary(rec, !rec.Status.Terminal()))
			seen[rec.ID] = true
		}
		return true
	})

	if s.store != nil {
		stored, err := s.listStored(r.Context(), filters)
		if err != nil {
			WriteError(w, coerceError(err), s.logger)
			return
		}
		for _, rec := range stored {
			if seen[rec.ID] || !filters.matches(rec) {
				continue
			}
			summaries = append(summaries, api.NewRunSummary(rec, false))
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	if len(summaries) > filters.limit {
		summaries = summaries[:filters.limit]
	}

	WriteSuccess(w, api.ListRunsResponse{Runs: summaries, Count: len(summaries)})
}

// listStored picks the store query matching the primary filter. Remaining
// filters are applied in memory by the caller.
func (s *RunService) listStored(ctx context.Context, f runFilters) ([]*flow.RunRecord, error) {
	switch {
	case f.workflowID != "":
		return s.store.ListByWorkflow(ctx, f.workflowID, f.limit)
	case f.status != "":
		return s.store.ListByStatus(ctx, f.status, f.limit)
	case !f.since.IsZero() || !f.until.IsZero():
		since, until := f.since, f.until
		if until.IsZero() {
			until = time.Now()
		}
		return s.store.ListByTimeRange(ctx, since, until, f.limit)
	default:
		return s.store.ListByTimeRange(ctx, time.Time{}, time.Now(), f.limit)
	}
}

func parseRunFilters(r *http.Request) (runFilters, error) {
	q := r.URL.Query()
	f := runFilters{
		workflowID: q.Get("workflow_id"),
		limit:      defaultListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		status := flow.RunStatus(raw)
		switch status {
		case flow.RunStatusRunning, flow.RunStatusSuccess, flow.RunStatusError, flow.RunStatusCancelled:
			f.status = status
		default:
			return f, types.Errorf(types.ErrInvalidRequest, "unknown status %q", raw)
		}
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, types.NewError(types.ErrInvalidRequest, "since must be RFC 3339").WithCause(err)
		}
		f.since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, types.NewError(types.ErrInvalidRequest, "until must be RFC 3339").WithCause(err)
		}
		f.until = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, types.Errorf(types.ErrInvalidRequest, "limit must be a positive integer")
		}
		f.limit = min(n, maxListLimit)
	}
	return f, nil
}

func (f runFilters) matches(rec *flow.RunRecord) bool {
	if f.workflowID != "" && rec.WorkflowID != f.workflowID {
		return false
	}
	if f.status != "" && rec.Status != f.status {
		return false
	}
	if !f.since.IsZero() && rec.StartTime.Before(f.since) {
		return false
	}
	if !f.until.IsZero() && rec.StartTime.After(f.until) {
		return false
	}
	return true
}

// HandleValidateWorkflow serves POST /api/v1/workflows/validate. The
// verdict is the payload, so structural failures still answer 200.
func (s *RunService) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, s.logger) {
		return
	}

	var req api.ValidateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, s.logger); err != nil {
		return
	}
	if len(req.Definition) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "definition is required"), s.logger)
		return
	}

	def, err := flow.DefinitionFromJSON(req.Definition)
	if err != nil {
		WriteSuccess(w, invalidWorkflow("", err))
		return
	}
	g, err := def.Graph()
	if err != nil {
		WriteSuccess(w, invalidWorkflow(def.ID, err))
		return
	}

	WriteSuccess(w, api.ValidateWorkflowResponse{
		Valid:      true,
		WorkflowID: g.ID(),
		StarterID:  g.StarterID(),
		NodeCount:  len(g.Nodes()),
		EdgeCount:  len(g.Edges()),
	})
}

func invalidWorkflow(workflowID string, err error) api.ValidateWorkflowResponse {
	resp := api.ValidateWorkflowResponse{
		Valid:      false,
		WorkflowID: workflowID,
		Error:      err.Error(),
	}
	if e := types.AsError(err); e != nil {
		resp.Code = string(e.Code)
	} else {
		resp.Code = string(types.ErrInvalidRequest)
	}
	return resp
}

// HandleNodeTypes serves GET /api/v1/node-types.
func (s *RunService) HandleNodeTypes(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.NodeTypesResponse{Types: s.registry.Types()})
}

// CancelActiveRuns cancels every run still executing. Called during
// shutdown so workers stop before the engine is torn down.
func (s *RunService) CancelActiveRuns() int {
	n := 0
	s.active.Range(func(_, v any) bool {
		handle := v.(*flow.RunHandle)
		if !handle.Record().Status.Terminal() {
			handle.Cancel()
			n++
		}
		return true
	})
	return n
}

// AwaitActiveRuns blocks until every currently active run has finalized
// or ctx is done. Shutdown calls it after CancelActiveRuns so records are
// archived before the store closes.
func (s *RunService) AwaitActiveRuns(ctx context.Context) error {
	var handles []*flow.RunHandle
	s.active.Range(func(_, v any) bool {
		handles = append(handles, v.(*flow.RunHandle))
		return true
	})
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// lookup resolves a run id against active handles first, the store second.
func (s *RunService) lookup(ctx context.Context, id string) (*flow.RunRecord, error) {
	if id == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "run id is required")
	}
	if v, ok := s.active.Load(id); ok {
		return v.(*flow.RunHandle).Record(), nil
	}
	if s.store != nil {
		return s.store.Get(ctx, id)
	}
	return nil, types.Errorf(types.ErrRunNotFound, "run %s not found", id).WithHTTPStatus(http.StatusNotFound)
}

// coerceError converts any error into a taxonomy error for the envelope.
func coerceError(err error) *types.Error {
	if e := types.AsError(err); e != nil {
		return e
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
}
