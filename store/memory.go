package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluxwire/fluxwire/flow"
)

// MemoryStore keeps run records in process memory. Records are snapshotted
// on the way in and out, so callers can keep mutating their copies.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*flow.RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*flow.RunRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, rec *flow.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errInvalidRecord()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec.Snapshot()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*flow.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, notFound(runID)
	}
	return rec.Snapshot(), nil
}

func (s *MemoryStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*flow.RunRecord, error) {
	return s.list(limit, func(rec *flow.RunRecord) bool {
		return rec.WorkflowID == workflowID
	}), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status flow.RunStatus, limit int) ([]*flow.RunRecord, error) {
	return s.list(limit, func(rec *flow.RunRecord) bool {
		return rec.Status == status
	}), nil
}

func (s *MemoryStore) ListByTimeRange(ctx context.Context, since, until time.Time, limit int) ([]*flow.RunRecord, error) {
	return s.list(limit, func(rec *flow.RunRecord) bool {
		if !since.IsZero() && rec.StartTime.Before(since) {
			return false
		}
		if !until.IsZero() && rec.StartTime.After(until) {
			return false
		}
		return true
	}), nil
}

func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return notFound(runID)
	}
	delete(s.runs, runID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// list filters and orders matching records newest first.
func (s *MemoryStore) list(limit int, match func(*flow.RunRecord) bool) []*flow.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*flow.RunRecord, 0)
	for _, rec := range s.runs {
		if match(rec) {
			result = append(result, rec.Snapshot())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}
