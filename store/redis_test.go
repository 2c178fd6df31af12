package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

func setupRedisStore(t *testing.T, cfg RedisConfig) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg.Addr = mr.Addr()
	s, err := NewRedisStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return mr, s
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})
	ctx := context.Background()

	rec := testRecord("run-1", "wf-1", flow.RunStatusSuccess, time.Now().UTC())
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.WorkflowID, got.WorkflowID)
	assert.Equal(t, rec.Status, got.Status)
	require.Contains(t, got.Nodes, "s")
	assert.Equal(t, flow.NodeStatusSuccess, got.Nodes["s"].Status)
	assert.Len(t, got.Logs, 1)
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})

	_, err := s.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrRunNotFound, types.GetErrorCode(err))
}

func TestRedisStore_ListByWorkflowNewestFirst(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.Save(ctx, testRecord("old", "wf-1", flow.RunStatusSuccess, base)))
	require.NoError(t, s.Save(ctx, testRecord("mid", "wf-1", flow.RunStatusSuccess, base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, testRecord("new", "wf-1", flow.RunStatusSuccess, base.Add(2*time.Minute))))
	require.NoError(t, s.Save(ctx, testRecord("other", "wf-2", flow.RunStatusSuccess, base)))

	runs, err := s.ListByWorkflow(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
	assert.Equal(t, "old", runs[2].ID)

	limited, err := s.ListByWorkflow(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "new", limited[0].ID)
}

func TestRedisStore_StatusIndexFollowsResave(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})
	ctx := context.Background()
	started := time.Now().UTC()

	running := testRecord("run-1", "wf-1", flow.RunStatusRunning, started)
	require.NoError(t, s.Save(ctx, running))

	active, err := s.ListByStatus(ctx, flow.RunStatusRunning, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Re-saving the finished record must move it between status indexes.
	done := testRecord("run-1", "wf-1", flow.RunStatusSuccess, started)
	require.NoError(t, s.Save(ctx, done))

	active, err = s.ListByStatus(ctx, flow.RunStatusRunning, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	finished, err := s.ListByStatus(ctx, flow.RunStatusSuccess, 0)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "run-1", finished[0].ID)
}

func TestRedisStore_ListByTimeRange(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, testRecord("early", "wf", flow.RunStatusSuccess, base)))
	require.NoError(t, s.Save(ctx, testRecord("middle", "wf", flow.RunStatusSuccess, base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, testRecord("late", "wf", flow.RunStatusSuccess, base.Add(2*time.Hour))))

	runs, err := s.ListByTimeRange(ctx, base.Add(30*time.Minute), base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "middle", runs[0].ID)

	all, err := s.ListByTimeRange(ctx, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisStore_Delete(t *testing.T) {
	_, s := setupRedisStore(t, RedisConfig{})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("run-1", "wf-1", flow.RunStatusError, time.Now().UTC())))
	require.NoError(t, s.Delete(ctx, "run-1"))

	_, err := s.Get(ctx, "run-1")
	assert.Equal(t, types.ErrRunNotFound, types.GetErrorCode(err))

	failed, err := s.ListByStatus(ctx, flow.RunStatusError, 0)
	require.NoError(t, err)
	assert.Empty(t, failed, "delete must clear index entries")

	err = s.Delete(ctx, "run-1")
	assert.Equal(t, types.ErrRunNotFound, types.GetErrorCode(err))
}

func TestRedisStore_TTLExpiryDropsIndexEntries(t *testing.T) {
	mr, s := setupRedisStore(t, RedisConfig{TTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("run-1", "wf-1", flow.RunStatusSuccess, time.Now().UTC())))

	runs, err := s.ListByWorkflow(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	mr.FastForward(2 * time.Minute)

	// The value expired; the lazy index walk must skip it, not fail.
	runs, err = s.ListByWorkflow(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRedisStore_KeyPrefixIsolation(t *testing.T) {
	mr, s := setupRedisStore(t, RedisConfig{KeyPrefix: "tenant-a:"})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testRecord("run-1", "wf-1", flow.RunStatusSuccess, time.Now().UTC())))
	assert.True(t, mr.Exists("tenant-a:run:run-1"))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	t.Parallel()

	s, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))
}
