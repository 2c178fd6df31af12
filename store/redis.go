package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// RedisConfig configures the redis-backed store.
type RedisConfig struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	PoolSize  int           `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"` // 0 keeps records forever
}

// RedisStore persists run records as JSON values indexed by sorted sets
// keyed on start time, so every list reads newest first without scanning.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrStoreUnavailable, "redis unreachable").WithCause(err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "fluxwire:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "store.redis")),
	}, nil
}

func (s *RedisStore) runKey(runID string) string { return s.prefix + "run:" + runID }
func (s *RedisStore) allKey() string             { return s.prefix + "runs:all" }
func (s *RedisStore) workflowKey(id string) string {
	return s.prefix + "runs:wf:" + id
}
func (s *RedisStore) statusKey(status flow.RunStatus) string {
	return s.prefix + "runs:status:" + string(status)
}

func (s *RedisStore) Save(ctx context.Context, rec *flow.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errInvalidRecord()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.ErrInternalError, "marshal run record").WithCause(err)
	}

	// Re-saving with a new status must drop the stale status index entry.
	old, err := s.Get(ctx, rec.ID)
	if err != nil && !types.IsCode(err, types.ErrRunNotFound) {
		return err
	}

	score := float64(rec.StartTime.UnixNano())
	member := rec.ID

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(rec.ID), data, s.ttl)
	if old != nil && old.Status != rec.Status {
		pipe.ZRem(ctx, s.statusKey(old.Status), member)
	}
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: member})
	pipe.ZAdd(ctx, s.workflowKey(rec.WorkflowID), redis.Z{Score: score, Member: member})
	pipe.ZAdd(ctx, s.statusKey(rec.Status), redis.Z{Score: score, Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "save run record").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*flow.RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load run record").WithCause(err)
	}

	var rec flow.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, types.NewError(types.ErrInternalError, "decode run record").WithCause(err)
	}
	return &rec, nil
}

func (s *RedisStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*flow.RunRecord, error) {
	return s.listIndex(ctx, s.workflowKey(workflowID), limit)
}

func (s *RedisStore) ListByStatus(ctx context.Context, status flow.RunStatus, limit int) ([]*flow.RunRecord, error) {
	return s.listIndex(ctx, s.statusKey(status), limit)
}

func (s *RedisStore) ListByTimeRange(ctx context.Context, since, until time.Time, limit int) ([]*flow.RunRecord, error) {
	min, max := "-inf", "+inf"
	if !since.IsZero() {
		min = strconv.FormatInt(since.UnixNano(), 10)
	}
	if !until.IsZero() {
		max = strconv.FormatInt(until.UnixNano(), 10)
	}

	var count int64
	if limit > 0 {
		count = int64(limit)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: count,
	}).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "query run index").WithCause(err)
	}
	return s.fetch(ctx, ids)
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	rec, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.allKey(), runID)
	pipe.ZRem(ctx, s.workflowKey(rec.WorkflowID), runID)
	pipe.ZRem(ctx, s.statusKey(rec.Status), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "delete run record").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) listIndex(ctx context.Context, key string, limit int) ([]*flow.RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "query run index").WithCause(err)
	}
	return s.fetch(ctx, ids)
}

// fetch loads records for ids, skipping entries whose value expired out
// from under the index.
func (s *RedisStore) fetch(ctx context.Context, ids []string) ([]*flow.RunRecord, error) {
	result := make([]*flow.RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if types.IsCode(err, types.ErrRunNotFound) {
			s.logger.Debug("dropping expired index entry", zap.String("run_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}
