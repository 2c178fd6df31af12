package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// PoolConfig tunes the sql connection pool.
type PoolConfig struct {
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig returns the pool defaults applied when the config
// leaves the pool section empty.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// runRow is the runs table row. Query columns are indexed; the full record
// travels as a JSON blob.
type runRow struct {
	ID         string    `gorm:"primaryKey;size:64"`
	WorkflowID string    `gorm:"index;size:128"`
	Status     string    `gorm:"index;size:16"`
	StartedAt  time.Time `gorm:"index"`
	EndedAt    *time.Time
	DurationMs int64
	Record     []byte
}

func (runRow) TableName() string { return "runs" }

// SQLStore is a RunStore over gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLStore opens the database selected by cfg.Driver, applies pool
// tuning and optionally auto-migrates the runs table.
func OpenSQLStore(cfg Config, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unsupported sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "open database").WithCause(err)
	}

	s := NewSQLStore(db, logger)
	if err := s.tunePool(cfg.Pool); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&runRow{}); err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "migrate runs table").WithCause(err)
		}
	}

	logger.Info("run store connected", zap.String("driver", cfg.Driver))
	return s, nil
}

// NewSQLStore wraps an existing gorm handle. Used directly by tests and by
// callers that manage their own connection.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "store.sql")),
	}
}

func (s *SQLStore) tunePool(cfg PoolConfig) error {
	if cfg == (PoolConfig{}) {
		cfg = DefaultPoolConfig()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "access sql pool").WithCause(err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

func (s *SQLStore) Save(ctx context.Context, rec *flow.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errInvalidRecord()
	}
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "save run record").WithCause(err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (*flow.RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load run record").WithCause(err)
	}
	return row.record()
}

func (s *SQLStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*flow.RunRecord, error) {
	return s.list(ctx, limit, "workflow_id = ?", workflowID)
}

func (s *SQLStore) ListByStatus(ctx context.Context, status flow.RunStatus, limit int) ([]*flow.RunRecord, error) {
	return s.list(ctx, limit, "status = ?", string(status))
}

func (s *SQLStore) ListByTimeRange(ctx context.Context, since, until time.Time, limit int) ([]*flow.RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&runRow{})
	if !since.IsZero() {
		q = q.Where("started_at >= ?", since)
	}
	if !until.IsZero() {
		q = q.Where("started_at <= ?", until)
	}
	return scanRows(q, limit)
}

func (s *SQLStore) Delete(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).Delete(&runRow{}, "id = ?", runID)
	if result.Error != nil {
		return types.NewError(types.ErrStoreUnavailable, "delete run record").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(runID)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) list(ctx context.Context, limit int, query string, args ...any) ([]*flow.RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&runRow{}).Where(query, args...)
	return scanRows(q, limit)
}

func scanRows(q *gorm.DB, limit int) ([]*flow.RunRecord, error) {
	q = q.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "query runs").WithCause(err)
	}
	result := make([]*flow.RunRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func toRow(rec *flow.RunRecord) (*runRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal run record").WithCause(err)
	}
	row := &runRow{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		Status:     string(rec.Status),
		StartedAt:  rec.StartTime,
		DurationMs: rec.DurationMs,
		Record:     data,
	}
	if !rec.EndTime.IsZero() {
		end := rec.EndTime
		row.EndedAt = &end
	}
	return row, nil
}

func (r *runRow) record() (*flow.RunRecord, error) {
	var rec flow.RunRecord
	if err := json.Unmarshal(r.Record, &rec); err != nil {
		return nil, types.NewError(types.ErrInternalError, "decode run record").WithCause(err)
	}
	return &rec, nil
}
