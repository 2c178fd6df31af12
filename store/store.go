package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// RunStore stores and queries run records.
type RunStore interface {
	// Save persists a run record, replacing any previous version.
	Save(ctx context.Context, rec *flow.RunRecord) error

	// Get returns the record for runID or a RUN_NOT_FOUND error.
	Get(ctx context.Context, runID string) (*flow.RunRecord, error)

	// ListByWorkflow returns runs of a workflow, newest first.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*flow.RunRecord, error)

	// ListByStatus returns runs with the given status, newest first.
	ListByStatus(ctx context.Context, status flow.RunStatus, limit int) ([]*flow.RunRecord, error)

	// ListByTimeRange returns runs started within [since, until], newest
	// first. A zero since or until leaves that bound open.
	ListByTimeRange(ctx context.Context, since, until time.Time, limit int) ([]*flow.RunRecord, error)

	// Delete removes a run record.
	Delete(ctx context.Context, runID string) error

	// Close releases backend resources.
	Close() error
}

// Driver names OpenFromConfig understands.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config selects and parameterizes a RunStore backend.
type Config struct {
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the connection string for the sql and mongo drivers.
	DSN string `json:"dsn" yaml:"dsn"`

	// AutoMigrate creates the runs table on open. Development
	// convenience; deployments run real migrations.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	Redis RedisConfig `json:"redis" yaml:"redis"`
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`
	Pool  PoolConfig  `json:"pool" yaml:"pool"`
}

// OpenFromConfig builds the RunStore named by cfg.Driver. An empty driver
// selects the in-memory store.
func OpenFromConfig(cfg Config, logger *zap.Logger) (RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		return NewRedisStore(cfg.Redis, logger)
	case DriverSQLite, DriverMySQL, DriverPostgres:
		return OpenSQLStore(cfg, logger)
	case DriverMongo:
		return NewMongoStore(cfg, logger)
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unsupported store driver %q", cfg.Driver)
	}
}

func notFound(runID string) error {
	return types.Errorf(types.ErrRunNotFound, "run %s not found", runID).WithHTTPStatus(404)
}

func errInvalidRecord() error {
	return types.NewError(types.ErrInvalidRequest, "run record must carry an id")
}
