package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/fluxwire/fluxwire/flow"
	"github.com/fluxwire/fluxwire/types"
)

// MongoConfig configures the mongo-backed store. The connection string
// comes from Config.DSN.
type MongoConfig struct {
	// Database holds the runs collection. Defaults to fluxwire.
	Database string `json:"database" yaml:"database"`
}

// runDoc is the runs collection document. Query fields are indexed; the
// full record travels as a JSON blob, the same split the sql store uses.
type runDoc struct {
	ID         string     `bson:"_id"`
	WorkflowID string     `bson:"workflow_id"`
	Status     string     `bson:"status"`
	StartedAt  time.Time  `bson:"started_at"`
	EndedAt    *time.Time `bson:"ended_at,omitempty"`
	DurationMs int64      `bson:"duration_ms"`
	Record     []byte     `bson:"record"`
}

// MongoStore persists run records in a mongo collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore connects to mongo at cfg.DSN, verifies the connection and
// ensures the query indexes exist.
func NewMongoStore(cfg Config, logger *zap.Logger) (*MongoStore, error) {
	if cfg.DSN == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "mongo store requires a dsn")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "connect mongo").WithCause(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.NewError(types.ErrStoreUnavailable, "mongo unreachable").WithCause(err)
	}

	database := cfg.Mongo.Database
	if database == "" {
		database = "fluxwire"
	}
	coll := client.Database(database).Collection("runs")

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.NewError(types.ErrStoreUnavailable, "create run indexes").WithCause(err)
	}

	logger.Info("run store connected",
		zap.String("driver", DriverMongo),
		zap.String("database", database))
	return &MongoStore{
		client: client,
		coll:   coll,
		logger: logger.With(zap.String("component", "store.mongo")),
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, rec *flow.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errInvalidRecord()
	}
	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "save run record").WithCause(err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, runID string) (*flow.RunRecord, error) {
	var doc runDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load run record").WithCause(err)
	}
	return doc.record()
}

func (s *MongoStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*flow.RunRecord, error) {
	return s.list(ctx, bson.M{"workflow_id": workflowID}, limit)
}

func (s *MongoStore) ListByStatus(ctx context.Context, status flow.RunStatus, limit int) ([]*flow.RunRecord, error) {
	return s.list(ctx, bson.M{"status": string(status)}, limit)
}

func (s *MongoStore) ListByTimeRange(ctx context.Context, since, until time.Time, limit int) ([]*flow.RunRecord, error) {
	bounds := bson.M{}
	if !since.IsZero() {
		bounds["$gte"] = since
	}
	if !until.IsZero() {
		bounds["$lte"] = until
	}
	filter := bson.M{}
	if len(bounds) > 0 {
		filter["started_at"] = bounds
	}
	return s.list(ctx, filter, limit)
}

func (s *MongoStore) Delete(ctx context.Context, runID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": runID})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "delete run record").WithCause(err)
	}
	if res.DeletedCount == 0 {
		return notFound(runID)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) list(ctx context.Context, filter bson.M, limit int) ([]*flow.RunRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "query runs").WithCause(err)
	}

	var docs []runDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "read run cursor").WithCause(err)
	}

	result := make([]*flow.RunRecord, 0, len(docs))
	for i := range docs {
		rec, err := docs[i].record()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func toDoc(rec *flow.RunRecord) (*runDoc, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal run record").WithCause(err)
	}
	doc := &runDoc{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		Status:     string(rec.Status),
		StartedAt:  rec.StartTime,
		DurationMs: rec.DurationMs,
		Record:     data,
	}
	if !rec.EndTime.IsZero() {
		end := rec.EndTime
		doc.EndedAt = &end
	}
	return doc, nil
}

func (d *runDoc) record() (*flow.RunRecord, error) {
	var rec flow.RunRecord
	if err := json.Unmarshal(d.Record, &rec); err != nil {
		return nil, types.NewError(types.ErrInternalError, "decode run record").WithCause(err)
	}
	return &rec, nil
}
