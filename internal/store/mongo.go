// Package store is the Registry & Store Adapter: the sole component that
// talks to MongoDB. It owns job-record CRUD, the indexed feedback queries,
// and the single-document queue registry.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prodest/prodest-ml-stack/internal/jobmodel"
)

const (
	databaseName   = "ml_api_db"
	jobsCollection = "col_jobs"
	regCollection  = "col_queue_registry"
)

// registryDocID is the fixed sentinel identity for the single queue-registry
// document, so concurrent Gateways can never create a second one.
var registryDocID = mustObjectIDFromHex("000000000000aaaabbbbffff")

func mustObjectIDFromHex(hex string) primitive.ObjectID {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		panic(err)
	}
	return id
}

// Store wraps the mongo-driver client with the operations the Gateway needs.
type Store struct {
	client *mongo.Client
	jobs   *mongo.Collection
	reg    *mongo.Collection
}

// Connect dials Mongo, verifies connectivity with a ping, and ensures the
// required indexes exist. On any failure the caller should write the
// sentinel file and exit non-zero.
func Connect(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(databaseName)
	s := &Store{
		client: client,
		jobs:   db.Collection(jobsCollection),
		reg:    db.Collection(regCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// Disconnect closes the underlying client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetName("idx_job_id").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "model_name", Value: 1},
				{Key: "method", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("idx_model_method_status"),
		},
		{
			Keys: bson.D{
				{Key: "model_name", Value: 1},
				{Key: "method", Value: 1},
				{Key: "status", Value: 1},
				{Key: "has_feedback", Value: 1},
				{Key: "datetime", Value: 1},
			},
			Options: options.Index().SetName("idx_getfeedback"),
		},
	})
	return err
}

// InsertJob persists a freshly admitted job record exactly once.
func (s *Store) InsertJob(ctx context.Context, job jobmodel.Job) error {
	_, err := s.jobs.InsertOne(ctx, job)
	return err
}

// FindJobByID looks up a job by its job_id field (not the Mongo _id).
func (s *Store) FindJobByID(ctx context.Context, jobID string) (jobmodel.Job, error) {
	var job jobmodel.Job
	err := s.jobs.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return jobmodel.Job{}, ErrNotFound
	}
	return job, err
}

// UpdateJobFields applies a partial update to the job identified by job_id.
func (s *Store) UpdateJobFields(ctx context.Context, jobID string, fields map[string]any) error {
	res, err := s.jobs.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned when a job_id or registry document is absent.
var ErrNotFound = fmt.Errorf("not found")

// CountFeedbackJobs counts predict/Done/has_feedback jobs for model in the
// half-open [start, end) epoch-second window, using idx_getfeedback as a hint.
func (s *Store) CountFeedbackJobs(ctx context.Context, model string, start, end float64) (int64, error) {
	filter := feedbackFilter(model, start, end)
	return s.jobs.CountDocuments(ctx, filter, options.Count().SetHint("idx_getfeedback"))
}

// CountPredictDoneJobs counts every predict/Done job for model regardless
// of has_feedback or date, the lifetime denominator for the api_metrics
// percentages.
func (s *Store) CountPredictDoneJobs(ctx context.Context, model string) (int64, error) {
	return s.jobs.CountDocuments(ctx, bson.M{
		"model_name": model,
		"method":     jobmodel.MethodPredict,
		"status":     jobmodel.StatusDone,
	}, options.Count().SetHint("idx_model_method_status"))
}

// IterFeedbackJobs fetches up to limit matching jobs ordered by datetime
// descending, for concatenation into y_pred/y_true.
func (s *Store) IterFeedbackJobs(ctx context.Context, model string, start, end float64, limit int64) ([]jobmodel.Job, error) {
	filter := feedbackFilter(model, start, end)
	cur, err := s.jobs.Find(ctx, filter,
		options.Find().
			SetHint("idx_getfeedback").
			SetSort(bson.D{{Key: "datetime", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []jobmodel.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func feedbackFilter(model string, start, end float64) bson.M {
	return bson.M{
		"model_name":   model,
		"method":       jobmodel.MethodPredict,
		"status":       jobmodel.StatusDone,
		"has_feedback": true,
		"datetime":     bson.M{"$gte": start, "$lt": end},
	}
}

// registryDoc is the single document shape for col_queue_registry.
type registryDoc struct {
	ID     primitive.ObjectID `bson:"_id"`
	Models map[string]string  `bson:"models"`
}

// LoadRegistry reads the single registry document, returning an empty map
// if it has never been created.
func (s *Store) LoadRegistry(ctx context.Context) (map[string]string, error) {
	var doc registryDoc
	err := s.reg.FindOne(ctx, bson.M{"_id": registryDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Models == nil {
		doc.Models = map[string]string{}
	}
	return doc.Models, nil
}

// SaveRegistry upserts the fixed registry document with the given map,
// guaranteeing at most one document ever exists in the collection.
func (s *Store) SaveRegistry(ctx context.Context, models map[string]string) error {
	_, err := s.reg.UpdateOne(ctx,
		bson.M{"_id": registryDocID},
		bson.M{"$set": bson.M{"models": models}},
		options.Update().SetUpsert(true),
	)
	return err
}
