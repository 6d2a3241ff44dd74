package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultDatabase = "monitordb"

// MongoStore is a MongoDB-backed implementation of Store. One collection,
// "jobs", with a unique index on job_id — this is what makes Insert's
// "succeeds iff no record exists" contract hold at the storage layer even
// under two callers racing to register the same id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri, selects the "jobs" collection in the
// database named by uri's path (default "monitordb"), and ensures the
// unique index on job_id exists.
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(databaseNameFromURI(uri)).Collection("jobs")
	s := &MongoStore{client: client, coll: coll}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, jobIDIndexModel())
	return err
}

// jobIDIndexModel is the unique index that backs Insert's "succeeds iff no
// record exists" contract.
func jobIDIndexModel() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
}

// jobIDFilter matches the single document for jobID.
func jobIDFilter(jobID int64) bson.D {
	return bson.D{{Key: "job_id", Value: jobID}}
}

// updateStateFilter matches jobID's document only if its stored state
// differs from newState, so a no-op transition reports zero modified.
func updateStateFilter(jobID int64, newState Status) bson.D {
	return bson.D{
		{Key: "job_id", Value: jobID},
		{Key: "state", Value: bson.D{{Key: "$ne", Value: newState}}},
	}
}

// setStateUpdate is the $set document that writes newState.
func setStateUpdate(newState Status) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: "state", Value: newState}}}}
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, j *Job) (bool, error) {
	_, err := s.coll.InsertOne(ctx, j)
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, fmt.Errorf("insert job %d: %w", j.JobID, err)
}

func (s *MongoStore) Find(ctx context.Context, jobID int64) (*Job, error) {
	var j Job
	err := s.coll.FindOne(ctx, jobIDFilter(jobID)).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job %d: %w", jobID, err)
	}
	return &j, nil
}

func (s *MongoStore) UpdateState(ctx context.Context, jobID int64, newState Status) (bool, error) {
	res, err := s.coll.UpdateOne(ctx, updateStateFilter(jobID, newState), setStateUpdate(newState))
	if err != nil {
		return false, fmt.Errorf("update state for job %d: %w", jobID, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) Delete(ctx context.Context, jobID int64) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, jobIDFilter(jobID))
	if err != nil {
		return false, fmt.Errorf("delete job %d: %w", jobID, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) DeleteAndReturn(ctx context.Context, jobID int64) (*Job, error) {
	var j Job
	err := s.coll.FindOneAndDelete(ctx, jobIDFilter(jobID)).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete-and-return job %d: %w", jobID, err)
	}
	return &j, nil
}

func (s *MongoStore) Iterate(ctx context.Context) ([]*Job, error) {
	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	defer cur.Close(ctx)

	var jobs []*Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// databaseNameFromURI extracts the database name from a mongodb:// URI's
// path component, falling back to defaultDatabase when none is given.
func databaseNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return defaultDatabase
	}
	return name
}
