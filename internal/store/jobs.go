package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists job status and progress. Progress writes use $max so a
// delayed update can never move a job's reported progress backwards.
type JobStore struct {
	collection *mongo.Collection
}

func NewJobStore(db *mongo.Database) *JobStore {
	return &JobStore{collection: db.Collection("jobs")}
}

// Create inserts a new pending job and returns it.
func (s *JobStore) Create(ctx context.Context, tenantID, jobType string, metadata models.JobMetadata) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      jobType,
		Status:    models.JobStatusPending,
		Progress:  0,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.collection.InsertOne(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get fetches a job scoped to its tenant.
func (s *JobStore) Get(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.collection.FindOne(ctx, bson.M{"_id": jobID, "tenant_id": tenantID}).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = models.NormalizeJobStatus(job.Status)
	return &job, nil
}

// SetProcessing marks the job active. Called once when a worker picks it up.
func (s *JobStore) SetProcessing(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, bson.M{
		"$set": bson.M{
			"status":     models.JobStatusProcessing,
			"updated_at": time.Now().UTC(),
		},
	})
}

// SetProgress advances the progress percentage. Stale writes are absorbed by
// $max rather than rejected.
func (s *JobStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.update(ctx, jobID, bson.M{
		"$max": bson.M{"progress": progress},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
}

// SetDone marks the job terminal-success at 100%.
func (s *JobStore) SetDone(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, bson.M{
		"$set": bson.M{
			"status":     models.JobStatusDone,
			"updated_at": time.Now().UTC(),
		},
		"$max": bson.M{"progress": 100},
	})
}

// SetFailed marks the job terminal-failure with a persisted error message.
func (s *JobStore) SetFailed(ctx context.Context, jobID string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return s.update(ctx, jobID, bson.M{
		"$set": bson.M{
			"status":     models.JobStatusFailed,
			"error":      msg,
			"updated_at": time.Now().UTC(),
		},
	})
}

// UpdateMetadata merges provider-specific metadata fields into the job.
func (s *JobStore) UpdateMetadata(ctx context.Context, jobID string, metadata models.JobMetadata) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if metadata.Upload != nil {
		set["metadata.upload"] = metadata.Upload
	}
	if metadata.Crawl != nil {
		set["metadata.crawl"] = metadata.Crawl
	}
	if metadata.GDoc != nil {
		set["metadata.gdoc"] = metadata.GDoc
	}
	if metadata.Notion != nil {
		set["metadata.notion"] = metadata.Notion
	}
	if metadata.Probe != nil {
		set["metadata.probe"] = metadata.Probe
	}
	return s.update(ctx, jobID, bson.M{"$set": set})
}

// ListRecent returns the tenant's newest jobs, optionally filtered by type.
func (s *JobStore) ListRecent(ctx context.Context, tenantID, jobType string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := bson.M{"tenant_id": tenantID}
	if jobType != "" {
		query["type"] = jobType
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []models.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Status = models.NormalizeJobStatus(jobs[i].Status)
	}
	return jobs, nil
}

func (s *JobStore) update(ctx context.Context, jobID string, update bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": jobID}, update)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}
