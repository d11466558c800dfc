package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"docqa-platform/models"
)

// JobTracker is the slice of job persistence the workers need. Implemented by
// store.JobStore; faked in tests.
type JobTracker interface {
	Create(ctx context.Context, tenantID, jobType string, metadata models.JobMetadata) (*models.Job, error)
	SetProcessing(ctx context.Context, jobID string) error
	SetProgress(ctx context.Context, jobID string, progress int) error
	SetDone(ctx context.Context, jobID string) error
	SetFailed(ctx context.Context, jobID string, jobErr error) error
	UpdateMetadata(ctx context.Context, jobID string, metadata models.JobMetadata) error
}

// SourceDirectory is the slice of source persistence the sync workers need.
type SourceDirectory interface {
	Get(ctx context.Context, tenantID, provider string) (*models.Source, error)
	ListConnected(ctx context.Context, provider string) ([]models.Source, error)
	AdvanceWatermark(ctx context.Context, tenantID, provider string, syncedAt time.Time) error
	Disconnect(ctx context.Context, tenantID, provider string) error
}

// permanent marks an error as non-retryable for asynq while keeping the
// original message for the job record.
func permanent(err error) error {
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// isPermanent reports whether the pipeline error class cannot be fixed by a
// retry of the same input.
func isPermanent(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
