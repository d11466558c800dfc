package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/models"
)

// ProbeWorker executes ordering probes: each probe atomically takes the next
// observation slot for its batch and records where it landed relative to the
// sequence it was enqueued with. Comparing the two shows whether a queue
// dispatched in order, without any reliance on padding the queue with dummy
// work.
type ProbeWorker struct {
	jobs JobTracker
	rdb  *redis.Client
}

func NewProbeWorker(jobs JobTracker, rdb *redis.Client) *ProbeWorker {
	return &ProbeWorker{jobs: jobs, rdb: rdb}
}

func (w *ProbeWorker) HandleOrderingProbe(ctx context.Context, t *asynq.Task) error {
	var payload queue.OrderingProbePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	key := "probe:batch:" + payload.BatchID
	observed, err := w.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	w.rdb.Expire(ctx, key, time.Hour)

	if err := w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
		Probe: &models.ProbeMetadata{
			BatchID:  payload.BatchID,
			Sequence: payload.Sequence,
			Observed: int(observed),
		},
	}); err != nil {
		return err
	}
	if err := w.jobs.SetDone(ctx, payload.JobID); err != nil {
		return err
	}

	logger.Debug("Ordering probe completed",
		"batch_id", payload.BatchID,
		"sequence", payload.Sequence,
		"observed", observed)
	return nil
}
