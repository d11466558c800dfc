package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/models"
)

// SourceLister is the slice of source persistence the scheduler needs to
// rebuild its jobs at boot.
type SourceLister interface {
	ListConnected(ctx context.Context, provider string) ([]models.Source, error)
}

// Scheduler owns the periodic Notion re-syncs. One tagged cron job per
// tenant; re-registering a tenant replaces its previous schedule. It lives in
// the worker process, and the API signals schedule changes through queue
// tasks.
type Scheduler struct {
	scheduler *gocron.Scheduler
	client    *asynq.Client
}

func New(client *asynq.Client) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Scheduler{scheduler: s, client: client}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func notionTag(tenantID string) string {
	return "notion-sync-" + tenantID
}

// ScheduleNotionSync registers (or replaces) the periodic sync for a tenant.
func (s *Scheduler) ScheduleNotionSync(tenantID, cronExpr string) error {
	tag := notionTag(tenantID)
	// RemoveByTag before re-adding; TagsUnique would reject the duplicate.
	s.scheduler.RemoveByTag(tag)

	_, err := s.scheduler.Cron(cronExpr).Tag(tag).Do(func() {
		task, err := queue.NewNotionSyncTask("", tenantID)
		if err != nil {
			logger.Error("Failed to build scheduled sync task", "tenant_id", tenantID, "error", err)
			return
		}
		if _, err := s.client.Enqueue(task); err != nil {
			logger.Error("Failed to enqueue scheduled sync", "tenant_id", tenantID, "error", err)
			return
		}
		logger.Info("Scheduled notion sync enqueued", "tenant_id", tenantID)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule notion sync for %s: %w", tenantID, err)
	}
	logger.Info("Notion sync scheduled", "tenant_id", tenantID, "cron", cronExpr)
	return nil
}

// UnscheduleNotionSync drops a tenant's periodic sync. Removing an unknown
// tag is not an error.
func (s *Scheduler) UnscheduleNotionSync(tenantID string) {
	s.scheduler.RemoveByTag(notionTag(tenantID))
}

// Reconcile rebuilds schedules from connected Notion sources at worker boot.
func (s *Scheduler) Reconcile(ctx context.Context, sources SourceLister, defaultCron string) error {
	connected, err := sources.ListConnected(ctx, models.ProviderNotion)
	if err != nil {
		return err
	}
	for _, source := range connected {
		cronExpr := defaultCron
		if source.Metadata.Notion != nil && source.Metadata.Notion.SyncCron != "" {
			cronExpr = source.Metadata.Notion.SyncCron
		}
		if err := s.ScheduleNotionSync(source.TenantID, cronExpr); err != nil {
			logger.Error("Failed to reconcile notion schedule", "tenant_id", source.TenantID, "error", err)
		}
	}
	return nil
}

// HandleScheduleUpdate applies a schedule change delivered over the notion
// queue: a cron registers or replaces the tenant's sync, an empty cron
// removes it.
func (s *Scheduler) HandleScheduleUpdate(ctx context.Context, t *asynq.Task) error {
	var payload queue.NotionSchedulePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	if payload.Cron == "" {
		s.UnscheduleNotionSync(payload.TenantID)
		logger.Info("Notion sync unscheduled", "tenant_id", payload.TenantID)
		return nil
	}
	if err := s.ScheduleNotionSync(payload.TenantID, payload.Cron); err != nil {
		// A bad cron expression cannot be fixed by retrying.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
