package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/queue"
	"docqa-platform/models"
)

type fakeSourceLister struct {
	sources []models.Source
	err     error
}

func (f *fakeSourceLister) ListConnected(ctx context.Context, provider string) ([]models.Source, error) {
	return f.sources, f.err
}

func scheduleTask(t *testing.T, tenantID, cron string) *asynq.Task {
	t.Helper()
	task, err := queue.NewNotionScheduleTask(tenantID, cron)
	require.NoError(t, err)
	return task
}

func TestScheduleNotionSyncRegistersJob(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	require.NoError(t, s.ScheduleNotionSync("tenant-a", "0 */2 * * *"))
	assert.Len(t, s.scheduler.Jobs(), 1)
}

func TestScheduleNotionSyncReplacesExisting(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	require.NoError(t, s.ScheduleNotionSync("tenant-a", "0 */2 * * *"))
	require.NoError(t, s.ScheduleNotionSync("tenant-a", "0 */4 * * *"))
	assert.Len(t, s.scheduler.Jobs(), 1, "re-registering a tenant replaces its schedule")
}

func TestScheduleNotionSyncBadCron(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	assert.Error(t, s.ScheduleNotionSync("tenant-a", "not a cron"))
}

func TestUnscheduleUnknownTenant(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	s.UnscheduleNotionSync("never-registered")
	assert.Empty(t, s.scheduler.Jobs())
}

func TestHandleScheduleUpdate(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	require.NoError(t, s.HandleScheduleUpdate(context.Background(), scheduleTask(t, "tenant-a", "0 */2 * * *")))
	assert.Len(t, s.scheduler.Jobs(), 1)

	require.NoError(t, s.HandleScheduleUpdate(context.Background(), scheduleTask(t, "tenant-a", "")))
	assert.Empty(t, s.scheduler.Jobs())
}

func TestHandleScheduleUpdateBadCronIsPermanent(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	err := s.HandleScheduleUpdate(context.Background(), scheduleTask(t, "tenant-a", "@@@"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestReconcileSchedulesConnectedSources(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	lister := &fakeSourceLister{sources: []models.Source{
		{
			TenantID: "tenant-a",
			Provider: models.ProviderNotion,
			Status:   models.SourceConnected,
			Metadata: models.SourceMetadata{Notion: &models.NotionCredentials{APIKey: "k", SyncCron: "0 */6 * * *"}},
		},
		{
			TenantID: "tenant-b",
			Provider: models.ProviderNotion,
			Status:   models.SourceConnected,
			Metadata: models.SourceMetadata{Notion: &models.NotionCredentials{APIKey: "k"}},
		},
	}}

	require.NoError(t, s.Reconcile(context.Background(), lister, "0 */2 * * *"))
	assert.Len(t, s.scheduler.Jobs(), 2)
}

func TestReconcileListFailure(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	lister := &fakeSourceLister{err: errors.New("mongo down")}
	assert.Error(t, s.Reconcile(context.Background(), lister, "0 */2 * * *"))
}
