package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/queue"
	"docqa-platform/models"
)

type fakeNotionClient struct {
	pages       []NotionPage
	content     map[string]string
	contentErrs map[string]error
	gotSince    *time.Time
	gotKey      string
}

func (f *fakeNotionClient) Search(ctx context.Context, since *time.Time) ([]NotionPage, error) {
	f.gotSince = since
	if since == nil {
		return f.pages, nil
	}
	var out []NotionPage
	for _, page := range f.pages {
		if page.LastEdited.After(*since) {
			out = append(out, page)
		}
	}
	return out, nil
}

func (f *fakeNotionClient) PageContent(ctx context.Context, pageID string) (string, error) {
	if err := f.contentErrs[pageID]; err != nil {
		return "", err
	}
	return f.content[pageID], nil
}

func connectedNotionSource(tenantID string) *models.Source {
	return &models.Source{
		TenantID: tenantID,
		Provider: models.ProviderNotion,
		Status:   models.SourceConnected,
		Metadata: models.SourceMetadata{
			Notion: &models.NotionCredentials{APIKey: "secret_test", SyncCron: "0 */2 * * *"},
		},
	}
}

func newNotionTestWorker(client *fakeNotionClient, sources *fakeSourceDirectory) (*NotionWorker, *fakeJobTracker, *fakeChunkReplacer) {
	jobs := newFakeJobTracker()
	chunks := newFakeChunkReplacer()
	pipeline, _ := newTestPipeline(&fakeEmbedder{}, chunks)
	worker := NewNotionWorker(jobs, sources, pipeline, "")
	worker.newClient = func(apiKey string) NotionClient {
		client.gotKey = apiKey
		return client
	}
	return worker, jobs, chunks
}

func TestNotionWorkerSyncsPagesAndAdvancesWatermark(t *testing.T) {
	client := &fakeNotionClient{
		pages: []NotionPage{
			{ID: "p1", Title: "Runbook", LastEdited: time.Now()},
			{ID: "p2", Title: "Onboarding", LastEdited: time.Now()},
		},
		content: map[string]string{
			"p1": "Restart the ingest service with the deploy script when it wedges.",
			"p2": "New hires get access to the knowledge base on day one.",
		},
	}
	sources := newFakeSourceDirectory()
	sources.put(connectedNotionSource("tenant-a"))
	worker, jobs, chunks := newNotionTestWorker(client, sources)

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, worker.HandleNotionSync(context.Background(), task))

	job := jobs.job("job-1")
	assert.Equal(t, models.JobStatusDone, job.Status)
	require.NotNil(t, job.Metadata.Notion)
	assert.Equal(t, 2, job.Metadata.Notion.TotalPages)
	assert.Equal(t, 2, job.Metadata.Notion.ProcessedPages)
	assert.Zero(t, job.Metadata.Notion.FailedPages)

	assert.NotEmpty(t, chunks.chunks("tenant-a", "notion-p1"))
	assert.NotEmpty(t, chunks.chunks("tenant-a", "notion-p2"))
	assert.NotNil(t, sources.watermark("tenant-a", models.ProviderNotion))
	assert.Equal(t, "secret_test", client.gotKey, "the source's own key wins")
}

func TestNotionWorkerFallsBackToSharedToken(t *testing.T) {
	client := &fakeNotionClient{
		pages:   []NotionPage{{ID: "p1", Title: "Doc", LastEdited: time.Now()}},
		content: map[string]string{"p1": "Workspaces connected without a key use the shared integration token."},
	}
	source := connectedNotionSource("tenant-a")
	source.Metadata.Notion.APIKey = ""
	sources := newFakeSourceDirectory()
	sources.put(source)
	worker, jobs, chunks := newNotionTestWorker(client, sources)
	worker.fallbackToken = "secret_shared"

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, worker.HandleNotionSync(context.Background(), task))

	assert.Equal(t, "secret_shared", client.gotKey)
	assert.Equal(t, models.JobStatusDone, jobs.job("job-1").Status)
	assert.NotEmpty(t, chunks.chunks("tenant-a", "notion-p1"))
}

func TestNotionWorkerNoKeyAnywhereFailsPermanent(t *testing.T) {
	source := connectedNotionSource("tenant-a")
	source.Metadata.Notion.APIKey = ""
	sources := newFakeSourceDirectory()
	sources.put(source)
	worker, jobs, _ := newNotionTestWorker(&fakeNotionClient{}, sources)

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	err = worker.HandleNotionSync(context.Background(), task)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
	assert.Equal(t, models.JobStatusFailed, jobs.job("job-1").Status)
}

func TestNotionWorkerPassesWatermarkToSearch(t *testing.T) {
	since := time.Now().Add(-time.Hour)
	source := connectedNotionSource("tenant-a")
	source.LastSynced = &since

	client := &fakeNotionClient{
		pages: []NotionPage{
			{ID: "old", Title: "Stale", LastEdited: since.Add(-time.Hour)},
			{ID: "new", Title: "Fresh", LastEdited: time.Now()},
		},
		content: map[string]string{
			"new": "Only recently edited pages should be re-embedded on an incremental sync.",
		},
	}
	sources := newFakeSourceDirectory()
	sources.put(source)
	worker, jobs, chunks := newNotionTestWorker(client, sources)

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, worker.HandleNotionSync(context.Background(), task))

	require.NotNil(t, client.gotSince)
	assert.True(t, client.gotSince.Equal(since))
	assert.NotEmpty(t, chunks.chunks("tenant-a", "notion-new"))
	assert.Empty(t, chunks.chunks("tenant-a", "notion-old"))
}

func TestNotionWorkerFailedPageDoesNotFailSync(t *testing.T) {
	client := &fakeNotionClient{
		pages: []NotionPage{
			{ID: "good", Title: "Good", LastEdited: time.Now()},
			{ID: "bad", Title: "Bad", LastEdited: time.Now()},
		},
		content: map[string]string{
			"good": "This page syncs without any trouble whatsoever.",
		},
		contentErrs: map[string]error{
			"bad": errors.New("block fetch failed"),
		},
	}
	sources := newFakeSourceDirectory()
	sources.put(connectedNotionSource("tenant-a"))
	worker, jobs, _ := newNotionTestWorker(client, sources)

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, worker.HandleNotionSync(context.Background(), task))

	job := jobs.job("job-1")
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 1, job.Metadata.Notion.FailedPages)
	assert.NotNil(t, sources.watermark("tenant-a", models.ProviderNotion), "watermark advances despite page failures")
}

func TestNotionWorkerScheduledRunCreatesJob(t *testing.T) {
	client := &fakeNotionClient{
		pages:   []NotionPage{{ID: "p1", Title: "Doc", LastEdited: time.Now()}},
		content: map[string]string{"p1": "Scheduled syncs create their own job record for visibility."},
	}
	sources := newFakeSourceDirectory()
	sources.put(connectedNotionSource("tenant-a"))
	worker, jobs, _ := newNotionTestWorker(client, sources)

	task, err := queue.NewNotionSyncTask("", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleNotionSync(context.Background(), task))

	require.Len(t, jobs.jobs, 1)
	for _, job := range jobs.jobs {
		assert.Equal(t, models.JobStatusDone, job.Status)
		assert.Equal(t, queue.TaskNotionSync, job.Type)
	}
}

func TestNotionWorkerScheduledRunSkipsDisconnected(t *testing.T) {
	source := connectedNotionSource("tenant-a")
	source.Status = models.SourceDisconnected
	sources := newFakeSourceDirectory()
	sources.put(source)
	worker, jobs, _ := newNotionTestWorker(&fakeNotionClient{}, sources)

	task, err := queue.NewNotionSyncTask("", "tenant-a")
	require.NoError(t, err)

	assert.NoError(t, worker.HandleNotionSync(context.Background(), task))
	assert.Empty(t, jobs.jobs, "scheduled run racing a disconnect exits quietly")
}

func TestNotionWorkerExplicitJobFailsWhenDisconnected(t *testing.T) {
	source := connectedNotionSource("tenant-a")
	source.Status = models.SourceDisconnected
	sources := newFakeSourceDirectory()
	sources.put(source)
	worker, jobs, _ := newNotionTestWorker(&fakeNotionClient{}, sources)

	jobs.seed("job-1", "tenant-a", queue.TaskNotionSync)
	task, err := queue.NewNotionSyncTask("job-1", "tenant-a")
	require.NoError(t, err)

	err = worker.HandleNotionSync(context.Background(), task)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
	assert.Equal(t, models.JobStatusFailed, jobs.job("job-1").Status)
}
