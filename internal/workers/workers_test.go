package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docqa-platform/models"
)

// fakeJobTracker records every job mutation in memory.
type fakeJobTracker struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	progress map[string][]int
	nextID   int
}

func newFakeJobTracker() *fakeJobTracker {
	return &fakeJobTracker{
		jobs:     make(map[string]*models.Job),
		progress: make(map[string][]int),
	}
}

func (f *fakeJobTracker) seed(jobID, tenantID, jobType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = &models.Job{
		ID:       jobID,
		TenantID: tenantID,
		Type:     jobType,
		Status:   models.JobStatusPending,
	}
}

func (f *fakeJobTracker) Create(ctx context.Context, tenantID, jobType string, metadata models.JobMetadata) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job := &models.Job{
		ID:       fmt.Sprintf("job-%d", f.nextID),
		TenantID: tenantID,
		Type:     jobType,
		Status:   models.JobStatusPending,
		Metadata: metadata,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobTracker) SetProcessing(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = models.JobStatusProcessing
	return nil
}

func (f *fakeJobTracker) SetProgress(ctx context.Context, jobID string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if progress > f.jobs[jobID].Progress {
		f.jobs[jobID].Progress = progress
	}
	f.progress[jobID] = append(f.progress[jobID], progress)
	return nil
}

func (f *fakeJobTracker) SetDone(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = models.JobStatusDone
	f.jobs[jobID].Progress = 100
	return nil
}

func (f *fakeJobTracker) SetFailed(ctx context.Context, jobID string, jobErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = models.JobStatusFailed
	f.jobs[jobID].Error = jobErr.Error()
	return nil
}

func (f *fakeJobTracker) UpdateMetadata(ctx context.Context, jobID string, metadata models.JobMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Metadata = metadata
	return nil
}

func (f *fakeJobTracker) job(jobID string) models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[jobID]
}

// fakeEmbedder returns a deterministic vector per text.
type fakeEmbedder struct {
	dims    int
	failure error
	calls   int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failure != nil {
		return nil, f.failure
	}
	dims := f.dims
	if dims == 0 {
		dims = 4
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dims)
		vec[0] = float32(len(texts[i]))
		vec[1] = 1
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// fakeChunkReplacer stores each doc's latest chunk set.
type fakeChunkReplacer struct {
	mu   sync.Mutex
	docs map[string][]models.Chunk
}

func newFakeChunkReplacer() *fakeChunkReplacer {
	return &fakeChunkReplacer{docs: make(map[string][]models.Chunk)}
}

func (f *fakeChunkReplacer) ReplaceForDoc(ctx context.Context, tenantID, docID string, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[tenantID+"/"+docID] = chunks
	return nil
}

func (f *fakeChunkReplacer) chunks(tenantID, docID string) []models.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[tenantID+"/"+docID]
}

// fakeSourceDirectory holds sources keyed by tenant and provider.
type fakeSourceDirectory struct {
	mu      sync.Mutex
	sources map[string]*models.Source
}

func newFakeSourceDirectory() *fakeSourceDirectory {
	return &fakeSourceDirectory{sources: make(map[string]*models.Source)}
}

func (f *fakeSourceDirectory) put(source *models.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[source.TenantID+"/"+source.Provider] = source
}

func (f *fakeSourceDirectory) Get(ctx context.Context, tenantID, provider string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[tenantID+"/"+provider]
	if !ok {
		return nil, fmt.Errorf("source %s/%s not found", tenantID, provider)
	}
	copied := *source
	return &copied, nil
}

func (f *fakeSourceDirectory) ListConnected(ctx context.Context, provider string) ([]models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Source
	for _, source := range f.sources {
		if source.Provider == provider && source.Status == models.SourceConnected {
			out = append(out, *source)
		}
	}
	return out, nil
}

func (f *fakeSourceDirectory) AdvanceWatermark(ctx context.Context, tenantID, provider string, syncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[tenantID+"/"+provider]
	if !ok {
		return fmt.Errorf("source %s/%s not found", tenantID, provider)
	}
	source.LastSynced = &syncedAt
	return nil
}

func (f *fakeSourceDirectory) Disconnect(ctx context.Context, tenantID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[tenantID+"/"+provider]
	if !ok {
		return fmt.Errorf("source %s/%s not found", tenantID, provider)
	}
	source.Status = models.SourceDisconnected
	return nil
}

func (f *fakeSourceDirectory) watermark(tenantID, provider string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[tenantID+"/"+provider]
	if !ok {
		return nil
	}
	return source.LastSynced
}
