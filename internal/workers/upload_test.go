package workers

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/queue"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
	"docqa-platform/services"
)

func newTestPipeline(embedder *fakeEmbedder, chunks *fakeChunkReplacer) (*services.Pipeline, *vectorstore.MemoryStore) {
	vectors := vectorstore.NewMemoryStore(4)
	return &services.Pipeline{
		Embedder: embedder,
		Chunks:   chunks,
		Vectors:  vectors,
		Splitter: services.SplitterOptions{MaxChunkSize: 200, Overlap: 40, MinChunkSize: 20},
	}, vectors
}

func TestUploadWorkerProcessesFile(t *testing.T) {
	jobs := newFakeJobTracker()
	jobs.seed("job-1", "tenant-a", queue.TaskFileProcess)
	chunks := newFakeChunkReplacer()
	pipeline, vectors := newTestPipeline(&fakeEmbedder{}, chunks)
	worker := NewUploadWorker(jobs, pipeline)

	path := writeTempFile(t, "report.txt", "The quarterly report shows steady growth across all regions. Expenses held flat while revenue climbed twelve percent.")

	task, err := queue.NewFileProcessTask("job-1", "tenant-a", path, "report.txt")
	require.NoError(t, err)
	require.NoError(t, worker.HandleFileProcess(context.Background(), task))

	job := jobs.job("job-1")
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)

	require.NotNil(t, job.Metadata.Upload)
	assert.Equal(t, "report.txt", job.Metadata.Upload.OriginalName)
	assert.Greater(t, job.Metadata.Upload.ChunksCount, 0)
	assert.Equal(t, job.Metadata.Upload.ChunksCount, job.Metadata.Upload.VectorsCount)

	assert.NotEmpty(t, chunks.chunks("tenant-a", "job-1"))
	assert.Equal(t, job.Metadata.Upload.VectorsCount, vectors.Count())

	assert.Contains(t, jobs.progress["job-1"], 10)
	assert.Contains(t, jobs.progress["job-1"], 90)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "staged file should be removed after processing")
}

func TestUploadWorkerUnsupportedTypeIsPermanent(t *testing.T) {
	jobs := newFakeJobTracker()
	jobs.seed("job-1", "tenant-a", queue.TaskFileProcess)
	embedder := &fakeEmbedder{}
	pipeline, _ := newTestPipeline(embedder, newFakeChunkReplacer())
	worker := NewUploadWorker(jobs, pipeline)

	path := writeTempFile(t, "tool.exe", "binary-ish")

	task, err := queue.NewFileProcessTask("job-1", "tenant-a", path, "tool.exe")
	require.NoError(t, err)

	err = worker.HandleFileProcess(context.Background(), task)
	require.Error(t, err)
	assert.True(t, isPermanent(err), "unsupported type must not be retried")
	assert.Zero(t, embedder.calls, "nothing gets embedded for an unsupported file")

	job := jobs.job("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, ".txt", "the failure names the supported extensions")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "unusable file should still be cleaned up")
}

func TestUploadWorkerEmbeddingFailureIsRetryable(t *testing.T) {
	jobs := newFakeJobTracker()
	jobs.seed("job-1", "tenant-a", queue.TaskFileProcess)
	chunks := newFakeChunkReplacer()
	embedder := &fakeEmbedder{failure: errors.New("model overloaded")}
	pipeline, vectors := newTestPipeline(embedder, chunks)
	worker := NewUploadWorker(jobs, pipeline)

	path := writeTempFile(t, "doc.txt", "Content that will never make it into the index this round.")

	task, err := queue.NewFileProcessTask("job-1", "tenant-a", path, "doc.txt")
	require.NoError(t, err)

	err = worker.HandleFileProcess(context.Background(), task)
	require.Error(t, err)
	assert.False(t, isPermanent(err), "transient embedding failure should be retried")

	assert.Empty(t, chunks.chunks("tenant-a", "job-1"))
	assert.Zero(t, vectors.Count())

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "staged file must survive for the retry")
}

func TestUploadWorkerKeepFiles(t *testing.T) {
	jobs := newFakeJobTracker()
	jobs.seed("job-1", "tenant-a", queue.TaskFileProcess)
	pipeline, _ := newTestPipeline(&fakeEmbedder{}, newFakeChunkReplacer())
	worker := NewUploadWorker(jobs, pipeline)
	worker.KeepFiles = true

	path := writeTempFile(t, "keep.txt", "This file should remain on disk after the job finishes.")

	task, err := queue.NewFileProcessTask("job-1", "tenant-a", path, "keep.txt")
	require.NoError(t, err)
	require.NoError(t, worker.HandleFileProcess(context.Background(), task))

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}
