package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/telemetry"
	"docqa-platform/models"
	"docqa-platform/services"
)

// UploadWorker processes uploaded files: extract, chunk, embed, store.
type UploadWorker struct {
	jobs     JobTracker
	pipeline *services.Pipeline

	// KeepFiles disables deletion of the staged upload after processing.
	KeepFiles bool
}

func NewUploadWorker(jobs JobTracker, pipeline *services.Pipeline) *UploadWorker {
	return &UploadWorker{jobs: jobs, pipeline: pipeline}
}

func (w *UploadWorker) HandleFileProcess(ctx context.Context, t *asynq.Task) error {
	var payload queue.FileProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing uploaded file",
		"job_id", payload.JobID,
		"tenant_id", payload.TenantID,
		"file", payload.OriginalName)

	if err := w.jobs.SetProcessing(ctx, payload.JobID); err != nil {
		return err
	}

	err := w.process(ctx, payload)
	if err != nil {
		w.jobs.SetFailed(ctx, payload.JobID, err)
		telemetry.RecordJobFailed(ctx, queue.QueueFileProcess)
		return err
	}

	telemetry.RecordJobProcessed(ctx, queue.QueueFileProcess)
	return w.jobs.SetDone(ctx, payload.JobID)
}

func (w *UploadWorker) process(ctx context.Context, payload queue.FileProcessPayload) error {
	text, err := ExtractText(payload.FilePath, payload.OriginalName)
	if err != nil {
		if errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrEmptyDocument) {
			w.cleanup(payload.FilePath)
			return permanent(err)
		}
		return err
	}
	w.jobs.SetProgress(ctx, payload.JobID, 10)

	fileSize := int64(0)
	if info, statErr := os.Stat(payload.FilePath); statErr == nil {
		fileSize = info.Size()
	}

	result, err := w.pipeline.Process(ctx, services.ProcessRequest{
		TenantID: payload.TenantID,
		DocID:    payload.JobID,
		Source:   payload.OriginalName,
		Provider: models.ProviderUploads,
		FileType: fileExtension(payload.OriginalName),
		Text:     text,
		Progress: func(ctx context.Context, pct int) {
			w.jobs.SetProgress(ctx, payload.JobID, pct)
		},
	})
	if err != nil {
		if errors.Is(err, services.ErrNoContent) {
			w.cleanup(payload.FilePath)
			return permanent(err)
		}
		return err
	}

	w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
		Upload: &models.UploadMetadata{
			OriginalName: payload.OriginalName,
			FilePath:     payload.FilePath,
			FileSize:     fileSize,
			TextLength:   len(text),
			ChunksCount:  result.ChunksCount,
			VectorsCount: result.VectorsCount,
		},
	})

	w.cleanup(payload.FilePath)
	return nil
}

func (w *UploadWorker) cleanup(path string) {
	if w.KeepFiles || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove staged upload", "path", path, "error", err)
	}
}

func fileExtension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
