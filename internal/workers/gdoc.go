package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/telemetry"
	"docqa-platform/models"
	"docqa-platform/services"
)

var (
	ErrGDocForbidden = errors.New("google doc is not shared publicly")
	ErrGDocNotFound  = errors.New("google doc not found")
	ErrGDocEmpty     = errors.New("google doc export is empty")
	ErrGDocHTML      = errors.New("google doc export returned a login or error page")
)

// GDocOptions bound the export fetch.
type GDocOptions struct {
	FetchTimeout  time.Duration
	MaxFetchBytes int64
}

// Link kinds ParseGDocURL recognizes. Documents export through the docs
// plain-text endpoint, Drive files through the direct-download endpoint.
const (
	GDocKindDocument = "document"
	GDocKindFile     = "file"
)

// GDocWorker ingests public Google Docs and Drive files through their export
// endpoints; no OAuth involved, the target must be link-shared.
type GDocWorker struct {
	jobs     JobTracker
	pipeline *services.Pipeline
	client   *http.Client
	opts     GDocOptions

	// Base URLs are overridable in tests.
	ExportBaseURL string
	DriveBaseURL  string
}

func NewGDocWorker(jobs JobTracker, pipeline *services.Pipeline, client *http.Client, opts GDocOptions) *GDocWorker {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.MaxFetchBytes <= 0 {
		opts.MaxFetchBytes = 10 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}
	return &GDocWorker{
		jobs:          jobs,
		pipeline:      pipeline,
		client:        client,
		opts:          opts,
		ExportBaseURL: "https://docs.google.com",
		DriveBaseURL:  "https://drive.google.com",
	}
}

func (w *GDocWorker) HandleGDocFetch(ctx context.Context, t *asynq.Task) error {
	var payload queue.GDocFetchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Fetching google doc",
		"job_id", payload.JobID,
		"tenant_id", payload.TenantID,
		"doc_id", payload.DocID)

	if err := w.jobs.SetProcessing(ctx, payload.JobID); err != nil {
		return err
	}

	err := w.process(ctx, payload)
	if err != nil {
		w.jobs.SetFailed(ctx, payload.JobID, err)
		telemetry.RecordJobFailed(ctx, queue.QueueGDocFetch)
		return err
	}

	telemetry.RecordJobProcessed(ctx, queue.QueueGDocFetch)
	return w.jobs.SetDone(ctx, payload.JobID)
}

func (w *GDocWorker) process(ctx context.Context, payload queue.GDocFetchPayload) error {
	exportURL := w.exportURL(payload)
	w.jobs.SetProgress(ctx, payload.JobID, 5)

	text, err := w.fetchExport(ctx, exportURL)
	if err != nil {
		if errors.Is(err, ErrGDocForbidden) || errors.Is(err, ErrGDocNotFound) ||
			errors.Is(err, ErrGDocEmpty) || errors.Is(err, ErrGDocHTML) {
			return permanent(err)
		}
		return err
	}
	w.jobs.SetProgress(ctx, payload.JobID, 20)

	result, err := w.pipeline.Process(ctx, services.ProcessRequest{
		TenantID: payload.TenantID,
		DocID:    "gdoc-" + payload.DocID,
		Source:   payload.OriginalURL,
		Provider: models.ProviderGDocs,
		FileType: "gdoc",
		Text:     text,
		Progress: func(ctx context.Context, pct int) {
			w.jobs.SetProgress(ctx, payload.JobID, pct)
		},
	})
	if err != nil {
		if errors.Is(err, services.ErrNoContent) {
			return permanent(err)
		}
		return err
	}

	w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
		GDoc: &models.GDocMetadata{
			OriginalURL: payload.OriginalURL,
			DocID:       payload.DocID,
			ExportURL:   exportURL,
			TextLength:  len(text),
		},
	})
	logger.Info("Google doc ingested", "doc_id", payload.DocID, "chunks", result.ChunksCount)
	return nil
}

// exportURL picks the fetch endpoint for the link kind. Tasks enqueued
// before kinds existed carry none and default to a document.
func (w *GDocWorker) exportURL(payload queue.GDocFetchPayload) string {
	if payload.Kind == GDocKindFile {
		return fmt.Sprintf("%s/uc?export=download&id=%s", w.DriveBaseURL, payload.DocID)
	}
	return fmt.Sprintf("%s/document/d/%s/export?format=txt", w.ExportBaseURL, payload.DocID)
}

func (w *GDocWorker) fetchExport(ctx context.Context, exportURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, exportURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return "", ErrGDocForbidden
	case http.StatusNotFound:
		return "", ErrGDocNotFound
	default:
		return "", fmt.Errorf("export returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.opts.MaxFetchBytes))
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", ErrGDocEmpty
	}

	// A "text" export that opens with an HTML tag is Google's sign-in or
	// error interstitial, not the document.
	if looksLikeHTML(text) {
		return "", ErrGDocHTML
	}
	return text, nil
}

func looksLikeHTML(text string) bool {
	head := strings.ToLower(text)
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<head>")
}

// ParseGDocURL extracts the id and kind from any of the common Google Docs
// and Drive URL shapes, or from a bare id.
func ParseGDocURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty google doc url")
	}

	if id, ok := pathID(raw, "/document/d/"); ok {
		if id == "" {
			return "", "", fmt.Errorf("google doc url %q has no document id", raw)
		}
		return id, GDocKindDocument, nil
	}
	if id, ok := pathID(raw, "/file/d/"); ok {
		if id == "" {
			return "", "", fmt.Errorf("google drive url %q has no file id", raw)
		}
		return id, GDocKindFile, nil
	}

	// Accept a bare id: docs ids are long url-safe tokens.
	if !strings.ContainsAny(raw, "/:?#& ") && len(raw) >= 20 {
		return raw, GDocKindDocument, nil
	}
	return "", "", fmt.Errorf("unrecognized google doc url %q", raw)
}

func pathID(raw, marker string) (string, bool) {
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(marker):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}
