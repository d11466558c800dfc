package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jomei/notionapi"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/telemetry"
	"docqa-platform/models"
	"docqa-platform/services"
)

var ErrNotionNotConnected = errors.New("notion source is not connected")

// NotionPage is one workspace page eligible for sync.
type NotionPage struct {
	ID         string
	Title      string
	LastEdited time.Time
}

// NotionClient abstracts the Notion API surface the sync needs.
type NotionClient interface {
	// Search lists pages edited after since; a nil since lists everything.
	Search(ctx context.Context, since *time.Time) ([]NotionPage, error)
	// PageContent flattens a page's block tree to plain text.
	PageContent(ctx context.Context, pageID string) (string, error)
}

// NotionWorker runs incremental workspace syncs. Each page becomes its own
// document; the source's watermark decides which pages are stale.
type NotionWorker struct {
	jobs          JobTracker
	sources       SourceDirectory
	pipeline      *services.Pipeline
	fallbackToken string
	newClient     func(apiKey string) NotionClient
}

// NewNotionWorker builds the sync worker. fallbackToken is the shared
// NOTION_TOKEN used when a source's metadata carries no key of its own.
func NewNotionWorker(jobs JobTracker, sources SourceDirectory, pipeline *services.Pipeline, fallbackToken string) *NotionWorker {
	return &NotionWorker{
		jobs:          jobs,
		sources:       sources,
		pipeline:      pipeline,
		fallbackToken: fallbackToken,
		newClient:     newNotionAPIClient,
	}
}

func (w *NotionWorker) HandleNotionSync(ctx context.Context, t *asynq.Task) error {
	var payload queue.NotionSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	source, err := w.sources.Get(ctx, payload.TenantID, models.ProviderNotion)
	if err != nil {
		return err
	}
	apiKey := w.resolveAPIKey(source)
	if source.Status != models.SourceConnected || apiKey == "" {
		// Scheduled task raced a disconnect; nothing to do.
		if payload.JobID == "" {
			logger.Info("Skipping scheduled notion sync, source disconnected", "tenant_id", payload.TenantID)
			return nil
		}
		err := ErrNotionNotConnected
		w.jobs.SetFailed(ctx, payload.JobID, err)
		return permanent(err)
	}

	// Scheduled runs carry no job; create one so the sync is observable.
	jobID := payload.JobID
	if jobID == "" {
		job, err := w.jobs.Create(ctx, payload.TenantID, queue.TaskNotionSync, models.JobMetadata{
			Notion: &models.NotionMetadata{Message: "scheduled sync"},
		})
		if err != nil {
			return err
		}
		jobID = job.ID
	}

	if err := w.jobs.SetProcessing(ctx, jobID); err != nil {
		return err
	}

	err = w.sync(ctx, jobID, payload.TenantID, apiKey, source)
	if err != nil {
		w.jobs.SetFailed(ctx, jobID, err)
		telemetry.RecordJobFailed(ctx, queue.QueueNotionSync)
		return err
	}

	telemetry.RecordJobProcessed(ctx, queue.QueueNotionSync)
	return w.jobs.SetDone(ctx, jobID)
}

// resolveAPIKey prefers the key stored with the source and falls back to the
// worker-wide token.
func (w *NotionWorker) resolveAPIKey(source *models.Source) string {
	if source.Metadata.Notion != nil && source.Metadata.Notion.APIKey != "" {
		return source.Metadata.Notion.APIKey
	}
	return w.fallbackToken
}

func (w *NotionWorker) sync(ctx context.Context, jobID, tenantID, apiKey string, source *models.Source) error {
	startedAt := time.Now().UTC()
	client := w.newClient(apiKey)

	pages, err := client.Search(ctx, source.LastSynced)
	if err != nil {
		return fmt.Errorf("notion search failed: %w", err)
	}
	w.jobs.SetProgress(ctx, jobID, 10)

	total := len(pages)
	var processed, failed int
	for _, page := range pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.jobs.UpdateMetadata(ctx, jobID, models.JobMetadata{
			Notion: &models.NotionMetadata{
				TotalPages:     total,
				ProcessedPages: processed,
				FailedPages:    failed,
				CurrentPage:    page.Title,
			},
		})

		if err := w.syncPage(ctx, tenantID, client, page); err != nil {
			logger.Warn("Failed to sync notion page", "page_id", page.ID, "title", page.Title, "error", err)
			failed++
		}
		processed++

		// Progress spans 10..95 across the page set.
		w.jobs.SetProgress(ctx, jobID, 10+processed*85/max(total, 1))
	}

	// The watermark advances even when pages failed: a page that keeps
	// failing is retried on its next edit, not on every sync.
	if err := w.sources.AdvanceWatermark(ctx, tenantID, models.ProviderNotion, startedAt); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	w.jobs.SetProgress(ctx, jobID, 95)

	w.jobs.UpdateMetadata(ctx, jobID, models.JobMetadata{
		Notion: &models.NotionMetadata{
			TotalPages:     total,
			ProcessedPages: processed,
			FailedPages:    failed,
			Message:        fmt.Sprintf("synced %d pages, %d failed", processed-failed, failed),
		},
	})
	logger.Info("Notion sync finished", "tenant_id", tenantID, "pages", processed, "failed", failed)
	return nil
}

func (w *NotionWorker) syncPage(ctx context.Context, tenantID string, client NotionClient, page NotionPage) error {
	content, err := client.PageContent(ctx, page.ID)
	if err != nil {
		return err
	}

	text := content
	if page.Title != "" {
		text = page.Title + "\n\n" + text
	}

	_, err = w.pipeline.Process(ctx, services.ProcessRequest{
		TenantID: tenantID,
		DocID:    "notion-" + page.ID,
		Source:   page.Title,
		Provider: models.ProviderNotion,
		FileType: "notion",
		Text:     text,
	})
	if errors.Is(err, services.ErrNoContent) {
		// Empty pages are fine; just nothing to index.
		return nil
	}
	return err
}

// notionAPIClient implements NotionClient on the official API.
type notionAPIClient struct {
	client *notionapi.Client
}

func newNotionAPIClient(apiKey string) NotionClient {
	return &notionAPIClient{client: notionapi.NewClient(notionapi.Token(apiKey))}
}

func (c *notionAPIClient) Search(ctx context.Context, since *time.Time) ([]NotionPage, error) {
	var pages []NotionPage
	var cursor notionapi.Cursor

	for {
		resp, err := c.client.Search.Do(ctx, &notionapi.SearchRequest{
			Filter: notionapi.SearchFilter{
				Value:    "page",
				Property: "object",
			},
			Sort: &notionapi.SortObject{
				Direction: notionapi.SortOrderASC,
				Timestamp: notionapi.TimestampLastEdited,
			},
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range resp.Results {
			page, ok := obj.(*notionapi.Page)
			if !ok {
				continue
			}
			if since != nil && !page.LastEditedTime.After(*since) {
				continue
			}
			pages = append(pages, NotionPage{
				ID:         page.ID.String(),
				Title:      pageTitle(page),
				LastEdited: page.LastEditedTime,
			})
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}

func (c *notionAPIClient) PageContent(ctx context.Context, pageID string) (string, error) {
	var sb strings.Builder
	if err := c.appendBlockChildren(ctx, notionapi.BlockID(pageID), &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *notionAPIClient) appendBlockChildren(ctx context.Context, blockID notionapi.BlockID, sb *strings.Builder) error {
	var cursor notionapi.Cursor
	for {
		resp, err := c.client.Block.GetChildren(ctx, blockID, &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return err
		}

		for _, block := range resp.Results {
			if line := renderBlock(block); line != "" {
				sb.WriteString(line)
				sb.WriteString("\n\n")
			}
			if block.GetHasChildren() {
				if err := c.appendBlockChildren(ctx, notionapi.BlockID(block.GetID()), sb); err != nil {
					return err
				}
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
	return nil
}

// renderBlock converts the text-bearing block types to plain text lines.
// Unsupported block types render as empty and are skipped.
func renderBlock(block notionapi.Block) string {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return richText(b.Paragraph.RichText)
	case *notionapi.Heading1Block:
		return "# " + richText(b.Heading1.RichText)
	case *notionapi.Heading2Block:
		return "## " + richText(b.Heading2.RichText)
	case *notionapi.Heading3Block:
		return "### " + richText(b.Heading3.RichText)
	case *notionapi.BulletedListItemBlock:
		return "- " + richText(b.BulletedListItem.RichText)
	case *notionapi.NumberedListItemBlock:
		return "- " + richText(b.NumberedListItem.RichText)
	case *notionapi.ToDoBlock:
		mark := "[ ]"
		if b.ToDo.Checked {
			mark = "[x]"
		}
		return mark + " " + richText(b.ToDo.RichText)
	case *notionapi.QuoteBlock:
		return "> " + richText(b.Quote.RichText)
	case *notionapi.CodeBlock:
		return richText(b.Code.RichText)
	default:
		return ""
	}
}

func richText(parts []notionapi.RichText) string {
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

func pageTitle(page *notionapi.Page) string {
	for _, prop := range page.Properties {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			return richText(title.Title)
		}
	}
	return ""
}
