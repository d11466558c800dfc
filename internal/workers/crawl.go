package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/crawler"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/telemetry"
	"docqa-platform/models"
	"docqa-platform/services"
)

// CrawlOptions tune site ingestion.
type CrawlOptions struct {
	DiscoveryLimit int
	HardCap        int
	Delay          time.Duration
	FetchTimeout   time.Duration
	MaxFetchBytes  int64
	MinContent     int
	RenderJS       bool
}

// CrawlWorker ingests entire sites: discover URLs (sitemap first, link
// walking second), fetch each page, and run every page through the embedding
// pipeline as its own document.
type CrawlWorker struct {
	jobs     JobTracker
	pipeline *services.Pipeline
	client   *http.Client
	opts     CrawlOptions
}

func NewCrawlWorker(jobs JobTracker, pipeline *services.Pipeline, client *http.Client, opts CrawlOptions) *CrawlWorker {
	if opts.DiscoveryLimit <= 0 {
		opts.DiscoveryLimit = 200
	}
	if opts.HardCap <= 0 {
		opts.HardCap = 500
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}
	return &CrawlWorker{jobs: jobs, pipeline: pipeline, client: client, opts: opts}
}

func (w *CrawlWorker) HandleSiteCrawl(ctx context.Context, t *asynq.Task) error {
	var payload queue.SiteCrawlPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Starting site crawl",
		"job_id", payload.JobID,
		"tenant_id", payload.TenantID,
		"seed", payload.SeedURL)

	if err := w.jobs.SetProcessing(ctx, payload.JobID); err != nil {
		return err
	}

	err := w.crawl(ctx, payload)
	if err != nil {
		w.jobs.SetFailed(ctx, payload.JobID, err)
		telemetry.RecordJobFailed(ctx, queue.QueueSiteCrawl)
		return err
	}

	telemetry.RecordJobProcessed(ctx, queue.QueueSiteCrawl)
	return w.jobs.SetDone(ctx, payload.JobID)
}

func (w *CrawlWorker) crawl(ctx context.Context, payload queue.SiteCrawlPayload) error {
	seed, err := crawler.NormalizeURL(payload.SeedURL)
	if err != nil {
		return permanent(fmt.Errorf("invalid seed url: %w", err))
	}
	parsedSeed, err := url.Parse(seed)
	if err != nil {
		return permanent(err)
	}

	urls := w.discover(ctx, seed)
	if len(urls) > w.opts.HardCap {
		urls = urls[:w.opts.HardCap]
	}
	total := len(urls)

	w.jobs.SetProgress(ctx, payload.JobID, 5)
	w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
		Crawl: &models.CrawlMetadata{
			SeedURL:        seed,
			Host:           parsedSeed.Hostname(),
			DiscoveredURLs: total,
		},
	})

	var processed, successful int
	for _, pageURL := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		page, fetchErr := w.fetchPage(ctx, pageURL, pageURL == seed)
		processed++

		if fetchErr != nil {
			logger.Warn("Skipping page", "url", pageURL, "error", fetchErr)
		} else if ingestErr := w.ingestPage(ctx, payload.TenantID, page); ingestErr != nil {
			logger.Warn("Failed to ingest page", "url", pageURL, "error", ingestErr)
		} else {
			successful++
		}

		// Progress spans 5..100 across the discovered set.
		w.jobs.SetProgress(ctx, payload.JobID, 5+processed*95/total)
		w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
			Crawl: &models.CrawlMetadata{
				SeedURL:        seed,
				Host:           parsedSeed.Hostname(),
				DiscoveredURLs: total,
				ProcessedURLs:  processed,
				SuccessfulURLs: successful,
			},
		})

		if w.opts.Delay > 0 && processed < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.Delay):
			}
		}
	}

	if successful == 0 {
		return fmt.Errorf("crawl of %s produced no usable pages", seed)
	}

	w.jobs.UpdateMetadata(ctx, payload.JobID, models.JobMetadata{
		Crawl: &models.CrawlMetadata{
			SeedURL:        seed,
			Host:           parsedSeed.Hostname(),
			DiscoveredURLs: total,
			ProcessedURLs:  processed,
			SuccessfulURLs: successful,
			Message:        fmt.Sprintf("ingested %d of %d pages", successful, total),
		},
	})
	return nil
}

// discover builds the URL list: sitemap first, then link walking, then the
// seed alone.
func (w *CrawlWorker) discover(ctx context.Context, seed string) []string {
	urls, err := crawler.DiscoverFromSitemap(ctx, w.client, seed, w.opts.DiscoveryLimit)
	if err == nil && len(urls) > 0 {
		logger.Info("Discovered urls from sitemap", "seed", seed, "count", len(urls))
		return ensureSeedFirst(urls, seed)
	}

	urls, err = crawler.DiscoverLinks(seed, crawler.DiscoverOptions{
		Limit:   w.opts.DiscoveryLimit,
		Delay:   w.opts.Delay,
		Timeout: w.opts.FetchTimeout,
	})
	if err != nil {
		logger.Warn("Link discovery failed, crawling seed only", "seed", seed, "error", err)
		return []string{seed}
	}
	logger.Info("Discovered urls by walking links", "seed", seed, "count", len(urls))
	return ensureSeedFirst(urls, seed)
}

func (w *CrawlWorker) fetchPage(ctx context.Context, pageURL string, isSeed bool) (*crawler.Page, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()

	page, err := crawler.FetchPage(fetchCtx, w.client, pageURL, crawler.FetchOptions{
		MaxBytes:   w.opts.MaxFetchBytes,
		MinContent: w.opts.MinContent,
	})
	if err == nil {
		return page, nil
	}

	// JS-rendered seed pages often serve an empty shell; retry the seed in a
	// headless browser before giving up on the whole crawl.
	if isSeed && w.opts.RenderJS && (errors.Is(err, crawler.ErrThinContent) || page == nil) {
		rendered, renderErr := crawler.RenderPage(ctx, pageURL, 45*time.Second)
		if renderErr == nil && len(rendered.Content) >= w.opts.MinContent {
			return rendered, nil
		}
	}
	return nil, err
}

func (w *CrawlWorker) ingestPage(ctx context.Context, tenantID string, page *crawler.Page) error {
	text := page.Content
	if page.Title != "" {
		text = page.Title + "\n\n" + text
	}

	_, err := w.pipeline.Process(ctx, services.ProcessRequest{
		TenantID: tenantID,
		DocID:    PageDocID(tenantID, page.URL),
		Source:   page.URL,
		Provider: models.ProviderSiteDocs,
		FileType: "html",
		Text:     text,
	})
	return err
}

// PageDocID derives a stable document id from the page URL so re-crawling a
// site replaces its documents instead of duplicating them.
func PageDocID(tenantID, pageURL string) string {
	return "site-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(tenantID+"|"+pageURL)).String()
}

func ensureSeedFirst(urls []string, seed string) []string {
	for i, u := range urls {
		if u == seed {
			if i != 0 {
				urls[0], urls[i] = urls[i], urls[0]
			}
			return urls
		}
	}
	return append([]string{seed}, urls...)
}
