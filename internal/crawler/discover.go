package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	colly "github.com/gocolly/colly/v2"

	"docqa-platform/internal/logger"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DiscoverOptions configure link-based URL discovery.
type DiscoverOptions struct {
	Limit    int
	MaxDepth int
	Delay    time.Duration
	Timeout  time.Duration
}

// DiscoverLinks walks the site from the seed following same-host links and
// returns up to Limit crawlable URLs, seed included first. Used when the site
// publishes no sitemap.
func DiscoverLinks(seedURL string, opts DiscoverOptions) ([]string, error) {
	normalizedSeed, err := NormalizeURL(seedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed url: %w", err)
	}
	parsed, err := url.Parse(normalizedSeed)
	if err != nil {
		return nil, err
	}
	seedHost := parsed.Hostname()

	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	hostClean := stripWWW(seedHost)
	c := colly.NewCollector(
		colly.Async(true),
		colly.MaxDepth(opts.MaxDepth),
		colly.AllowedDomains(hostClean, "www."+hostClean, seedHost),
	)
	c.SetRequestTimeout(opts.Timeout)
	c.UserAgent = browserUserAgent
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       opts.Delay,
	})

	var (
		mu         sync.Mutex
		discovered = []string{normalizedSeed}
		seen       = map[string]struct{}{normalizedSeed: {}}
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if SkippableLink(href) {
			return
		}
		absolute := e.Request.AbsoluteURL(href)
		if absolute == "" {
			return
		}
		normalized, err := NormalizeURL(absolute)
		if err != nil || !IsCrawlable(normalized, seedHost) {
			return
		}

		mu.Lock()
		if _, dup := seen[normalized]; dup || len(discovered) >= opts.Limit {
			mu.Unlock()
			return
		}
		seen[normalized] = struct{}{}
		discovered = append(discovered, normalized)
		full := len(discovered) >= opts.Limit
		mu.Unlock()

		if !full {
			e.Request.Visit(normalized)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if strings.Contains(err.Error(), "already visited") {
			return
		}
		logger.Debug("Discovery request failed", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
	})

	if err := c.Visit(normalizedSeed); err != nil && !strings.Contains(err.Error(), "already visited") {
		return discovered, fmt.Errorf("failed to visit seed: %w", err)
	}
	c.Wait()

	return discovered, nil
}
