package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"docqa-platform/internal/logger"
)

const maxSitemapBytes = 10 << 20

type sitemapIndex struct {
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Loc string `xml:"loc"`
}

type urlSet struct {
	URLs []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// DiscoverFromSitemap fetches <seed origin>/sitemap.xml and returns up to
// limit crawlable URLs. A sitemap index is followed one level deep. Returns
// nil when the site has no usable sitemap; the caller falls back to link
// discovery.
func DiscoverFromSitemap(ctx context.Context, client *http.Client, seedURL string, limit int) ([]string, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}
	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", parsed.Scheme, parsed.Host)
	seedHost := parsed.Hostname()

	body, err := fetchSitemap(ctx, client, sitemapURL)
	if err != nil {
		logger.Debug("No sitemap available", "url", sitemapURL, "error", err)
		return nil, nil
	}

	urls := parseSitemapURLs(body)
	if len(urls) == 0 {
		// Might be a sitemap index; follow the referenced sitemaps.
		var index sitemapIndex
		if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
			for _, ref := range index.Sitemaps {
				if len(urls) >= limit {
					break
				}
				sub, err := fetchSitemap(ctx, client, ref.Loc)
				if err != nil {
					logger.Debug("Failed to fetch child sitemap", "url", ref.Loc, "error", err)
					continue
				}
				urls = append(urls, parseSitemapURLs(sub)...)
			}
		}
	}

	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, raw := range urls {
		if len(out) >= limit {
			break
		}
		normalized, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if !IsCrawlable(normalized, seedHost) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

func parseSitemapURLs(body []byte) []string {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}
	return urls
}

func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}
