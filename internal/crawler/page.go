package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

var (
	ErrNotHTML     = errors.New("response is not an html page")
	ErrThinContent = errors.New("page has too little content")
	ErrBlockedPage = errors.New("access to page was blocked")
)

// Page is one fetched and cleaned document page.
type Page struct {
	URL        string
	Title      string
	Content    string
	StatusCode int
	WordCount  int
}

// FetchOptions bound a single page fetch.
type FetchOptions struct {
	MaxBytes   int64
	MinContent int
}

// FetchPage downloads one URL and extracts its main text content. The body
// read is capped at MaxBytes; pages below MinContent characters of extracted
// text return ErrThinContent so callers can count them as skipped rather than
// failed.
func FetchPage(ctx context.Context, client *http.Client, pageURL string, opts FetchOptions) (*Page, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrBlockedPage, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml+xml") {
		return nil, fmt.Errorf("%w: content-type %s", ErrNotHTML, contentType)
	}

	var body io.Reader = io.LimitReader(resp.Body, opts.MaxBytes)

	// Go's transport decompresses gzip transparently but not brotli.
	if strings.Contains(resp.Header.Get("Content-Encoding"), "br") {
		body = brotli.NewReader(body)
	}

	utf8Body, err := charset.NewReader(body, contentType)
	if err != nil {
		utf8Body = body
	}

	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content := ExtractMainContent(doc.Selection)
	wordCount := len(strings.Fields(content))

	page := &Page{
		URL:        pageURL,
		Title:      title,
		Content:    content,
		StatusCode: resp.StatusCode,
		WordCount:  wordCount,
	}
	if len(content) < opts.MinContent {
		return page, ErrThinContent
	}
	return page, nil
}

var contentSelectors = []string{
	"main",
	"article",
	"[role='main']",
	".main-content",
	".content",
	"#content",
	".post",
	".entry",
	"body",
}

// ExtractMainContent pulls readable text out of a page, preferring semantic
// content containers and stripping navigation chrome.
func ExtractMainContent(selection *goquery.Selection) string {
	doc := selection.Clone()
	doc.Find("script, style, noscript, nav, footer, header, aside, .nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads, .skip-link, .cookie-banner").Remove()

	var content strings.Builder
	found := false
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 100 {
				content.WriteString(text)
				content.WriteString("\n\n")
				found = true
			}
		})
		if found {
			break
		}
	}
	if !found {
		content.WriteString(doc.Find("body").Text())
	}

	lines := strings.Split(content.String(), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
