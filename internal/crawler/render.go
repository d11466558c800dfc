package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// RenderPage loads a URL in a headless browser and extracts its content after
// scripts have run. Fallback for JS-heavy seed pages that serve an empty
// shell to plain HTTP clients.
func RenderPage(parent context.Context, pageURL string, timeout time.Duration) (*Page, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(browserUserAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(pageURL)); err != nil {
		return nil, err
	}

	// Soft-fail the readiness wait; the HTML read below decides the outcome.
	readyCtx, readyCancel := context.WithTimeout(browserCtx, 10*time.Second)
	_ = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	readyCancel()

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	content := ExtractMainContent(doc.Selection)
	return &Page{
		URL:        pageURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Content:    content,
		StatusCode: 200,
		WordCount:  len(strings.Fields(content)),
	}, nil
}
