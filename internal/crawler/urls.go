package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for duplicate detection: lowercase scheme
// and host, fragment stripped, default ports removed, trailing slash removed
// on non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	path := parsed.Path
	if path == "" {
		path = "/"
	} else if path != "/" {
		path = strings.TrimSuffix(path, "/")
		if path == "" {
			path = "/"
		}
	}
	parsed.Path = path

	if parsed.Port() == "80" && parsed.Scheme == "http" {
		host, _, _ := strings.Cut(parsed.Host, ":")
		parsed.Host = host
	}
	if parsed.Port() == "443" && parsed.Scheme == "https" {
		host, _, _ := strings.Cut(parsed.Host, ":")
		parsed.Host = host
	}

	return parsed.String(), nil
}

// excludedPathPatterns filters URLs that never carry document content.
var excludedPathPatterns = []string{
	"/wp-json/",
	"/api/",
	"/ajax/",
	".pdf",
	".jpg",
	".jpeg",
	".png",
	".gif",
	".svg",
	".webp",
	".ico",
	".css",
	".js",
	".zip",
	".mp4",
	"/feed/",
	"/rss/",
	"/atom/",
	"/wp-admin/",
	"/wp-includes/",
	"/cdn-cgi/",
}

// IsCrawlable reports whether a normalized URL belongs to the crawl: http(s),
// same registrable host as the seed (www-insensitive), and not an asset or
// machinery path.
func IsCrawlable(normalizedURL, seedHost string) bool {
	parsed, err := url.Parse(normalizedURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if !SameHost(parsed.Hostname(), seedHost) {
		return false
	}

	pathLower := strings.ToLower(parsed.Path)
	queryLower := strings.ToLower(parsed.RawQuery)
	for _, pattern := range excludedPathPatterns {
		if strings.Contains(pathLower, pattern) || strings.Contains(queryLower, pattern) {
			return false
		}
	}
	return true
}

// SameHost compares hostnames ignoring a leading www.
func SameHost(a, b string) bool {
	return stripWWW(a) == stripWWW(b)
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// SkippableLink reports whether an anchor href is a non-navigational link.
func SkippableLink(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:")
}
