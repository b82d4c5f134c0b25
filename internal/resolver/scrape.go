package resolver

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const maxPageBytes = 8 << 20

var (
	embeddedVideoURL   = regexp.MustCompile(`"video_url"\s*:\s*"([^"]+)"`)
	embeddedDisplayURL = regexp.MustCompile(`"display_url"\s*:\s*"([^"]+)"`)
	ogVideo            = regexp.MustCompile(`(?i)<meta[^>]+(?:property|name)=["']og:video(?::secure_url|:url)?["'][^>]*content=["']([^"']+)["']`)
	ogVideoReversed    = regexp.MustCompile(`(?i)<meta[^>]+content=["']([^"']+)["'][^>]*(?:property|name)=["']og:video(?::secure_url|:url)?["']`)
	ogImage            = regexp.MustCompile(`(?i)<meta[^>]+(?:property|name)=["']og:image["'][^>]*content=["']([^"']+)["']`)
	ogImageReversed    = regexp.MustCompile(`(?i)<meta[^>]+content=["']([^"']+)["'][^>]*(?:property|name)=["']og:image["']`)
)

// HTMLScrape fetches the public post page and pulls the media URL out of the
// embedded JSON or the Open Graph tags.
type HTMLScrape struct {
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type HTMLScrapeConfig struct {
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewHTMLScrape(cfg HTMLScrapeConfig) *HTMLScrape {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTMLScrape{timeout: cfg.Timeout, client: cfg.Client, logger: cfg.Logger}
}

func (h *HTMLScrape) Name() string           { return "html-scrape" }
func (h *HTMLScrape) Timeout() time.Duration { return h.timeout }

func (h *HTMLScrape) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	resp, err := doWithRetry(ctx, h.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", BrowserUserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return req, nil
	}, h.logger)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.UnresolvedResult(), badStatus(resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return domain.UnresolvedResult(), fmt.Errorf("read page: %w", err)
	}
	return ScrapePage(string(page))
}

// ScrapePage extracts media from page markup. Video wins over image.
func ScrapePage(page string) (domain.Result, error) {
	if u := firstMatch(page, embeddedVideoURL); u != "" {
		return domain.VideoURLResult(unescapeEmbedded(u)), nil
	}
	if u := firstMatch(page, ogVideo, ogVideoReversed); u != "" {
		return domain.VideoURLResult(html.UnescapeString(u)), nil
	}
	if u := firstMatch(page, embeddedDisplayURL); u != "" {
		return domain.PhotoURLResult(unescapeEmbedded(u)), nil
	}
	if u := firstMatch(page, ogImage, ogImageReversed); u != "" {
		return domain.PhotoURLResult(html.UnescapeString(u)), nil
	}
	return domain.UnresolvedResult(), emptyResult("no media found in page")
}

func firstMatch(s string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// unescapeEmbedded undoes the escaping used inside JSON blobs in page
// scripts: \u0026 and \/ plus any HTML entities.
func unescapeEmbedded(s string) string {
	s = strings.NewReplacer(`\u0026`, "&", `\/`, "/", `\u003d`, "=", `\u0025`, "%").Replace(s)
	return html.UnescapeString(s)
}
