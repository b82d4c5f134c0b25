package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// MirrorProbe rewrites the post URL onto a mirror host that serves the media
// file directly, then checks the mirror actually answers with media.
type MirrorProbe struct {
	name    string
	host    string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type MirrorProbeConfig struct {
	Name    string
	Host    string // e.g. "d.ddinstagram.com"
	Scheme  string // default "https"; tests point this at httptest
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewMirrorProbe(cfg MirrorProbeConfig) *MirrorProbe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	host := cfg.Host
	if cfg.Scheme != "" && !strings.Contains(host, "://") {
		host = cfg.Scheme + "://" + host
	}
	return &MirrorProbe{
		name:    cfg.Name,
		host:    host,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (m *MirrorProbe) Name() string           { return m.name }
func (m *MirrorProbe) Timeout() time.Duration { return m.timeout }

func (m *MirrorProbe) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	target, err := rewriteHost(link.URL, m.host)
	if err != nil {
		return domain.UnresolvedResult(), badResponse("rewrite %q: %v", link.URL, err)
	}

	resp, err := fetchHead(ctx, m.client, target, m.logger)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	defer resp.Body.Close()

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(ct, "video/"):
		return domain.VideoURLResult(final), nil
	case strings.HasPrefix(ct, "image/"):
		return domain.PhotoURLResult(final), nil
	default:
		return domain.UnresolvedResult(), badResponse("mirror answered with content type %q", ct)
	}
}

// confirmsURL marks results whose URL was already fetched by the strategy.
func (m *MirrorProbe) confirmsURL() {}

// rewriteHost keeps path and query of raw and swaps scheme and host for
// those of mirror. mirror may be a bare host or a full origin.
func rewriteHost(raw, mirror string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !strings.Contains(mirror, "://") {
		mirror = "https://" + mirror
	}
	m, err := url.Parse(mirror)
	if err != nil {
		return "", err
	}
	if m.Host == "" {
		return "", fmt.Errorf("mirror %q has no host", mirror)
	}
	u.Scheme = m.Scheme
	u.Host = m.Host
	return u.String(), nil
}
