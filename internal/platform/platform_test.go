package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/resolver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, pageURL string) (string, string, error) {
	return "", "", errors.New("no browser in tests")
}

func testDeps() Deps {
	return Deps{Endpoints: DefaultEndpoints(), Logger: testLogger()}
}

func mustRegistry(t *testing.T, deps Deps, pf PolicyFile) *Registry {
	t.Helper()
	r, err := NewRegistry(deps, pf)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func chainOf(t *testing.T, r *Registry, tag domain.PlatformTag) []string {
	t.Helper()
	p, ok := r.Get(tag)
	if !ok {
		t.Fatalf("platform %s not registered", tag)
	}
	return p.(*Handler).Chain().StrategyNames()
}

// --- Registry ---

func TestNewRegistry_DefaultOrderAndChains(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})

	var tags []string
	for _, p := range r.All() {
		tags = append(tags, string(p.Tag()))
	}
	if strings.Join(tags, ",") != "instagram,tiktok,facebook,twitter" {
		t.Fatalf("unexpected registry order %v", tags)
	}

	// Without a renderer the render strategy is left out.
	got := strings.Join(chainOf(t, r, domain.Instagram), ",")
	if got != "ytdlp-stdout,ytdlp-file,instagram-api,mirror-ddinstagram,html-scrape" {
		t.Fatalf("unexpected instagram chain %s", got)
	}
	if got := strings.Join(chainOf(t, r, domain.TikTok), ","); got != "tikwm,tiktokdownload,ytdlp-stdout" {
		t.Fatalf("unexpected tiktok chain %s", got)
	}
	if got := strings.Join(chainOf(t, r, domain.Twitter), ","); got != "syndication,mirror-fixupx,ytdlp-stdout,ytdlp-file" {
		t.Fatalf("unexpected twitter chain %s", got)
	}
}

func TestNewRegistry_RenderEnabledWithBrowser(t *testing.T) {
	deps := testDeps()
	deps.Renderer = stubRenderer{}
	r := mustRegistry(t, deps, PolicyFile{})

	names := chainOf(t, r, domain.Facebook)
	if names[len(names)-1] != "render" {
		t.Fatalf("expected render last, got %v", names)
	}
}

func TestNewRegistry_ExplicitPolicies(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})
	for _, p := range r.All() {
		if p.Policy().OnUnresolved != domain.ActionNotify {
			t.Fatalf("%s: expected notify on unresolved, got %q", p.Tag(), p.Policy().OnUnresolved)
		}
	}
}

// --- Policy file ---

func TestPolicyFile_Overrides(t *testing.T) {
	pf, err := ParsePolicy([]byte(`
platforms:
  tiktok:
    strategies: [ytdlp-stdout, tikwm]
    timeouts:
      tikwm: 5s
    onUnresolved: silent
    onInvalidLink: delete-notify
  facebook:
    enabled: false
`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	r := mustRegistry(t, testDeps(), pf)

	if _, ok := r.Get(domain.Facebook); ok {
		t.Fatal("facebook should be disabled")
	}
	p, _ := r.Get(domain.TikTok)
	if got := strings.Join(p.(*Handler).Chain().StrategyNames(), ","); got != "ytdlp-stdout,tikwm" {
		t.Fatalf("unexpected chain %s", got)
	}
	if p.Policy().OnUnresolved != domain.ActionSilent || p.Policy().OnInvalidLink != domain.ActionDeleteNotify {
		t.Fatalf("unexpected policy %+v", p.Policy())
	}
}

func TestPolicyFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown platform", "platforms:\n  myspace: {}\n", "unknown platform"},
		{"unknown strategy", "platforms:\n  tiktok:\n    strategies: [magic]\n", `unknown strategy "magic"`},
		{"bad timeout", "platforms:\n  tiktok:\n    timeouts: {tikwm: soon}\n", "invalid timeout"},
		{"bad action", "platforms:\n  tiktok:\n    onUnresolved: shout\n", "unknown action"},
		{"unknown field", "platforms:\n  tiktok:\n    retries: 3\n", "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPolicyFile_DeleteNotifyNotAllowedForUnresolved(t *testing.T) {
	pf, err := ParsePolicy([]byte("platforms:\n  twitter:\n    onUnresolved: delete-notify\n"))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if _, err := NewRegistry(testDeps(), pf); err == nil {
		t.Fatal("expected registry to reject delete-notify for onUnresolved")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	if pf, err := LoadPolicyFile(""); err != nil || len(pf.Platforms) != 0 {
		t.Fatalf("empty path should give empty policy, got %+v %v", pf, err)
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("platforms:\n  instagram:\n    onInvalidLink: silent\n"), 0o600)
	pf, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if pf.Platforms["instagram"].OnInvalidLink != "silent" {
		t.Fatalf("unexpected policy %+v", pf)
	}
}

// --- Select ---

func TestRegistry_SelectEarliestLinkWins(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})

	text := "first https://x.com/jack/status/20 then https://www.instagram.com/reel/Cxyz/"
	p, ok := r.Select(text)
	if !ok || p.Tag() != domain.Twitter {
		t.Fatalf("expected twitter, got %v", p)
	}

	p, ok = r.Select("https://vm.tiktok.com/ZMabc/ and https://x.com/jack/status/20")
	if !ok || p.Tag() != domain.TikTok {
		t.Fatalf("expected tiktok, got %v", p)
	}
}

func TestRegistry_SelectNoMatch(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})
	if _, ok := r.Select("just chatting, see https://example.com"); ok {
		t.Fatal("expected no platform")
	}
}

func TestRegistry_SelectTieGoesToRegistryOrder(t *testing.T) {
	a := &fixedPlatform{tag: domain.Instagram, idx: 3}
	b := &fixedPlatform{tag: domain.TikTok, idx: 3}
	r := NewStaticRegistry(a, b)
	p, _ := r.Select("anything")
	if p.Tag() != domain.Instagram {
		t.Fatalf("expected registry order to break ties, got %s", p.Tag())
	}
}

type fixedPlatform struct {
	domain.Platform
	tag domain.PlatformTag
	idx int
}

func (f *fixedPlatform) Tag() domain.PlatformTag { return f.tag }
func (f *fixedPlatform) Match(string) bool       { return f.idx >= 0 }
func (f *fixedPlatform) Index(string) int        { return f.idx }

// --- Extract & notices ---

func TestHandler_ExtractInvalidInstagram(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})
	p, _ := r.Get(domain.Instagram)

	text := "look https://www.instagram.com/p/"
	if !p.Match(text) {
		t.Fatal("expected match")
	}
	if _, err := p.Extract(text); !errors.Is(err, domain.ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}

	l, err := p.Extract("look https://www.instagram.com/reel/Cxyz/?igsh=abc!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.ID != "Cxyz" || l.URL != "https://www.instagram.com/reel/Cxyz/?igsh=abc" {
		t.Fatalf("unexpected link %+v", l)
	}
}

func TestHandler_TikTokShortLinkValid(t *testing.T) {
	r := mustRegistry(t, testDeps(), PolicyFile{})
	p, _ := r.Get(domain.TikTok)
	if _, err := p.Extract("https://www.tiktok.com/@someone"); err != nil {
		t.Fatalf("tiktok links without id should be accepted, got %v", err)
	}
}

func TestNotices(t *testing.T) {
	ig := domain.PlatformLink{Platform: domain.Instagram, URL: "https://www.instagram.com/p/abc/", ID: "abc"}
	n := instagramNotice(ig)
	for _, want := range []string{
		"https://saveinsta.app/instagram-video-downloader/abc",
		"https://www.y2mate.com/instagram/abc",
		"https://sssinstagram.com/",
		"Original link: https://www.instagram.com/p/abc/",
	} {
		if !strings.Contains(n, want) {
			t.Fatalf("instagram notice missing %q:\n%s", want, n)
		}
	}

	r := mustRegistry(t, testDeps(), PolicyFile{})
	p, _ := r.Get(domain.Facebook)
	n = p.Notice(domain.PlatformLink{URL: "https://fb.watch/xyz/"})
	if !strings.HasPrefix(n, "Failed to automatically download the video.") || !strings.HasSuffix(n, "Original link: https://fb.watch/xyz/") {
		t.Fatalf("unexpected facebook notice:\n%s", n)
	}
}

// --- End to end through the real chain ---

const tikwmBody = `{"code":0,"data":{"play":"%s"}}`

// mediaServer answers the hosted API at "/" with body, its %s filled with
// mediaPath on the same server. "/t.mp4" is served as a video, any other
// path is 404.
func mediaServer(t *testing.T, body, mediaPath string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "":
			fmt.Fprintf(w, body, srv.URL+mediaPath)
		case "/t.mp4":
			w.Header().Set("Content-Type", "video/mp4")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_ResolveUsesEndpoints(t *testing.T) {
	srv := mediaServer(t, tikwmBody, "/t.mp4")

	deps := testDeps()
	deps.Endpoints.Tikwm = srv.URL
	pf := PolicyFile{Platforms: map[string]PlatformOverride{"tiktok": {Strategies: []string{"tikwm"}}}}
	r := mustRegistry(t, deps, pf)
	p, _ := r.Get(domain.TikTok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Resolve(ctx, domain.PlatformLink{Platform: domain.TikTok, URL: "https://vm.tiktok.com/ZMabc/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URL != srv.URL+"/t.mp4" || res.Strategy != "tikwm" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandler_UnreachableMediaFallsThrough(t *testing.T) {
	dead := mediaServer(t, tikwmBody, "/gone.mp4")
	live := mediaServer(t, `{"success":true,"video_url":"%s"}`, "/t.mp4")

	deps := testDeps()
	deps.Endpoints.Tikwm = dead.URL
	deps.Endpoints.TikTokDownload = live.URL
	pf := PolicyFile{Platforms: map[string]PlatformOverride{"tiktok": {Strategies: []string{"tikwm", "tiktokdownload"}}}}
	r := mustRegistry(t, deps, pf)
	p, _ := r.Get(domain.TikTok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Resolve(ctx, domain.PlatformLink{Platform: domain.TikTok, URL: "https://vm.tiktok.com/ZMabc/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "tiktokdownload" || res.URL != live.URL+"/t.mp4" {
		t.Fatalf("a 404 media URL must not be accepted, got %+v", res)
	}
}

func TestHandler_ResolveExhaustion(t *testing.T) {
	deps := testDeps()
	deps.YTDLP = resolver.YTDLPConfig{Runner: failingRunner{}}
	pf := PolicyFile{Platforms: map[string]PlatformOverride{"facebook": {Strategies: []string{"ytdlp-stdout"}}}}
	r := mustRegistry(t, deps, pf)
	p, _ := r.Get(domain.Facebook)

	res, err := p.Resolve(context.Background(), domain.PlatformLink{Platform: domain.Facebook, URL: "https://fb.watch/x/"})
	if !errors.Is(err, resolver.ErrAllStrategiesFailed) || res.Kind != domain.Unresolved {
		t.Fatalf("expected exhaustion, got %+v %v", res, err)
	}
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, errors.New("no yt-dlp here")
}

// --- Chain budgets ---

func TestRegistry_OverBudget(t *testing.T) {
	deps := testDeps()
	deps.YTDLP = resolver.YTDLPConfig{Runner: failingRunner{}, Timeout: 90 * time.Second}
	r := mustRegistry(t, deps, PolicyFile{})

	over := r.OverBudget(120 * time.Second)
	if len(over) == 0 || !strings.HasPrefix(over[0], "instagram") {
		t.Fatalf("two 90s yt-dlp runs cannot fit in 120s, got %v", over)
	}

	deps.YTDLP.Timeout = 30 * time.Second
	r = mustRegistry(t, deps, PolicyFile{})
	if over := r.OverBudget(180 * time.Second); len(over) != 0 {
		t.Fatalf("30s yt-dlp chains should fit in 180s, got %v", over)
	}
}
