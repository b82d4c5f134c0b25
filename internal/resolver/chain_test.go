package resolver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/tool"
)

// mockStrategy implements domain.Strategy for testing.
type mockStrategy struct {
	name    string
	res     domain.Result
	err     error
	panics  bool
	delay   time.Duration
	timeout time.Duration
	calls   int
}

func (m *mockStrategy) Name() string           { return m.name }
func (m *mockStrategy) Timeout() time.Duration { return m.timeout }

func (m *mockStrategy) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	m.calls++
	if m.panics {
		panic("strategy blew up")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return domain.UnresolvedResult(), ctx.Err()
		}
	}
	return m.res, m.err
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveAttempt(platform, strategy, result string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, strategy+"="+result)
}

type fakeCompressor struct {
	out []byte
	err error
}

func (f *fakeCompressor) Compress(ctx context.Context, data []byte, maxBytes int) ([]byte, error) {
	return f.out, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testLink = domain.PlatformLink{Platform: domain.TikTok, URL: "https://vm.tiktok.com/ZMabc/", ID: "ZMabc"}

// --- Ordering ---

func TestChain_FirstSuccessWins(t *testing.T) {
	s1 := &mockStrategy{name: "one", res: domain.VideoURLResult("https://cdn/one.mp4")}
	s2 := &mockStrategy{name: "two", res: domain.VideoURLResult("https://cdn/two.mp4")}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2}, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URL != "https://cdn/one.mp4" || res.Strategy != "one" {
		t.Fatalf("expected result from 'one', got %+v", res)
	}
	if s2.calls != 0 {
		t.Fatalf("later strategy must not run after success, ran %d times", s2.calls)
	}
}

func TestChain_SecondWinsThirdNeverRuns(t *testing.T) {
	s1 := &mockStrategy{name: "one", err: badStatus(500)}
	s2 := &mockStrategy{name: "two", res: domain.VideoURLResult("https://cdn/two.mp4")}
	s3 := &mockStrategy{name: "three", res: domain.VideoURLResult("https://cdn/three.mp4")}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2, s3}, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "two" || res.URL != "https://cdn/two.mp4" {
		t.Fatalf("expected result from 'two', got %+v", res)
	}
	if s1.calls != 1 || s2.calls != 1 || s3.calls != 0 {
		t.Fatalf("expected calls 1,1,0, got %d,%d,%d", s1.calls, s2.calls, s3.calls)
	}
}

func TestChain_FallsThroughInOrder(t *testing.T) {
	s1 := &mockStrategy{name: "one", err: badStatus(403)}
	s2 := &mockStrategy{name: "two", res: domain.UnresolvedResult()}
	s3 := &mockStrategy{name: "three", res: domain.PhotoURLResult("https://cdn/p.jpg")}
	obs := &recordingObserver{}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2, s3}, Logger: testLogger(), Observer: obs})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != domain.PhotoURL || res.Strategy != "three" {
		t.Fatalf("expected photo from 'three', got %+v", res)
	}
	want := []string{"one=bad_status", "two=empty", "three=ok"}
	if len(obs.results) != len(want) {
		t.Fatalf("expected %v, got %v", want, obs.results)
	}
	for i := range want {
		if obs.results[i] != want[i] {
			t.Fatalf("attempt %d: expected %q, got %q", i, want[i], obs.results[i])
		}
	}
}

func TestChain_AllFail(t *testing.T) {
	s1 := &mockStrategy{name: "one", err: errors.New("boom")}
	s2 := &mockStrategy{name: "two", err: &tool.ExitError{Tool: "yt-dlp", Code: 1}}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2}, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if !errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("expected ErrAllStrategiesFailed, got %v", err)
	}
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("expected last error to be tool_failed, got %v", err)
	}
	if res.Kind != domain.Unresolved {
		t.Fatalf("expected unresolved, got %v", res.Kind)
	}
}

func TestChain_NoStrategies(t *testing.T) {
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.Facebook, Logger: testLogger()})
	if _, err := c.Resolve(context.Background(), testLink); !errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("expected ErrAllStrategiesFailed, got %v", err)
	}
}

// --- Failure containment ---

func TestChain_PanicIsContained(t *testing.T) {
	s1 := &mockStrategy{name: "panicky", panics: true}
	s2 := &mockStrategy{name: "steady", res: domain.VideoURLResult("https://cdn/v.mp4")}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2}, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "steady" {
		t.Fatalf("expected fallback to 'steady', got %q", res.Strategy)
	}
}

func TestChain_PerStrategyTimeout(t *testing.T) {
	slow := &mockStrategy{name: "slow", delay: time.Second, timeout: 20 * time.Millisecond}
	fast := &mockStrategy{name: "fast", res: domain.VideoURLResult("https://cdn/v.mp4")}
	obs := &recordingObserver{}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{slow, fast}, Logger: testLogger(), Observer: obs})

	start := time.Now()
	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "fast" {
		t.Fatalf("expected 'fast', got %q", res.Strategy)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("slow strategy was not cut off by its timeout")
	}
	if obs.results[0] != "slow=timeout" {
		t.Fatalf("expected slow=timeout, got %q", obs.results[0])
	}
}

func TestChain_CancelledContextStops(t *testing.T) {
	s1 := &mockStrategy{name: "one", res: domain.VideoURLResult("https://cdn/v.mp4")}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1}, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Resolve(ctx, testLink)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrResolutionCancelled) {
		t.Fatalf("expected a cancelled resolution, got %v", err)
	}
	if errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("cancellation must not read as exhaustion: %v", err)
	}
	if s1.calls != 0 {
		t.Fatalf("strategy must not run on a cancelled context")
	}
}

func TestChain_CancelMidAttemptSkipsRest(t *testing.T) {
	s1 := &mockStrategy{name: "one", delay: 5 * time.Second}
	s2 := &mockStrategy{name: "two", delay: 5 * time.Second}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2}, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := c.Resolve(ctx, testLink)
	if !errors.Is(err, ErrResolutionCancelled) {
		t.Fatalf("expected ErrResolutionCancelled, got %v", err)
	}
	if s1.calls != 1 || s2.calls != 0 {
		t.Fatalf("expected only the first strategy to start, got %d and %d", s1.calls, s2.calls)
	}
}

func TestChain_LastAttemptCancelledIsNotExhaustion(t *testing.T) {
	s1 := &mockStrategy{name: "only", delay: 5 * time.Second}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{s1}, Logger: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Resolve(ctx, testLink)
	if !errors.Is(err, ErrResolutionCancelled) || errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("expected ErrResolutionCancelled only, got %v", err)
	}
}

// --- Reachability ---

// mediaHost serves "/ok.mp4" as video and 404s everything else. HEAD is
// refused with 405 when headRefused is set, leaving the ranged GET.
func mediaHost(t *testing.T, headRefused bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if headRefused && r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/ok.mp4" && r.URL.Path != "/ZMabc/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		if r.Method == http.MethodGet {
			if r.Header.Get("Range") != "bytes=0-0" {
				t.Errorf("GET fallback without a one byte range: %q", r.Header.Get("Range"))
			}
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte{0})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChain_UnreachableURLFallsThrough(t *testing.T) {
	srv := mediaHost(t, false, nil)
	s1 := &mockStrategy{name: "one", res: domain.VideoURLResult(srv.URL + "/gone.mp4")}
	s2 := &mockStrategy{name: "two", res: domain.VideoURLResult(srv.URL + "/ok.mp4")}
	obs := &recordingObserver{}
	c := NewChain(ChainConfig{Platform: domain.TikTok, Strategies: []domain.Strategy{s1, s2}, Logger: testLogger(), Observer: obs})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "two" || res.URL != srv.URL+"/ok.mp4" {
		t.Fatalf("expected the reachable URL from 'two', got %+v", res)
	}
	if len(obs.results) != 2 || obs.results[0] != "one=bad_status" {
		t.Fatalf("expected one=bad_status first, got %v", obs.results)
	}
}

func TestChain_UnreachablePhotoExhausts(t *testing.T) {
	srv := mediaHost(t, false, nil)
	s1 := &mockStrategy{name: "one", res: domain.PhotoURLResult(srv.URL + "/gone.jpg")}
	c := NewChain(ChainConfig{Platform: domain.TikTok, Strategies: []domain.Strategy{s1}, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if !errors.Is(err, ErrAllStrategiesFailed) || !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected exhaustion on bad status, got %v", err)
	}
	if res.Kind != domain.Unresolved {
		t.Fatalf("expected unresolved, got %v", res.Kind)
	}
}

func TestChain_HeadRefusedUsesRangedGet(t *testing.T) {
	srv := mediaHost(t, true, nil)
	s1 := &mockStrategy{name: "one", res: domain.VideoURLResult(srv.URL + "/ok.mp4")}
	c := NewChain(ChainConfig{Platform: domain.TikTok, Strategies: []domain.Strategy{s1}, Logger: testLogger()})

	if _, err := c.Resolve(context.Background(), testLink); err != nil {
		t.Fatalf("a 206 answer to the ranged GET is reachable, got %v", err)
	}
}

func TestChain_MirrorResultNotCheckedTwice(t *testing.T) {
	var hits atomic.Int32
	srv := mediaHost(t, false, &hits)
	m := NewMirrorProbe(MirrorProbeConfig{Name: "mirror", Host: srv.URL, Logger: testLogger()})
	c := NewChain(ChainConfig{Platform: domain.TikTok, Strategies: []domain.Strategy{m}, Logger: testLogger()})

	if _, err := c.Resolve(context.Background(), testLink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected one request to the mirror, got %d", n)
	}
}

func TestChain_BytesResultsSkipCheck(t *testing.T) {
	s1 := &mockStrategy{name: "one", res: domain.VideoBytesResult([]byte("v"), "v.mp4")}
	c := NewChain(ChainConfig{Platform: domain.TikTok, Strategies: []domain.Strategy{s1}, Checker: failingChecker{}, Logger: testLogger()})
	if _, err := c.Resolve(context.Background(), testLink); err != nil {
		t.Fatalf("in-memory results need no URL check, got %v", err)
	}
}

type failingChecker struct{}

func (failingChecker) Check(context.Context, string) error { return badStatus(404) }

// --- Size ceiling ---

func TestChain_OversizeWithoutCompressorFails(t *testing.T) {
	big := &mockStrategy{name: "big", res: domain.VideoBytesResult(bytes.Repeat([]byte{1}, 100), "v.mp4")}
	url := &mockStrategy{name: "url", res: domain.VideoURLResult("https://cdn/v.mp4")}
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.Instagram, Strategies: []domain.Strategy{big, url}, MaxUploadBytes: 50, Logger: testLogger()})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Strategy != "url" {
		t.Fatalf("expected oversize result to be skipped, got %q", res.Strategy)
	}
}

func TestChain_OversizeCompressed(t *testing.T) {
	big := &mockStrategy{name: "big", res: domain.VideoBytesResult(bytes.Repeat([]byte{1}, 100), "v.mp4")}
	c := NewChain(ChainConfig{
		Platform:       domain.Instagram,
		Strategies:     []domain.Strategy{big},
		Compressor:     &fakeCompressor{out: []byte("small")},
		MaxUploadBytes: 50,
		Logger:         testLogger(),
	})

	res, err := c.Resolve(context.Background(), testLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Bytes) != "small" || res.Filename != "v.mp4" {
		t.Fatalf("expected compressed bytes, got %+v", res)
	}
}

func TestChain_CompressedStillTooLarge(t *testing.T) {
	big := &mockStrategy{name: "big", res: domain.VideoBytesResult(bytes.Repeat([]byte{1}, 100), "v.mp4")}
	c := NewChain(ChainConfig{
		Platform:       domain.Instagram,
		Strategies:     []domain.Strategy{big},
		Compressor:     &fakeCompressor{out: bytes.Repeat([]byte{1}, 60)},
		MaxUploadBytes: 50,
		Logger:         testLogger(),
	})

	_, err := c.Resolve(context.Background(), testLink)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestChain_Name(t *testing.T) {
	c := NewChain(ChainConfig{Checker: AcceptAll(), Platform: domain.TikTok, Strategies: []domain.Strategy{
		&mockStrategy{name: "tikwm"}, &mockStrategy{name: "tiktokdownload"},
	}})
	if got := c.Name(); got != "tiktok(tikwm→tiktokdownload)" {
		t.Fatalf("unexpected name %q", got)
	}
}
