package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Bridge drives a local Chrome through chromedp. The profile directory keeps
// cookies between runs so pages behind a login wall can be rendered.
type Bridge struct {
	profileDir string
	headless   bool
	settle     time.Duration
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string        // Chrome user data directory (persists cookies/sessions)
	Headless   bool          // Run headless (true) or with visible UI (false)
	Settle     time.Duration // wait after load for client-side rendering, default 2s
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = DefaultProfileDir()
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		settle:     cfg.Settle,
		logger:     cfg.Logger,
	}
}

// DefaultProfileDir is ~/.relaybot/chrome-profile.
func DefaultProfileDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relaybot", "chrome-profile")
}

func (b *Bridge) ProfileDir() string { return b.profileDir }

func (b *Bridge) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(userAgent),
	)
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewContext creates a new chromedp context with the bridge's Chrome profile.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, b.allocatorOptions(b.headless)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	return taskCtx, cancelAll
}

// Login opens a visible browser for the user to log in manually.
// After login, cookies are saved in the profile directory.
func (b *Bridge) Login(ctx context.Context, url string) error {
	b.logger.Info("opening browser for login", "url", url)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(false)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened. Please log in manually. Press Ctrl+C when done.")

	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}

// mediaProbe returns [videoURL, imageURL] from the rendered DOM.
const mediaProbe = `
(function() {
	function meta(names) {
		for (var i = 0; i < names.length; i++) {
			var el = document.querySelector('meta[property="' + names[i] + '"], meta[name="' + names[i] + '"]');
			if (el && el.content) return el.content;
		}
		return '';
	}
	var video = '';
	var v = document.querySelector('video');
	if (v) {
		video = v.currentSrc || v.src || '';
		if (!video) {
			var s = v.querySelector('source[src]');
			if (s) video = s.src;
		}
	}
	if (!video || video.indexOf('blob:') === 0) {
		var og = meta(['og:video:secure_url', 'og:video:url', 'og:video']);
		if (og) video = og;
	}
	return [video, meta(['og:image'])];
})()
`

// Render loads pageURL in a fresh tab and reports the video and image URLs
// it found after the page settled.
func (b *Bridge) Render(ctx context.Context, pageURL string) (videoURL, imageURL string, err error) {
	taskCtx, cancel := b.NewContext(ctx)
	defer cancel()

	var found []string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(b.settle),
		chromedp.Evaluate(mediaProbe, &found),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	if len(found) != 2 {
		return "", "", fmt.Errorf("render %s: unexpected probe result %v", pageURL, found)
	}

	b.logger.Debug("browser: rendered page", "url", pageURL, "video", found[0] != "", "image", found[1] != "")
	return found[0], found[1], nil
}
