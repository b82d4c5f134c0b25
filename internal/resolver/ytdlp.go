package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"relaybot/internal/domain"
)

// ToolRunner runs an external executable and returns its stdout.
type ToolRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

const defaultMaxFileBytes = 200 << 20

// YTDLPConfig is shared by the yt-dlp strategies.
type YTDLPConfig struct {
	Binary       string // default "yt-dlp"
	CookiesFile  string
	ScratchDir   string // parent of per-attempt temp dirs, default os.TempDir()
	MaxFileBytes int64
	Timeout      time.Duration
	Runner       ToolRunner
}

func (c *YTDLPConfig) setDefaults() {
	if c.Binary == "" {
		c.Binary = "yt-dlp"
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = defaultMaxFileBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultStrategyTimeout
	}
}

func (c YTDLPConfig) baseArgs() []string {
	args := []string{"--format", "best", "--no-playlist", "--no-progress", "--quiet"}
	if c.CookiesFile != "" {
		args = append(args, "--cookies", c.CookiesFile)
	}
	return args
}

// YTDLPStdout streams the download to stdout and keeps it in memory.
type YTDLPStdout struct {
	cfg YTDLPConfig
}

func NewYTDLPStdout(cfg YTDLPConfig) *YTDLPStdout {
	cfg.setDefaults()
	return &YTDLPStdout{cfg: cfg}
}

func (y *YTDLPStdout) Name() string           { return "ytdlp-stdout" }
func (y *YTDLPStdout) Timeout() time.Duration { return y.cfg.Timeout }

func (y *YTDLPStdout) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	args := append([]string{"-o", "-"}, y.cfg.baseArgs()...)
	args = append(args, link.URL)

	out, err := y.cfg.Runner.Run(ctx, y.cfg.Binary, args...)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	if len(out) == 0 {
		return domain.UnresolvedResult(), emptyResult("yt-dlp wrote nothing to stdout")
	}
	return domain.VideoBytesResult(out, mediaFilename(link)), nil
}

// YTDLPFile downloads into a per-attempt temp dir that is always removed.
type YTDLPFile struct {
	cfg YTDLPConfig
}

func NewYTDLPFile(cfg YTDLPConfig) *YTDLPFile {
	cfg.setDefaults()
	return &YTDLPFile{cfg: cfg}
}

func (y *YTDLPFile) Name() string           { return "ytdlp-file" }
func (y *YTDLPFile) Timeout() time.Duration { return y.cfg.Timeout }

func (y *YTDLPFile) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	if y.cfg.ScratchDir != "" {
		if err := os.MkdirAll(y.cfg.ScratchDir, 0o755); err != nil {
			return domain.UnresolvedResult(), fmt.Errorf("scratch dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(y.cfg.ScratchDir, "ytdlp-*")
	if err != nil {
		return domain.UnresolvedResult(), fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := mediaFilename(link)
	outPath := filepath.Join(dir, name)

	args := append([]string{"-o", outPath, "--max-filesize", strconv.FormatInt(y.cfg.MaxFileBytes, 10)}, y.cfg.baseArgs()...)
	args = append(args, link.URL)
	if _, err := y.cfg.Runner.Run(ctx, y.cfg.Binary, args...); err != nil {
		return domain.UnresolvedResult(), err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return domain.UnresolvedResult(), emptyResult("yt-dlp produced no file")
	}
	if info.Size() == 0 {
		return domain.UnresolvedResult(), emptyResult("yt-dlp produced an empty file")
	}
	if info.Size() > y.cfg.MaxFileBytes {
		return domain.UnresolvedResult(), fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return domain.UnresolvedResult(), fmt.Errorf("read download: %w", err)
	}
	return domain.VideoBytesResult(data, name), nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// mediaFilename derives an upload file name from the post id.
func mediaFilename(link domain.PlatformLink) string {
	base := unsafeFilenameChars.ReplaceAllString(link.ID, "")
	if base == "" {
		base = string(link.Platform) + "_video"
	}
	return base + ".mp4"
}
