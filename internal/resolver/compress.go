package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// FFmpegCompressor re-encodes video with ffmpeg at a bitrate derived from
// the size ceiling. Work files live in a temp dir that is always removed.
type FFmpegCompressor struct {
	binary     string
	scratchDir string
	runner     ToolRunner
	logger     *slog.Logger
}

type FFmpegConfig struct {
	Binary     string // default "ffmpeg"
	ScratchDir string
	Runner     ToolRunner
	Logger     *slog.Logger
}

func NewFFmpegCompressor(cfg FFmpegConfig) *FFmpegCompressor {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpegCompressor{
		binary:     cfg.Binary,
		scratchDir: cfg.ScratchDir,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
	}
}

// Assumed clip length when sizing the target bitrate. Short-form posts
// rarely exceed it; longer clips come out smaller than needed, not larger.
const assumedClipSeconds = 60

func (f *FFmpegCompressor) Compress(ctx context.Context, data []byte, maxBytes int) ([]byte, error) {
	if f.scratchDir != "" {
		if err := os.MkdirAll(f.scratchDir, 0o755); err != nil {
			return nil, fmt.Errorf("scratch dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(f.scratchDir, "compress-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	// 90% of the ceiling, minus 128 kbit/s for audio.
	totalKbps := maxBytes * 8 / 1000 * 9 / 10 / assumedClipSeconds
	videoKbps := totalKbps - 128
	if videoKbps < 200 {
		videoKbps = 200
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", strconv.Itoa(videoKbps) + "k",
		"-maxrate", strconv.Itoa(videoKbps) + "k",
		"-bufsize", strconv.Itoa(videoKbps*2) + "k",
		"-vf", "scale='min(720,iw)':-2",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}
	f.logger.Debug("compress: running ffmpeg", "in_bytes", len(data), "target_bytes", maxBytes, "video_kbps", videoKbps)
	if _, err := f.runner.Run(ctx, f.binary, args...); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}
