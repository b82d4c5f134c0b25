package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxOutputBytes = 64 << 20
	defaultWaitDelay      = 5 * time.Second
	stderrTailBytes       = 2048
)

var (
	// ErrNotInstalled means the executable is not on PATH.
	ErrNotInstalled = errors.New("tool not installed")
	// ErrTimeout means the context expired before the process exited.
	ErrTimeout = errors.New("tool timed out")
	// ErrOutputLimit means stdout grew past the configured limit.
	ErrOutputLimit = errors.New("tool output exceeded limit")
)

// ExitError is returned when the process exits with a non-zero status.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
}

// Runner executes external tools (yt-dlp, ffmpeg) without a shell, with a
// bounded stdout and the caller's deadline.
type Runner struct {
	maxOutputBytes int
	logger         *slog.Logger
}

type RunnerConfig struct {
	MaxOutputBytes int
	Logger         *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         cfg.Logger,
	}
}

// Available resolves the executable path.
func (r *Runner) Available(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	return path, nil
}

// Run executes name with args and returns its stdout. The process is killed
// when ctx is done or when stdout exceeds the limit.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := r.Available(name); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stdout := &limitedBuffer{limit: r.maxOutputBytes, onOverflow: cancel}
	stderr := &limitedBuffer{limit: stderrTailBytes, keepTail: true}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = defaultWaitDelay

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("tool finished",
		"tool", name,
		"duration", time.Since(start),
		"stdout_bytes", stdout.Len(),
		"err", err,
	)

	if stdout.Overflowed() {
		return nil, fmt.Errorf("%s: %w (%d bytes)", name, ErrOutputLimit, r.maxOutputBytes)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w: %v", name, ErrTimeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{
				Tool:   name,
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// limitedBuffer stops collecting past limit. With keepTail it keeps the most
// recent bytes instead, which is what matters for stderr diagnostics.
type limitedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	keepTail   bool
	overflow   bool
	onOverflow func()
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.keepTail {
		b.buf.Write(p)
		if extra := b.buf.Len() - b.limit; extra > 0 {
			b.buf.Next(extra)
		}
		return len(p), nil
	}

	if b.overflow {
		return len(p), nil
	}
	if b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		b.buf.Reset()
		if b.onOverflow != nil {
			b.onOverflow()
		}
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *limitedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
