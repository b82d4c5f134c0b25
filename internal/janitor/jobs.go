package janitor

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ScratchSweep removes entries in the scratch dir older than MaxAge. The
// compressor and yt-dlp strategies clean up after themselves; this catches
// whatever a crash left behind.
type ScratchSweep struct {
	Dir    string
	MaxAge time.Duration
	Cron   string
	Logger *slog.Logger
}

func (s *ScratchSweep) Name() string { return "scratch-sweep" }

func (s *ScratchSweep) Schedule() string {
	if s.Cron == "" {
		return "*/15 * * * *"
	}
	return s.Cron
}

func (s *ScratchSweep) Run(ctx context.Context) error {
	if s.Dir == "" {
		return nil
	}
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Dir, e.Name())); err != nil {
			logger.Warn("janitor: failed to remove scratch entry", "name", e.Name(), "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("janitor: swept scratch dir", "dir", s.Dir, "removed", removed)
	}
	return nil
}

// Pruner deletes journal rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type JournalPrune struct {
	Journal   Pruner
	Retention time.Duration
	Cron      string
	Logger    *slog.Logger
}

func (p *JournalPrune) Name() string { return "journal-prune" }

func (p *JournalPrune) Schedule() string {
	if p.Cron == "" {
		return "17 3 * * *"
	}
	return p.Cron
}

func (p *JournalPrune) Run(ctx context.Context) error {
	retention := p.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	n, err := p.Journal.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if n > 0 && p.Logger != nil {
		p.Logger.Info("janitor: pruned journal", "rows", n)
	}
	return nil
}

// LimiterPrune drops idle per-chat rate limiters.
type LimiterPrune struct {
	Prune func() int
	Cron  string
}

func (l *LimiterPrune) Name() string { return "limiter-prune" }

func (l *LimiterPrune) Schedule() string {
	if l.Cron == "" {
		return "*/10 * * * *"
	}
	return l.Cron
}

func (l *LimiterPrune) Run(context.Context) error {
	l.Prune()
	return nil
}
