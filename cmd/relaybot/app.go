package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/browser"
	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/janitor"
	"relaybot/internal/journal"
	"relaybot/internal/logging"
	"relaybot/internal/metrics"
	"relaybot/internal/platform"
	"relaybot/internal/relay"
	"relaybot/internal/resolver"
	"relaybot/internal/server"
	"relaybot/internal/status"
	"relaybot/internal/tool"
	"relaybot/internal/tracing"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with the configured one.
func setupLogger(cfg *config.Config) (func() error, error) {
	l, closeFn, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	logger = l
	slog.SetDefault(l)
	return closeFn, nil
}

// buildRegistry wires the resolver stack and the platform table from config.
func buildRegistry(cfg *config.Config, observer resolver.AttemptObserver) (*platform.Registry, error) {
	runner := tool.NewRunner(tool.RunnerConfig{Logger: logger})

	if err := os.MkdirAll(cfg.Tools.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	var compressor resolver.Compressor
	if cfg.Tools.Compress {
		compressor = resolver.NewFFmpegCompressor(resolver.FFmpegConfig{
			Binary:     cfg.Tools.FFmpeg,
			ScratchDir: cfg.Tools.ScratchDir,
			Runner:     runner,
			Logger:     logger,
		})
	}

	var renderer resolver.Renderer
	if cfg.Browser.Enabled {
		renderer = browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.Browser.ProfileDir,
			Headless:   cfg.Browser.Headless,
			Logger:     logger,
		})
	}

	pf, err := platform.LoadPolicyFile(cfg.Platforms.PolicyFile)
	if err != nil {
		return nil, err
	}

	return platform.NewRegistry(platform.Deps{
		YTDLP: resolver.YTDLPConfig{
			Binary:       cfg.Tools.YTDLP,
			CookiesFile:  cfg.Tools.CookiesFile,
			ScratchDir:   cfg.Tools.ScratchDir,
			MaxFileBytes: int64(cfg.Tools.MaxUploadBytes()) * 4,
			Timeout:      cfg.Tools.YTDLPTimeoutDuration(),
			Runner:       runner,
		},
		HTTPClient:     resolver.SharedHTTPClient(30 * time.Second),
		Renderer:       renderer,
		Compressor:     compressor,
		MaxUploadBytes: cfg.Tools.MaxUploadBytes(),
		Endpoints: platform.Endpoints{
			InstagramAPI:   cfg.Endpoints.InstagramAPI,
			Tikwm:          cfg.Endpoints.Tikwm,
			TikTokDownload: cfg.Endpoints.TikTokDownload,
			Syndication:    cfg.Endpoints.Syndication,
			DDInstagram:    cfg.Endpoints.DDInstagram,
			FixupX:         cfg.Endpoints.FixupX,
		},
		Observer:        observer,
		Logger:          logger,
		DispatchTimeout: cfg.Relay.DispatchTimeoutDuration(),
	}, pf)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay bot",
		Long:  "Connects to Telegram and replaces supported social links with their media. Press Ctrl+C to stop.",
		RunE:  runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	collector := metrics.NewCollector()

	registry, err := buildRegistry(cfg, collector)
	if err != nil {
		return err
	}
	for _, p := range registry.All() {
		if h, ok := p.(*platform.Handler); ok {
			logger.Info("platform enabled", "platform", p.Tag(), "strategies", h.Chain().StrategyNames())
		}
	}

	var recorder domain.Recorder = domain.NopRecorder{}
	var jr *journal.SQLiteJournal
	if cfg.Journal.Enabled {
		jr, err = journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return err
		}
		defer jr.Close()
		recorder = jr
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		AllowFrom:   cfg.Telegram.AllowFrom.Int64s(),
		PollTimeout: cfg.Telegram.PollTimeout,
		SendTimeout: cfg.Relay.SendTimeoutDuration(),
		Debug:       cfg.Telegram.Debug,
		Logger:      logger,
	})
	if _, err := tg.Connect(); err != nil {
		return err
	}

	msgBus := bus.New(cfg.Relay.QueueSize, logger)
	defer msgBus.Close()

	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		Platforms: registry,
		Annotator: status.NewAnnotator(status.AnnotatorConfig{
			Store:     status.NewMemoryStreakStore(),
			Threshold: cfg.Relay.SpammerThreshold,
		}),
		Sender:          tg,
		Recorder:        recorder,
		Observer:        collector,
		DispatchTimeout: cfg.Relay.DispatchTimeoutDuration(),
		SendTimeout:     cfg.Relay.SendTimeoutDuration(),
		RateBurst:       cfg.Relay.RateBurst,
		RatePerMinute:   cfg.Relay.RatePerMinute,
		Logger:          logger,
	})
	worker := relay.NewWorker(relay.WorkerConfig{
		Bus:         msgBus,
		Router:      dispatcher,
		Concurrency: cfg.Relay.Concurrency,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tg.Start(gctx, msgBus) })
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		scfg := server.ServerConfig{
			Addr:    cfg.Metrics.Addr,
			Metrics: collector.Handler(),
			Pending: msgBus.Pending,
			Logger:  logger,
		}
		if jr != nil {
			scfg.Journal = jr
		}
		srv := server.New(scfg)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Janitor.Enabled {
		j, err := buildJanitor(cfg, jr, dispatcher)
		if err != nil {
			return err
		}
		g.Go(func() error { return j.Run(gctx) })
	}

	logger.Info("relaybot started", "version", version, "concurrency", cfg.Relay.Concurrency)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", shutdownTimeout)
		select {
		case err = <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out with dispatches in flight")
			err = nil
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("relaybot stopped")
	return nil
}

func buildJanitor(cfg *config.Config, jr *journal.SQLiteJournal, dispatcher *relay.Dispatcher) (*janitor.Janitor, error) {
	j := janitor.New(logger)
	jobs := []janitor.Job{
		&janitor.ScratchSweep{
			Dir:    cfg.Tools.ScratchDir,
			MaxAge: time.Duration(cfg.Janitor.ScratchMaxAgeMin) * time.Minute,
			Cron:   cfg.Janitor.SweepCron,
			Logger: logger,
		},
		&janitor.LimiterPrune{Prune: dispatcher.PruneIdle},
	}
	if jr != nil {
		jobs = append(jobs, &janitor.JournalPrune{
			Journal:   jr,
			Retention: time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour,
			Cron:      cfg.Janitor.PruneCron,
			Logger:    logger,
		})
	}
	for _, job := range jobs {
		if err := j.Register(job); err != nil {
			return nil, err
		}
	}
	return j, nil
}
