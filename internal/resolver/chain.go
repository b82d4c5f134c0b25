package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStrategyTimeout = 30 * time.Second
	// DefaultMaxUploadBytes is the upload ceiling for in-memory video.
	DefaultMaxUploadBytes = 8 << 20
)

// AttemptObserver receives one observation per strategy attempt.
type AttemptObserver interface {
	ObserveAttempt(platform, strategy, result string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, string, time.Duration) {}

// Compressor shrinks a video to fit under maxBytes.
type Compressor interface {
	Compress(ctx context.Context, data []byte, maxBytes int) ([]byte, error)
}

// Chain tries strategies strictly in order and returns the first usable
// result. Failures are classified, logged and swallowed.
type Chain struct {
	platform   domain.PlatformTag
	strategies []domain.Strategy
	compressor Compressor
	maxBytes   int
	logger     *slog.Logger
	observer   AttemptObserver
	checker    URLChecker
	tracer     trace.Tracer
}

type ChainConfig struct {
	Platform       domain.PlatformTag
	Strategies     []domain.Strategy
	Compressor     Compressor // optional
	MaxUploadBytes int
	Logger         *slog.Logger
	Observer       AttemptObserver
	Checker        URLChecker // defaults to HTTPChecker on a shared client
}

// selfChecked is implemented by strategies whose URL results were already
// confirmed reachable while resolving.
type selfChecked interface {
	confirmsURL()
}

func NewChain(cfg ChainConfig) *Chain {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Checker == nil {
		cfg.Checker = HTTPChecker{Client: SharedHTTPClient(0), Logger: cfg.Logger}
	}
	return &Chain{
		platform:   cfg.Platform,
		strategies: cfg.Strategies,
		compressor: cfg.Compressor,
		maxBytes:   cfg.MaxUploadBytes,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		checker:    cfg.Checker,
		tracer:     otel.Tracer("relaybot/resolver"),
	}
}

// Name describes the chain, e.g. "tiktok(tikwm→tiktokdownload)".
func (c *Chain) Name() string {
	return string(c.platform) + "(" + strings.Join(c.StrategyNames(), "→") + ")"
}

func (c *Chain) StrategyNames() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Budget is the longest Resolve can take: the sum of the strategy timeouts.
func (c *Chain) Budget() time.Duration {
	var total time.Duration
	for _, s := range c.strategies {
		t := s.Timeout()
		if t <= 0 {
			t = defaultStrategyTimeout
		}
		total += t
	}
	return total
}

// Resolve runs the strategies in order. On exhaustion it returns an
// Unresolved result and an error wrapping ErrAllStrategiesFailed. When ctx
// ends first the error wraps ErrResolutionCancelled instead and no further
// strategy is started.
func (c *Chain) Resolve(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	if len(c.strategies) == 0 {
		return domain.UnresolvedResult(), fmt.Errorf("%w: no strategies configured for %s", ErrAllStrategiesFailed, c.platform)
	}

	var lastErr error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return domain.UnresolvedResult(), fmt.Errorf("%w after %d attempts: %w", ErrResolutionCancelled, i, err)
		}

		res, err := c.attempt(ctx, s, link)
		if err == nil {
			if i > 0 {
				c.logger.Info("resolver: used fallback strategy",
					"platform", c.platform,
					"strategy", s.Name(),
					"attempt", i+1,
				)
			}
			res.Strategy = s.Name()
			return res, nil
		}

		lastErr = err
		c.logger.Warn("resolver: strategy failed, trying next",
			"platform", c.platform,
			"strategy", s.Name(),
			"attempt", i+1,
			"url", link.URL,
			"kind", KindName(err),
			"err", err,
		)
	}
	if err := ctx.Err(); err != nil {
		return domain.UnresolvedResult(), fmt.Errorf("%w after %d attempts: %w", ErrResolutionCancelled, len(c.strategies), err)
	}
	return domain.UnresolvedResult(), fmt.Errorf("%w: last error: %w", ErrAllStrategiesFailed, lastErr)
}

func (c *Chain) attempt(ctx context.Context, s domain.Strategy, link domain.PlatformLink) (res domain.Result, err error) {
	ctx, span := c.tracer.Start(ctx, "resolver.attempt", trace.WithAttributes(
		attribute.String("relaybot.platform", string(c.platform)),
		attribute.String("relaybot.strategy", s.Name()),
	))
	defer span.End()

	timeout := s.Timeout()
	if timeout <= 0 {
		timeout = defaultStrategyTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = domain.UnresolvedResult()
			err = &StrategyError{Strategy: s.Name(), Kind: ErrBadResponse, Err: fmt.Errorf("panic: %v", r)}
		}
		kind := KindName(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		} else {
			span.SetAttributes(attribute.String("relaybot.result", res.Kind.String()))
		}
		c.observer.ObserveAttempt(string(c.platform), s.Name(), kind, time.Since(start))
	}()

	res, err = s.Attempt(attemptCtx, link)
	if err != nil {
		return domain.UnresolvedResult(), classify(attemptCtx, s.Name(), err)
	}
	if !res.Usable() {
		return domain.UnresolvedResult(), &StrategyError{Strategy: s.Name(), Kind: ErrEmptyResult, Err: errors.New("no media in result")}
	}
	if res.Kind == domain.VideoBytes && res.Size() > c.maxBytes {
		return c.shrink(ctx, s.Name(), res)
	}
	if res.Kind == domain.VideoURL || res.Kind == domain.PhotoURL {
		if _, ok := s.(selfChecked); !ok {
			if err := c.checker.Check(attemptCtx, res.URL); err != nil {
				return domain.UnresolvedResult(), classify(attemptCtx, s.Name(), err)
			}
		}
	}
	return res, nil
}

// shrink runs the optional compressor on oversized in-memory video. A result
// still above the ceiling counts as a failure of the strategy.
func (c *Chain) shrink(ctx context.Context, strategy string, res domain.Result) (domain.Result, error) {
	if c.compressor == nil {
		return domain.UnresolvedResult(), &StrategyError{
			Strategy: strategy,
			Kind:     ErrTooLarge,
			Err:      fmt.Errorf("%d bytes exceeds %d and compression is disabled", res.Size(), c.maxBytes),
		}
	}

	before := res.Size()
	out, err := c.compressor.Compress(ctx, res.Bytes, c.maxBytes)
	if err != nil {
		return domain.UnresolvedResult(), &StrategyError{Strategy: strategy, Kind: ErrTooLarge, Err: fmt.Errorf("compress: %w", err)}
	}
	if len(out) == 0 || len(out) > c.maxBytes {
		return domain.UnresolvedResult(), &StrategyError{
			Strategy: strategy,
			Kind:     ErrTooLarge,
			Err:      fmt.Errorf("compressed to %d bytes, ceiling is %d", len(out), c.maxBytes),
		}
	}

	c.logger.Info("resolver: compressed video",
		"platform", c.platform,
		"strategy", strategy,
		"before", before,
		"after", len(out),
	)
	return domain.VideoBytesResult(out, res.Filename), nil
}
