// Package relay routes inbound chat messages to the matching platform,
// resolves the linked media and delivers it back to the chat.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/resolver"

	"github.com/google/uuid"
)

const (
	defaultDispatchTimeout = 180 * time.Second
	defaultRateBurst       = 5
	defaultRatePerMinute   = 20.0
)

// Selector picks the platform responsible for a message.
type Selector interface {
	Select(text string) (domain.Platform, bool)
}

// Observer receives dispatch-level measurements.
type Observer interface {
	DispatchStarted()
	DispatchFinished(platform, status string, d time.Duration)
	DeleteFailed()
}

type nopObserver struct{}

func (nopObserver) DispatchStarted()                               {}
func (nopObserver) DispatchFinished(string, string, time.Duration) {}
func (nopObserver) DeleteFailed()                                  {}

// Dispatcher is the boundary between the chat transport and everything that
// can fail: nothing below Route propagates to the polling loop.
type Dispatcher struct {
	platforms Selector
	annotator domain.Annotator
	deliverer *Deliverer
	recorder  domain.Recorder
	observer  Observer
	locks     *chatLocks
	limiters  *chatLimiters
	timeout   time.Duration
	logger    *slog.Logger
}

type DispatcherConfig struct {
	Platforms       Selector
	Annotator       domain.Annotator
	Sender          domain.ChatSender
	Recorder        domain.Recorder // optional
	Observer        Observer        // optional
	DispatchTimeout time.Duration
	SendTimeout     time.Duration
	RateBurst       int
	RatePerMinute   float64
	Logger          *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	if cfg.Recorder == nil {
		cfg.Recorder = domain.NopRecorder{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		platforms: cfg.Platforms,
		annotator: cfg.Annotator,
		deliverer: NewDeliverer(DelivererConfig{
			Sender:      cfg.Sender,
			SendTimeout: cfg.SendTimeout,
			Observer:    cfg.Observer,
			Logger:      cfg.Logger,
		}),
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		locks:    newChatLocks(),
		limiters: newChatLimiters(cfg.RateBurst, cfg.RatePerMinute),
		timeout:  cfg.DispatchTimeout,
		logger:   cfg.Logger,
	}
}

// Route handles one inbound message end to end. It never panics and never
// returns an error: every failure is logged and recorded.
func (d *Dispatcher) Route(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("relay: panic while routing", "chat_id", msg.ChatID, "message_id", msg.MessageID, "panic", r)
		}
	}()
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	p, ok := d.platforms.Select(msg.Text)
	if !ok {
		return
	}

	id := uuid.NewString()
	log := d.logger.With("dispatch_id", id, "chat_id", msg.ChatID, "message_id", msg.MessageID, "platform", p.Tag())
	start := time.Now()
	d.observer.DispatchStarted()

	out := domain.Outcome{ChatID: msg.ChatID, MessageID: msg.MessageID, Platform: p.Tag()}
	defer func() {
		if r := recover(); r != nil {
			log.Error("relay: panic in dispatch", "panic", r, "stack", string(debug.Stack()))
			out.Status = domain.StatusSendFailed
			out.Err = fmt.Sprintf("panic: %v", r)
		}
		out.ID = id
		out.Duration = time.Since(start)
		out.At = start
		d.finish(ctx, out, log)
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out = d.dispatch(ctx, msg, p, log)
}

func (d *Dispatcher) dispatch(ctx context.Context, msg domain.InboundMessage, p domain.Platform, log *slog.Logger) domain.Outcome {
	release, err := d.locks.acquire(ctx, msg.ChatID)
	if err != nil {
		log.Warn("relay: gave up waiting for chat lock", "err", err)
		return domain.Outcome{ChatID: msg.ChatID, MessageID: msg.MessageID, Platform: p.Tag(), Status: domain.StatusSilent, Err: err.Error()}
	}
	defer release()

	l, extractErr := p.Extract(msg.Text)
	prefix := d.annotator.Annotate(msg.Sender(), msg.ChatID)

	if extractErr != nil {
		log.Info("relay: invalid link", "err", extractErr)
		out := d.deliverer.DeliverInvalid(ctx, msg, prefix, p)
		out.URL = l.URL
		return out
	}
	log = log.With("url", l.URL)

	if err := d.limiters.get(msg.ChatID).Wait(ctx); err != nil {
		log.Warn("relay: rate limit wait abandoned", "err", err)
		return domain.Outcome{ChatID: msg.ChatID, MessageID: msg.MessageID, Platform: p.Tag(), URL: l.URL, Status: domain.StatusSilent, Err: err.Error()}
	}

	log.Info("relay: resolving")
	res, resolveErr := p.Resolve(ctx, l)
	if errors.Is(resolveErr, resolver.ErrResolutionCancelled) || (resolveErr != nil && ctx.Err() != nil) {
		log.Warn("relay: resolution cancelled, nothing posted", "err", resolveErr)
		return domain.Outcome{ChatID: msg.ChatID, MessageID: msg.MessageID, Platform: p.Tag(), URL: l.URL, Status: domain.StatusCancelled, Err: resolveErr.Error()}
	}
	if resolveErr != nil {
		log.Warn("relay: unresolved", "err", resolveErr)
	}

	out := d.deliverer.Deliver(ctx, msg, res, prefix, l, p)
	if out.Err == "" && resolveErr != nil {
		out.Err = resolveErr.Error()
	}
	return out
}

func (d *Dispatcher) finish(ctx context.Context, out domain.Outcome, log *slog.Logger) {
	d.observer.DispatchFinished(string(out.Platform), string(out.Status), out.Duration)

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.recorder.Record(recCtx, out); err != nil {
		log.Warn("relay: failed to record outcome", "err", err)
	}
}

// PruneIdle drops the rate limiters of chats that have been quiet long
// enough to have a full bucket.
func (d *Dispatcher) PruneIdle() int {
	return d.limiters.prune()
}
