package relay

import (
	"context"
	"html"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/platform"
)

const defaultSendTimeout = 60 * time.Second

// Deliverer sends resolved media (or a notice) back to the chat and removes
// the original message once the media is safely posted.
type Deliverer struct {
	sender      domain.ChatSender
	sendTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
}

type DelivererConfig struct {
	Sender      domain.ChatSender
	SendTimeout time.Duration
	Observer    Observer
	Logger      *slog.Logger
}

func NewDeliverer(cfg DelivererConfig) *Deliverer {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Deliverer{
		sender:      cfg.Sender,
		sendTimeout: cfg.SendTimeout,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
	}
}

// Caption renders `<prefix> <a href="url">badge</a>`. The prefix is already
// HTML; url and badge are escaped.
func Caption(prefix string, l domain.PlatformLink, badge string) string {
	return prefix + ` <a href="` + html.EscapeString(l.URL) + `">` + html.EscapeString(badge) + `</a>`
}

// Deliver posts res to the chat. Media is followed by deletion of the
// original; an unresolved result follows the platform's policy and never
// deletes.
func (d *Deliverer) Deliver(ctx context.Context, msg domain.InboundMessage, res domain.Result, prefix string, l domain.PlatformLink, p domain.Platform) domain.Outcome {
	out := domain.Outcome{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Platform:  l.Platform,
		URL:       l.URL,
		Strategy:  res.Strategy,
	}
	caption := Caption(prefix, l, p.Badge())
	log := d.logger.With("chat_id", msg.ChatID, "message_id", msg.MessageID, "platform", l.Platform)

	var err error
	switch res.Kind {
	case domain.VideoBytes, domain.VideoURL:
		err = d.withTimeout(ctx, func(ctx context.Context) error {
			return d.sender.SendVideo(ctx, msg.ChatID, res.Media(), caption)
		})
	case domain.PhotoURL:
		err = d.withTimeout(ctx, func(ctx context.Context) error {
			return d.sender.SendPhoto(ctx, msg.ChatID, res.Media(), caption)
		})
	default:
		return d.unresolved(ctx, msg, l, p, caption, out, log)
	}

	if err != nil {
		log.Error("relay: send failed, keeping original", "strategy", res.Strategy, "kind", res.Kind.String(), "err", err)
		out.Status = domain.StatusSendFailed
		out.Err = err.Error()
		return out
	}

	out.Status = domain.StatusDelivered
	out.Deleted = d.deleteOriginal(ctx, msg, log)
	log.Info("relay: delivered", "strategy", res.Strategy, "kind", res.Kind.String(), "deleted", out.Deleted)
	return out
}

func (d *Deliverer) unresolved(ctx context.Context, msg domain.InboundMessage, l domain.PlatformLink, p domain.Platform, caption string, out domain.Outcome, log *slog.Logger) domain.Outcome {
	if p.Policy().OnUnresolved == domain.ActionSilent {
		log.Info("relay: unresolved, staying silent")
		out.Status = domain.StatusSilent
		return out
	}

	text := caption + "\n\n" + html.EscapeString(p.Notice(l))
	if err := d.withTimeout(ctx, func(ctx context.Context) error {
		return d.sender.SendText(ctx, msg.ChatID, text)
	}); err != nil {
		log.Error("relay: failed to send notice", "err", err)
		out.Status = domain.StatusSendFailed
		out.Err = err.Error()
		return out
	}
	out.Status = domain.StatusUnresolved
	return out
}

// DeliverInvalid handles a message that matched a platform but carried no
// usable link.
func (d *Deliverer) DeliverInvalid(ctx context.Context, msg domain.InboundMessage, prefix string, p domain.Platform) domain.Outcome {
	out := domain.Outcome{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Platform:  p.Tag(),
		Status:    domain.StatusInvalid,
	}
	log := d.logger.With("chat_id", msg.ChatID, "message_id", msg.MessageID, "platform", p.Tag())

	action := p.Policy().OnInvalidLink
	switch action {
	case domain.ActionSilent:
		log.Info("relay: invalid link, staying silent")
		out.Status = domain.StatusSilent
		return out
	case domain.ActionDeleteNotify:
		out.Deleted = d.deleteOriginal(ctx, msg, log)
	}

	text := prefix + " " + html.EscapeString(p.Badge()) + "\n\n" +
		html.EscapeString("[Invalid "+platform.DisplayName(p.Tag())+" link] "+msg.Text)
	if err := d.withTimeout(ctx, func(ctx context.Context) error {
		return d.sender.SendText(ctx, msg.ChatID, text)
	}); err != nil {
		log.Error("relay: failed to send invalid-link notice", "err", err)
		out.Status = domain.StatusSendFailed
		out.Err = err.Error()
	}
	return out
}

// deleteOriginal removes the source message. Failure is logged only.
func (d *Deliverer) deleteOriginal(ctx context.Context, msg domain.InboundMessage, log *slog.Logger) bool {
	err := d.withTimeout(ctx, func(ctx context.Context) error {
		return d.sender.DeleteMessage(ctx, msg.ChatID, msg.MessageID)
	})
	if err != nil {
		d.observer.DeleteFailed()
		log.Warn("relay: failed to delete original message", "err", err)
		return false
	}
	return true
}

// withTimeout runs one chat call detached from the dispatch deadline and
// bounded by the send timeout.
func (d *Deliverer) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	return fn(ctx)
}
