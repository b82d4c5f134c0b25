package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxSendRetries = 1
	telegramMaxRetryAfter  = 30 * time.Second
	telegramHelpText       = "Send an Instagram, TikTok, Facebook or Twitter/X link and I will replace it with the media."
)

// Telegram receives group messages by long polling and implements
// domain.ChatSender for the relay.
type Telegram struct {
	token       string
	endpoint    string
	client      *http.Client
	allowFrom   map[int64]struct{} // chat ids; empty allows every chat
	pollTimeout int
	debug       bool

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

var (
	_ domain.Channel    = (*Telegram)(nil)
	_ domain.ChatSender = (*Telegram)(nil)
)

type TelegramConfig struct {
	Token       string
	AllowFrom   []int64
	PollTimeout int           // seconds, default 30
	Debug       bool          // log raw Bot API traffic
	APIEndpoint string        // default tgbotapi.APIEndpoint
	SendTimeout time.Duration // bounds each Bot API call, default 60s
	Client      *http.Client  // default: timeout of SendTimeout
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	if cfg.Client == nil {
		// getUpdates shares the client and must outlive its long poll.
		timeout := cfg.SendTimeout
		if poll := time.Duration(cfg.PollTimeout+5) * time.Second; timeout < poll {
			cfg.Logger.Warn("telegram: send timeout shorter than the long poll, raising client timeout", "send_timeout", timeout, "client_timeout", poll)
			timeout = poll
		}
		cfg.Client = &http.Client{Timeout: timeout}
	}
	allowed := make(map[int64]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = struct{}{}
	}
	return &Telegram{
		token:       cfg.Token,
		endpoint:    cfg.APIEndpoint,
		client:      cfg.Client,
		allowFrom:   allowed,
		pollTimeout: cfg.PollTimeout,
		debug:       cfg.Debug,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the token with getMe. Start calls it on demand;
// doctor calls it directly to check the token.
func (t *Telegram) Connect() (username string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot.Self.UserName, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return "", fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = t.debug
	t.bot = bot
	return bot.Self.UserName, nil
}

func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot == nil {
		return nil, errors.New("telegram: not connected")
	}
	return t.bot, nil
}

// Start connects and publishes every accepted message to the bus until ctx
// is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	username, err := t.Connect()
	if err != nil {
		return err
	}
	bot, _ := t.api()
	t.logger.Info("telegram bot connected", "username", username, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update, bus)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates must not be called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, bus domain.MessageBus) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if !t.isAllowed(msg.Chat.ID) {
		t.logger.Debug("telegram: chat not in allow list", "chat_id", msg.Chat.ID)
		return
	}
	if msg.IsCommand() {
		t.handleCommand(ctx, msg)
		return
	}
	in, ok := toInbound(msg)
	if !ok {
		return
	}
	t.logger.Debug("telegram message received", "chat_id", in.ChatID, "message_id", in.MessageID, "text_len", len(in.Text))
	bus.Publish(in)
}

// toInbound converts a Bot API message, rejecting anything the relay has
// no use for: bot authors, empty text, non-text messages.
func toInbound(msg *tgbotapi.Message) (domain.InboundMessage, bool) {
	if msg.From.IsBot {
		return domain.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		Channel:    "telegram",
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		SenderID:   msg.From.ID,
		SenderName: senderName(msg.From),
		Text:       text,
		Timestamp:  msg.Time(),
	}, true
}

func senderName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}

func (t *Telegram) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		if err := t.SendText(ctx, msg.Chat.ID, telegramHelpText); err != nil {
			t.logger.Warn("telegram: help reply failed", "chat_id", msg.Chat.ID, "err", err)
		}
	}
}

func (t *Telegram) isAllowed(chatID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	_, ok := t.allowFrom[chatID]
	return ok
}

// --- domain.ChatSender ---

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, media domain.Media, caption string) error {
	v := tgbotapi.NewVideo(chatID, requestFile(media, "video.mp4"))
	v.Caption = caption
	v.ParseMode = tgbotapi.ModeHTML
	v.SupportsStreaming = true
	return t.send(ctx, "sendVideo", v)
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, media domain.Media, caption string) error {
	p := tgbotapi.NewPhoto(chatID, requestFile(media, "photo.jpg"))
	p.Caption = caption
	p.ParseMode = tgbotapi.ModeHTML
	return t.send(ctx, "sendPhoto", p)
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	return t.send(ctx, "sendMessage", m)
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return t.send(ctx, "deleteMessage", tgbotapi.NewDeleteMessage(chatID, messageID))
}

func requestFile(media domain.Media, fallbackName string) tgbotapi.RequestFileData {
	if media.IsRemote() {
		return tgbotapi.FileURL(media.URL)
	}
	name := media.Filename
	if name == "" {
		name = fallbackName
	}
	return tgbotapi.FileBytes{Name: name, Bytes: media.Bytes}
}

// send performs one Bot API call, honouring 429 retry_after up to a cap.
// The Bot API client has no context support, so cancellation abandons the
// in-flight call rather than aborting it.
func (t *Telegram) send(ctx context.Context, method string, c tgbotapi.Chattable) error {
	bot, err := t.api()
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err := callWithContext(ctx, func() error {
			_, err := bot.Request(c)
			return err
		})
		if err == nil {
			return nil
		}
		wait, limited := retryAfter(err)
		if !limited || attempt >= telegramMaxSendRetries || wait > telegramMaxRetryAfter {
			return fmt.Errorf("telegram %s: %w", method, err)
		}
		t.logger.Warn("telegram rate limited, backing off", "method", method, "retry_after", wait, "attempt", attempt+1)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("telegram %s: %w", method, ctx.Err())
		}
	}
}

func callWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter reports whether err is a Bot API 429 and how long to wait.
func retryAfter(err error) (time.Duration, bool) {
	var code, secs int
	var ptr *tgbotapi.Error
	var val tgbotapi.Error
	switch {
	case errors.As(err, &ptr):
		code, secs = ptr.Code, ptr.RetryAfter
	case errors.As(err, &val):
		code, secs = val.Code, val.RetryAfter
	default:
		return 0, false
	}
	if code != http.StatusTooManyRequests {
		return 0, false
	}
	if secs <= 0 {
		secs = 1
	}
	return time.Duration(secs) * time.Second, true
}
