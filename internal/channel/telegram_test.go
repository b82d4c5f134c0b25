package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// botAPIServer fakes the Bot API. Every call is recorded with its form
// values; responses are keyed by method.
type botAPIServer struct {
	mu        sync.Mutex
	calls     []apiCall
	responses map[string][]string // method -> queued raw responses
}

type apiCall struct {
	method string
	form   map[string]string
	files  []string
}

func newBotAPIServer(t *testing.T) (*botAPIServer, *httptest.Server) {
	s := &botAPIServer{responses: map[string][]string{}}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *botAPIServer) queue(method, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method] = append(s.responses[method], body)
}

func (s *botAPIServer) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	call := apiCall{method: method, form: map[string]string{}}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		r.ParseMultipartForm(32 << 20)
		for k := range r.MultipartForm.File {
			call.files = append(call.files, k)
		}
	} else {
		r.ParseForm()
	}
	for k, v := range r.Form {
		call.form[k] = v[0]
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	var body string
	if q := s.responses[method]; len(q) > 0 {
		body, s.responses[method] = q[0], q[1:]
	}
	s.mu.Unlock()

	if body == "" {
		switch method {
		case "getMe":
			body = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relaybot"}}`
		case "deleteMessage":
			body = `{"ok":true,"result":true}`
		default:
			body = `{"ok":true,"result":{"message_id":99,"date":0,"chat":{"id":-100,"type":"group"}}}`
		}
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (s *botAPIServer) callsTo(method string) []apiCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []apiCall
	for _, c := range s.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func connectedTelegram(t *testing.T, allow ...int64) (*Telegram, *botAPIServer) {
	t.Helper()
	api, srv := newBotAPIServer(t)
	tg := NewTelegram(TelegramConfig{
		Token:       "123:abc",
		AllowFrom:   allow,
		APIEndpoint: srv.URL + "/bot%s/%s",
		Client:      srv.Client(),
		Logger:      testLogger(),
	})
	name, err := tg.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if name != "relaybot" {
		t.Fatalf("username = %q", name)
	}
	return tg, api
}

type captureBus struct {
	mu   sync.Mutex
	msgs []domain.InboundMessage
}

func (b *captureBus) Publish(m domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}
func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *captureBus) Close()                                  {}

func textUpdate(chatID int64, from tgbotapi.User, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &from,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
		Date:      int(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix()),
		Text:      text,
	}}
}

// --- Inbound ---

func TestToInbound(t *testing.T) {
	u := textUpdate(-100, tgbotapi.User{ID: 5, FirstName: "Ana", LastName: "Lima"}, "  look https://vm.tiktok.com/x  ")
	in, ok := toInbound(u.Message)
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	if in.ChatID != -100 || in.MessageID != 7 || in.SenderID != 5 || in.SenderName != "Ana Lima" {
		t.Fatalf("unexpected inbound %+v", in)
	}
	if in.Text != "look https://vm.tiktok.com/x" {
		t.Fatalf("text not trimmed: %q", in.Text)
	}
	if in.Timestamp.Year() != 2026 {
		t.Fatalf("timestamp = %v", in.Timestamp)
	}
}

func TestToInbound_Rejects(t *testing.T) {
	bot := textUpdate(1, tgbotapi.User{ID: 2, IsBot: true, FirstName: "b"}, "https://x.com/a/status/1")
	if _, ok := toInbound(bot.Message); ok {
		t.Fatal("bot authors must be ignored")
	}
	empty := textUpdate(1, tgbotapi.User{ID: 2}, "   ")
	if _, ok := toInbound(empty.Message); ok {
		t.Fatal("empty text must be ignored")
	}
}

func TestSenderName_FallsBackToUsername(t *testing.T) {
	if got := senderName(&tgbotapi.User{UserName: "ana"}); got != "ana" {
		t.Fatalf("got %q", got)
	}
	if got := senderName(&tgbotapi.User{FirstName: "Ana"}); got != "Ana" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleUpdate_AllowList(t *testing.T) {
	tg, _ := connectedTelegram(t, -100)
	bus := &captureBus{}
	user := tgbotapi.User{ID: 5, FirstName: "Ana"}

	tg.handleUpdate(context.Background(), textUpdate(-100, user, "hi"), bus)
	tg.handleUpdate(context.Background(), textUpdate(-200, user, "hi"), bus)
	tg.handleUpdate(context.Background(), tgbotapi.Update{}, bus)

	if len(bus.msgs) != 1 || bus.msgs[0].ChatID != -100 {
		t.Fatalf("expected only the allowed chat, got %+v", bus.msgs)
	}
}

func TestHandleUpdate_HelpCommand(t *testing.T) {
	tg, api := connectedTelegram(t)
	bus := &captureBus{}
	u := textUpdate(-100, tgbotapi.User{ID: 5}, "/help")
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}

	tg.handleUpdate(context.Background(), u, bus)

	if len(bus.msgs) != 0 {
		t.Fatal("commands must not reach the bus")
	}
	calls := api.callsTo("sendMessage")
	if len(calls) != 1 || !strings.Contains(calls[0].form["text"], "TikTok") {
		t.Fatalf("expected help reply, got %+v", calls)
	}
}

// --- ChatSender ---

func TestSendText_HTML(t *testing.T) {
	tg, api := connectedTelegram(t)
	if err := tg.SendText(context.Background(), -100, "<b>hi</b>"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	c := api.callsTo("sendMessage")[0]
	if c.form["parse_mode"] != "HTML" || c.form["chat_id"] != "-100" || c.form["text"] != "<b>hi</b>" {
		t.Fatalf("unexpected form %v", c.form)
	}
}

func TestSendVideo_Bytes(t *testing.T) {
	tg, api := connectedTelegram(t)
	media := domain.Media{Bytes: []byte("mp4data"), Filename: "clip.mp4"}
	if err := tg.SendVideo(context.Background(), -100, media, "cap"); err != nil {
		t.Fatalf("SendVideo: %v", err)
	}
	c := api.callsTo("sendVideo")[0]
	if len(c.files) != 1 || c.files[0] != "video" {
		t.Fatalf("expected an uploaded video part, got %v", c.files)
	}
	if c.form["caption"] != "cap" || c.form["parse_mode"] != "HTML" {
		t.Fatalf("unexpected form %v", c.form)
	}
}

func TestSendPhoto_URL(t *testing.T) {
	tg, api := connectedTelegram(t)
	media := domain.Media{URL: "https://cdn.example.com/a.jpg"}
	if err := tg.SendPhoto(context.Background(), -100, media, "cap"); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	c := api.callsTo("sendPhoto")[0]
	if c.form["photo"] != "https://cdn.example.com/a.jpg" {
		t.Fatalf("expected photo by URL, got %v", c.form)
	}
}

func TestDeleteMessage(t *testing.T) {
	tg, api := connectedTelegram(t)
	if err := tg.DeleteMessage(context.Background(), -100, 7); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if c := api.callsTo("deleteMessage")[0]; c.form["message_id"] != "7" {
		t.Fatalf("unexpected form %v", c.form)
	}

	api.queue("deleteMessage", `{"ok":false,"error_code":400,"description":"Bad Request: message can't be deleted"}`)
	if err := tg.DeleteMessage(context.Background(), -100, 8); err == nil {
		t.Fatal("expected delete error")
	}
}

func TestSend_RetriesAfter429(t *testing.T) {
	tg, api := connectedTelegram(t)
	api.queue("sendMessage", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)

	start := time.Now()
	if err := tg.SendText(context.Background(), -100, "x"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if time.Since(start) < time.Second {
		t.Fatal("expected to wait retry_after before retrying")
	}
	if n := len(api.callsTo("sendMessage")); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestSend_RetriesRateLimitOnce(t *testing.T) {
	tg, api := connectedTelegram(t)
	limited := `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`
	api.queue("sendMessage", limited)
	api.queue("sendMessage", limited)
	api.queue("sendMessage", limited)

	if err := tg.SendText(context.Background(), -100, "x"); err == nil {
		t.Fatal("expected the second 429 to be returned")
	}
	if n := len(api.callsTo("sendMessage")); n != 2 {
		t.Fatalf("expected one retry after 429, got %d attempts", n)
	}
}

func TestNewTelegram_ClientTimeoutFollowsSendTimeout(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", SendTimeout: 45 * time.Second, Logger: testLogger()})
	if tg.client.Timeout != 45*time.Second {
		t.Fatalf("client timeout = %v, want the send timeout", tg.client.Timeout)
	}

	tg = NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if tg.client.Timeout != 60*time.Second {
		t.Fatalf("default client timeout = %v, want 60s", tg.client.Timeout)
	}

	tg = NewTelegram(TelegramConfig{Token: "x", PollTimeout: 50, SendTimeout: 20 * time.Second, Logger: testLogger()})
	if tg.client.Timeout != 55*time.Second {
		t.Fatalf("client timeout = %v, must outlive the 50s long poll", tg.client.Timeout)
	}
}

func TestSend_NotConnected(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if err := tg.SendText(context.Background(), 1, "x"); err == nil {
		t.Fatal("expected error before Connect")
	}
}

func TestConnect_BadToken(t *testing.T) {
	api, srv := newBotAPIServer(t)
	api.queue("getMe", `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	tg := NewTelegram(TelegramConfig{Token: "bad", APIEndpoint: srv.URL + "/bot%s/%s", Client: srv.Client(), Logger: testLogger()})
	if _, err := tg.Connect(); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestRetryAfter(t *testing.T) {
	err := &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
	if d, ok := retryAfter(err); !ok || d != 3*time.Second {
		t.Fatalf("got %v %v", d, ok)
	}
	if _, ok := retryAfter(&tgbotapi.Error{Code: 400}); ok {
		t.Fatal("400 is not retryable")
	}
	var raw json.RawMessage
	if _, ok := retryAfter(json.Unmarshal([]byte("{"), &raw)); ok {
		t.Fatal("non-API errors are not retryable")
	}
}
