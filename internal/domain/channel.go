package domain

import "context"

// Channel is a chat platform connection that feeds the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Media is something the chat platform can upload: either in-memory bytes
// or a remote URL the platform fetches itself.
type Media struct {
	Bytes    []byte
	Filename string
	URL      string
}

// IsRemote reports whether the media is referenced by URL.
func (m Media) IsRemote() bool { return m.URL != "" && len(m.Bytes) == 0 }

// ChatSender is the outbound side of the chat boundary. Captions and texts
// are HTML formatted.
type ChatSender interface {
	SendVideo(ctx context.Context, chatID int64, media Media, caption string) error
	SendPhoto(ctx context.Context, chatID int64, media Media, caption string) error
	SendText(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
