package domain

import "time"

// InboundMessage is one text message received from a chat. It lives for a
// single dispatch cycle.
type InboundMessage struct {
	Channel    string
	ChatID     int64
	MessageID  int
	SenderID   int64
	SenderName string
	Text       string
	Timestamp  time.Time
}

// Sender identifies the author of a message for caption decoration.
func (m InboundMessage) Sender() Sender {
	return Sender{ID: m.SenderID, Name: m.SenderName}
}

type Sender struct {
	ID   int64
	Name string
}
