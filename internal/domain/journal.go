package domain

import (
	"context"
	"time"
)

// OutcomeStatus is the terminal state of one dispatch.
type OutcomeStatus string

const (
	StatusDelivered  OutcomeStatus = "delivered"
	StatusUnresolved OutcomeStatus = "unresolved"
	StatusInvalid    OutcomeStatus = "invalid"
	StatusSendFailed OutcomeStatus = "send_failed"
	StatusSilent     OutcomeStatus = "silent"
	// StatusCancelled means the dispatch deadline or shutdown ended the
	// resolution. Nothing is posted to the chat.
	StatusCancelled OutcomeStatus = "cancelled"
)

// Outcome describes what happened to one dispatched link.
type Outcome struct {
	ID        string
	ChatID    int64
	MessageID int
	Platform  PlatformTag
	URL       string
	Strategy  string
	Status    OutcomeStatus
	Deleted   bool
	Err       string
	Duration  time.Duration
	At        time.Time
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// NopRecorder discards outcomes.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Outcome) error { return nil }
