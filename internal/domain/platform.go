package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Strategy is one self-contained attempt at turning a link into media.
// Implementations are stateless and must honour ctx cancellation.
type Strategy interface {
	Name() string
	Timeout() time.Duration
	Attempt(ctx context.Context, link PlatformLink) (Result, error)
}

// Action is what a platform does when it cannot deliver media.
type Action string

const (
	ActionNotify       Action = "notify"        // send a notice, keep the original
	ActionSilent       Action = "silent"        // do nothing
	ActionDeleteNotify Action = "delete-notify" // delete the original, then notify
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionNotify, ActionSilent, ActionDeleteNotify:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// Policy is declared explicitly by every platform.
type Policy struct {
	OnUnresolved  Action
	OnInvalidLink Action
}

// Validate rejects delete-notify for unresolved links: the original is only
// ever deleted after a successful send or for an invalid link.
func (p Policy) Validate() error {
	if _, err := ParseAction(string(p.OnUnresolved)); err != nil {
		return fmt.Errorf("onUnresolved: %w", err)
	}
	if p.OnUnresolved == ActionDeleteNotify {
		return fmt.Errorf("onUnresolved: %q is not allowed", ActionDeleteNotify)
	}
	if _, err := ParseAction(string(p.OnInvalidLink)); err != nil {
		return fmt.Errorf("onInvalidLink: %w", err)
	}
	return nil
}

// Platform is a registry entry: match, extract and resolve links of one
// social network.
type Platform interface {
	Tag() PlatformTag
	Badge() string
	Match(text string) bool
	// Index returns the byte offset of the platform's first link in text, or -1.
	Index(text string) int
	Extract(text string) (PlatformLink, error)
	Resolve(ctx context.Context, link PlatformLink) (Result, error)
	Policy() Policy
	// Notice is the text sent when nothing could be resolved.
	Notice(link PlatformLink) string
}

// ErrInvalidLink is returned by Extract when the text matches the platform
// but holds no usable link.
var ErrInvalidLink = errors.New("invalid link")
