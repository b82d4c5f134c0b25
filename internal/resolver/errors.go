package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"relaybot/internal/tool"
)

// ErrAllStrategiesFailed is returned by Chain.Resolve on exhaustion.
var ErrAllStrategiesFailed = errors.New("all strategies failed")

// ErrResolutionCancelled is returned by Chain.Resolve when the caller's
// context ends before a strategy succeeds. It is not a failure of the link.
var ErrResolutionCancelled = errors.New("resolution cancelled")

// Strategy failure kinds. A StrategyError always wraps exactly one of them.
var (
	ErrToolMissing = errors.New("tool missing")
	ErrToolFailed  = errors.New("tool failed")
	ErrTimeout     = errors.New("timeout")
	ErrNetwork     = errors.New("network error")
	ErrBadStatus   = errors.New("bad status")
	ErrBadResponse = errors.New("bad response")
	ErrEmptyResult = errors.New("empty result")
	ErrTooLarge    = errors.New("media too large")
)

var kindNames = map[error]string{
	ErrToolMissing: "tool_missing",
	ErrToolFailed:  "tool_failed",
	ErrTimeout:     "timeout",
	ErrNetwork:     "network",
	ErrBadStatus:   "bad_status",
	ErrBadResponse: "bad_response",
	ErrEmptyResult: "empty",
	ErrTooLarge:    "too_large",
}

// StrategyError is a classified strategy failure.
type StrategyError struct {
	Strategy string
	Kind     error
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Strategy, e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KindName returns a short label for the failure kind of err, for logs and
// metrics.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	var se *StrategyError
	if errors.As(err, &se) {
		if name, ok := kindNames[se.Kind]; ok {
			return name
		}
	}
	for kind, name := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return "unknown"
}

// classify maps a raw strategy error onto the failure taxonomy.
func classify(ctx context.Context, strategy string, err error) *StrategyError {
	var se *StrategyError
	if errors.As(err, &se) {
		if se.Strategy == "" {
			se.Strategy = strategy
		}
		return se
	}
	return &StrategyError{Strategy: strategy, Kind: kindOf(ctx, err), Err: err}
}

func kindOf(ctx context.Context, err error) error {
	for _, kind := range []error{ErrToolMissing, ErrToolFailed, ErrTimeout, ErrNetwork, ErrBadStatus, ErrBadResponse, ErrEmptyResult, ErrTooLarge} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	var exitErr *tool.ExitError
	switch {
	case errors.Is(err, tool.ErrNotInstalled):
		return ErrToolMissing
	case errors.Is(err, tool.ErrOutputLimit):
		return ErrTooLarge
	case errors.As(err, &exitErr):
		return ErrToolFailed
	case errors.Is(err, tool.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		if netErr != nil && netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	return ErrBadResponse
}

func badStatus(code int) error {
	return fmt.Errorf("%w: HTTP %d", ErrBadStatus, code)
}

func badResponse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadResponse, fmt.Sprintf(format, args...))
}

func emptyResult(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEmptyResult, fmt.Sprintf(format, args...))
}
