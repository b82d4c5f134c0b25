package relay

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket for throttling dispatches in one chat.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done. It never drops.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// full reports whether the bucket has refilled completely, i.e. the chat
// has been idle long enough that its limiter can be dropped.
func (rl *RateLimiter) full() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	elapsed := time.Since(rl.lastTime).Seconds()
	return rl.tokens+elapsed*rl.rate >= rl.max
}

// chatLimiters hands out one RateLimiter per chat.
type chatLimiters struct {
	mu       sync.Mutex
	burst    int
	perMin   float64
	limiters map[int64]*RateLimiter
}

func newChatLimiters(burst int, perMin float64) *chatLimiters {
	return &chatLimiters{burst: burst, perMin: perMin, limiters: make(map[int64]*RateLimiter)}
}

func (c *chatLimiters) get(chatID int64) *RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	rl, ok := c.limiters[chatID]
	if !ok {
		rl = NewRateLimiter(c.burst, c.perMin)
		c.limiters[chatID] = rl
	}
	return rl
}

// prune drops limiters of idle chats and returns how many were removed.
func (c *chatLimiters) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, rl := range c.limiters {
		if rl.full() {
			delete(c.limiters, id)
			n++
		}
	}
	return n
}
