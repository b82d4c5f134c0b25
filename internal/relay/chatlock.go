package relay

import (
	"context"
	"sync"
)

// chatLocks serialises dispatches per chat. Entries are reference counted
// and removed when no dispatch holds or waits for them.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

type chatLock struct {
	ch   chan struct{}
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[int64]*chatLock)}
}

// acquire waits for the chat's lock. The returned release must be called
// exactly once when err is nil.
func (c *chatLocks) acquire(ctx context.Context, chatID int64) (release func(), err error) {
	c.mu.Lock()
	l, ok := c.locks[chatID]
	if !ok {
		l = &chatLock{ch: make(chan struct{}, 1)}
		c.locks[chatID] = l
	}
	l.refs++
	c.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		c.unref(chatID, l)
		return nil, ctx.Err()
	}

	return func() {
		<-l.ch
		c.unref(chatID, l)
	}, nil
}

func (c *chatLocks) unref(chatID int64, l *chatLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, chatID)
	}
}

func (c *chatLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
