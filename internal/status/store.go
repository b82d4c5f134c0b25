// Package status decorates relayed media with a playful label for the
// sender, based on how many links in a row they posted in the chat.
package status

import "sync"

type streak struct {
	lastSender int64
	count      int
}

// MemoryStreakStore keeps streaks for the lifetime of the process.
type MemoryStreakStore struct {
	mu    sync.Mutex
	chats map[int64]*streak
}

func NewMemoryStreakStore() *MemoryStreakStore {
	return &MemoryStreakStore{chats: make(map[int64]*streak)}
}

// Bump counts a dispatch by senderID in chatID. A different sender restarts
// the streak at 1.
func (s *MemoryStreakStore) Bump(chatID, senderID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.chats[chatID]
	if !ok {
		st = &streak{}
		s.chats[chatID] = st
	}
	if st.count > 0 && st.lastSender == senderID {
		st.count++
	} else {
		st.lastSender = senderID
		st.count = 1
	}
	return st.count
}

func (s *MemoryStreakStore) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}
