package domain

// StreakStore keeps the per-chat consecutive-sender counter.
type StreakStore interface {
	// Bump records a dispatch by senderID in chatID and returns the new
	// consecutive count. The update is atomic.
	Bump(chatID, senderID int64) int
	Reset(chatID int64)
}

// Annotator produces the caption prefix for a sender in a chat.
type Annotator interface {
	Annotate(sender Sender, chatID int64) string
}
