package status

import (
	"fmt"
	"html"
	"math/rand/v2"
	"strings"

	"relaybot/internal/domain"
)

const (
	SpammerStatus    = "🌈 GAY SPAMMER 💦💦💦"
	DefaultThreshold = 3
)

// FriendlyStatuses are picked at random below the spam threshold.
var FriendlyStatuses = []string{
	"👑 NICE GUY 👑",
	"😎 CHILL GUY 🚬",
	"COOL DUDE 🤘",
	"FUNNY DUDE 🤣",
}

// Annotator builds the HTML caption prefix: a status line followed by a
// mention link to the sender.
type Annotator struct {
	store     domain.StreakStore
	threshold int
	pick      func(n int) int
}

type AnnotatorConfig struct {
	Store     domain.StreakStore
	Threshold int             // default 3
	Pick      func(n int) int // random index in [0,n), default math/rand
}

func NewAnnotator(cfg AnnotatorConfig) *Annotator {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStreakStore()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	return &Annotator{store: cfg.Store, threshold: cfg.Threshold, pick: cfg.Pick}
}

var _ domain.Annotator = (*Annotator)(nil)

func (a *Annotator) Annotate(sender domain.Sender, chatID int64) string {
	n := a.store.Bump(chatID, sender.ID)

	status := SpammerStatus
	if n < a.threshold {
		status = FriendlyStatuses[a.pick(len(FriendlyStatuses))]
	}
	return fmt.Sprintf("%s\n %s", status, Mention(sender))
}

// Mention renders a tg://user link to the sender, with the name escaped.
func Mention(s domain.Sender) string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = fmt.Sprintf("user %d", s.ID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, s.ID, html.EscapeString(name))
}
