package platform

import "relaybot/internal/domain"

// TikTok videos and photo posts, including vm./vt. short links. Short links
// carry no numeric id, so the id is optional.
func TikTok() Definition {
	return Definition{
		Tag:        domain.TikTok,
		Badge:      "🎵 TikTok",
		Strategies: []string{StrategyTikwm, StrategyTikTokDownload, StrategyYTDLPStdout},
		Policy:     domain.Policy{OnUnresolved: domain.ActionNotify, OnInvalidLink: domain.ActionNotify},
	}
}
