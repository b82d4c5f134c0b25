package platform

import "relaybot/internal/domain"

// Twitter/X status links. The syndication endpoint needs the numeric id.
func Twitter() Definition {
	return Definition{
		Tag:   domain.Twitter,
		Badge: "🐦 From Twitter (X)",
		Strategies: []string{
			StrategySyndication,
			StrategyFixupX,
			StrategyYTDLPStdout,
			StrategyYTDLPFile,
		},
		Policy:    domain.Policy{OnUnresolved: domain.ActionNotify, OnInvalidLink: domain.ActionNotify},
		RequireID: true,
	}
}
