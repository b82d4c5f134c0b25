package platform

import "relaybot/internal/domain"

func Facebook() Definition {
	return Definition{
		Tag:   domain.Facebook,
		Badge: "📘 From Facebook",
		Strategies: []string{
			StrategyYTDLPStdout,
			StrategyYTDLPFile,
			StrategyHTMLScrape,
			StrategyRender,
		},
		Policy: domain.Policy{OnUnresolved: domain.ActionNotify, OnInvalidLink: domain.ActionNotify},
	}
}
