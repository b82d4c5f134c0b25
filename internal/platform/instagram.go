package platform

import (
	"fmt"

	"relaybot/internal/domain"
)

// Instagram posts, reels and IGTV.
func Instagram() Definition {
	return Definition{
		Tag:   domain.Instagram,
		Badge: "📸 From Instagram",
		Strategies: []string{
			StrategyYTDLPStdout,
			StrategyYTDLPFile,
			StrategyInstagramAPI,
			StrategyDDInstagram,
			StrategyHTMLScrape,
			StrategyRender,
		},
		Policy:    domain.Policy{OnUnresolved: domain.ActionNotify, OnInvalidLink: domain.ActionNotify},
		RequireID: true,
		Notice:    instagramNotice,
	}
}

func instagramNotice(l domain.PlatformLink) string {
	return fmt.Sprintf("Failed to automatically download the video. Try these services:\n\n"+
		"1. https://saveinsta.app/instagram-video-downloader/%s\n"+
		"2. https://www.y2mate.com/instagram/%s\n"+
		"3. https://sssinstagram.com/\n\n"+
		"Original link: %s", l.ID, l.ID, l.URL)
}
