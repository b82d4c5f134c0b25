package domain

import "fmt"

// PlatformTag names a supported social-media platform.
type PlatformTag string

const (
	Instagram PlatformTag = "instagram"
	TikTok    PlatformTag = "tiktok"
	Facebook  PlatformTag = "facebook"
	Twitter   PlatformTag = "twitter"
)

// AllPlatforms lists the platforms in registry order.
var AllPlatforms = []PlatformTag{Instagram, TikTok, Facebook, Twitter}

// ParsePlatformTag validates a platform name from config or the CLI.
func ParsePlatformTag(s string) (PlatformTag, error) {
	for _, p := range AllPlatforms {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// PlatformLink is the single link a dispatch acts upon.
type PlatformLink struct {
	Platform PlatformTag
	URL      string
	ID       string // platform post id, may be empty
}
