// Package link finds social-media post URLs inside free-form message text.
package link

import (
	"net/url"
	"regexp"
	"strings"

	"relaybot/internal/domain"
)

type pattern struct {
	url *regexp.Regexp
	ids []*regexp.Regexp
}

var patterns = map[domain.PlatformTag]pattern{
	domain.Instagram: {
		url: regexp.MustCompile(`(?i)https?://(?:www\.)?instagram\.com/(?:[A-Za-z0-9_.]+/)?(?:reels?|p|tv)/[^\s<>"]*`),
		ids: []*regexp.Regexp{regexp.MustCompile(`/(?:p|reels?|tv)/([^/?#]+)`)},
	},
	domain.TikTok: {
		url: regexp.MustCompile(`(?i)https?://(?:(?:www|vm|vt|m)\.)?tiktok\.com/[^\s<>"]*`),
		ids: []*regexp.Regexp{
			regexp.MustCompile(`/video/(\d+)`),
			regexp.MustCompile(`/photo/(\d+)`),
			regexp.MustCompile(`^https?://(?i:vm|vt)\.tiktok\.com/([A-Za-z0-9]+)`),
		},
	},
	domain.Facebook: {
		url: regexp.MustCompile(`(?i)https?://(?:(?:(?:www|m|web)\.)?facebook\.com/(?:reel/|watch/?\?|watch/|share/[rv]/)|fb\.watch/)[^\s<>"]*`),
		ids: []*regexp.Regexp{
			regexp.MustCompile(`/reel/(\d+)`),
			regexp.MustCompile(`[?&]v=(\d+)`),
			regexp.MustCompile(`/share/[rv]/([^/?#]+)`),
			regexp.MustCompile(`fb\.watch/([^/?#]+)`),
		},
	},
	domain.Twitter: {
		url: regexp.MustCompile(`(?i)https?://(?:(?:www|mobile)\.)?(?:x|twitter)\.com/(?:[A-Za-z0-9_]+|i/web)/status(?:es)?/[^\s<>"]*`),
		ids: []*regexp.Regexp{regexp.MustCompile(`/status(?:es)?/(\d+)`)},
	},
}

var trailingPunct = regexp.MustCompile(`[)\].,!?:;'"]+$`)

// Index returns the byte offset of the first link for the platform in
// text, or -1 when there is none.
func Index(tag domain.PlatformTag, text string) int {
	p, ok := patterns[tag]
	if !ok {
		return -1
	}
	loc := p.url.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// Extract returns the first well-formed link for the platform in text, with
// trailing punctuation stripped.
func Extract(tag domain.PlatformTag, text string) (string, bool) {
	p, ok := patterns[tag]
	if !ok {
		return "", false
	}
	raw := p.url.FindString(text)
	if raw == "" {
		return "", false
	}
	raw = trailingPunct.ReplaceAllString(raw, "")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return raw, true
}

// PostID returns the platform-specific post id in a link, or "".
func PostID(tag domain.PlatformTag, link string) string {
	p, ok := patterns[tag]
	if !ok {
		return ""
	}
	for _, re := range p.ids {
		if m := re.FindStringSubmatch(link); len(m) == 2 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
