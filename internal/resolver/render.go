package resolver

import (
	"context"
	"time"

	"relaybot/internal/domain"
)

// Renderer loads a page in a real browser and reports the media it found.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (videoURL, imageURL string, err error)
}

// RenderScrape is the last resort for pages that only expose media after
// client-side rendering.
type RenderScrape struct {
	renderer Renderer
	timeout  time.Duration
}

func NewRenderScrape(r Renderer, timeout time.Duration) *RenderScrape {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &RenderScrape{renderer: r, timeout: timeout}
}

func (r *RenderScrape) Name() string           { return "render" }
func (r *RenderScrape) Timeout() time.Duration { return r.timeout }

func (r *RenderScrape) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	video, image, err := r.renderer.Render(ctx, link.URL)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	switch {
	case video != "" && !isBlobURL(video):
		return domain.VideoURLResult(video), nil
	case image != "":
		return domain.PhotoURLResult(image), nil
	default:
		return domain.UnresolvedResult(), emptyResult("rendered page exposed no media")
	}
}

// blob: URLs only exist inside the browser session.
func isBlobURL(s string) bool {
	return len(s) >= 5 && s[:5] == "blob:"
}
