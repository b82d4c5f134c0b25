// Package platform holds the static registry of supported social networks:
// how each one matches links, which resolver chain it runs and what it does
// when nothing can be delivered.
package platform

import (
	"context"
	"fmt"

	"relaybot/internal/domain"
	"relaybot/internal/link"
	"relaybot/internal/resolver"
)

// Definition is the built-in description of one platform.
type Definition struct {
	Tag        domain.PlatformTag
	Badge      string
	Strategies []string // default chain order
	Policy     domain.Policy
	// RequireID marks links without a post id as invalid.
	RequireID bool
	Notice    func(l domain.PlatformLink) string
}

// Handler implements domain.Platform on top of a resolver chain.
type Handler struct {
	def    Definition
	policy domain.Policy
	chain  *resolver.Chain
}

var _ domain.Platform = (*Handler)(nil)

func newHandler(def Definition, policy domain.Policy, chain *resolver.Chain) *Handler {
	return &Handler{def: def, policy: policy, chain: chain}
}

func (h *Handler) Tag() domain.PlatformTag { return h.def.Tag }
func (h *Handler) Badge() string           { return h.def.Badge }
func (h *Handler) Policy() domain.Policy   { return h.policy }

// Chain exposes the resolver chain for diagnostics.
func (h *Handler) Chain() *resolver.Chain { return h.chain }

func (h *Handler) Match(text string) bool {
	return link.Index(h.def.Tag, text) >= 0
}

func (h *Handler) Index(text string) int {
	return link.Index(h.def.Tag, text)
}

// Extract returns the first link in text. ErrInvalidLink means the text
// matches the platform but the link is unusable.
func (h *Handler) Extract(text string) (domain.PlatformLink, error) {
	raw, ok := link.Extract(h.def.Tag, text)
	if !ok {
		return domain.PlatformLink{}, fmt.Errorf("%w: no %s link in message", domain.ErrInvalidLink, h.def.Tag)
	}
	l := domain.PlatformLink{Platform: h.def.Tag, URL: raw, ID: link.PostID(h.def.Tag, raw)}
	if h.def.RequireID && l.ID == "" {
		return l, fmt.Errorf("%w: %s link has no post id", domain.ErrInvalidLink, h.def.Tag)
	}
	return l, nil
}

func (h *Handler) Resolve(ctx context.Context, l domain.PlatformLink) (domain.Result, error) {
	return h.chain.Resolve(ctx, l)
}

func (h *Handler) Notice(l domain.PlatformLink) string {
	if h.def.Notice == nil {
		return genericNotice(l)
	}
	return h.def.Notice(l)
}

// DisplayName is the capitalised platform name used in user-facing text.
func DisplayName(tag domain.PlatformTag) string {
	switch tag {
	case domain.Instagram:
		return "Instagram"
	case domain.TikTok:
		return "TikTok"
	case domain.Facebook:
		return "Facebook"
	case domain.Twitter:
		return "Twitter"
	}
	return string(tag)
}

func genericNotice(l domain.PlatformLink) string {
	return "Failed to automatically download the video.\n" +
		"Watch by original link:\n\n" +
		"Original link: " + l.URL
}
