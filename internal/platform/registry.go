package platform

import (
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/resolver"
)

// Definitions returns the built-in platforms in registry order.
func Definitions() []Definition {
	return []Definition{Instagram(), TikTok(), Facebook(), Twitter()}
}

// Registry is the ordered, immutable set of enabled platforms.
type Registry struct {
	platforms []domain.Platform
}

// NewRegistry builds every enabled platform with its resolver chain.
func NewRegistry(deps Deps, pf PolicyFile) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{}
	for _, def := range Definitions() {
		enabled, policy, order, timeouts, err := pf.apply(def)
		if err != nil {
			return nil, err
		}
		if !enabled {
			deps.Logger.Info("platform disabled by policy", "platform", def.Tag)
			continue
		}

		strategies := make([]domain.Strategy, 0, len(order))
		for _, name := range order {
			s, err := buildStrategy(name, deps, timeouts[name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", def.Tag, err)
			}
			if s == nil {
				deps.Logger.Debug("strategy disabled", "platform", def.Tag, "strategy", name)
				continue
			}
			strategies = append(strategies, s)
		}

		chain := resolver.NewChain(resolver.ChainConfig{
			Platform:       def.Tag,
			Strategies:     strategies,
			Compressor:     deps.Compressor,
			MaxUploadBytes: deps.MaxUploadBytes,
			Logger:         deps.Logger,
			Observer:       deps.Observer,
			Checker:        resolver.HTTPChecker{Client: deps.HTTPClient, Logger: deps.Logger},
		})
		if deps.DispatchTimeout > 0 && chain.Budget() > deps.DispatchTimeout {
			deps.Logger.Warn("platform chain can outlast the dispatch timeout, later strategies may never run",
				"platform", def.Tag, "budget", chain.Budget(), "dispatch_timeout", deps.DispatchTimeout)
		}
		r.platforms = append(r.platforms, newHandler(def, policy, chain))
		deps.Logger.Debug("platform registered", "platform", def.Tag, "chain", chain.Name())
	}
	return r, nil
}

// NewStaticRegistry wraps already-built platforms, in order.
func NewStaticRegistry(platforms ...domain.Platform) *Registry {
	return &Registry{platforms: platforms}
}

func (r *Registry) All() []domain.Platform { return r.platforms }

// OverBudget lists the platforms whose chain timeouts add up to more than
// limit, formatted as "tag (budget)".
func (r *Registry) OverBudget(limit time.Duration) []string {
	var out []string
	for _, p := range r.platforms {
		h, ok := p.(*Handler)
		if !ok {
			continue
		}
		if b := h.Chain().Budget(); b > limit {
			out = append(out, fmt.Sprintf("%s (%s)", p.Tag(), b))
		}
	}
	return out
}

func (r *Registry) Get(tag domain.PlatformTag) (domain.Platform, bool) {
	for _, p := range r.platforms {
		if p.Tag() == tag {
			return p, true
		}
	}
	return nil, false
}

// Select picks the platform for text: among matching platforms the one
// whose link starts earliest wins, ties go to registry order.
func (r *Registry) Select(text string) (domain.Platform, bool) {
	var best domain.Platform
	bestIdx := -1
	for _, p := range r.platforms {
		if !p.Match(text) {
			continue
		}
		idx := p.Index(text)
		if idx < 0 {
			continue
		}
		if best == nil || idx < bestIdx {
			best, bestIdx = p, idx
		}
	}
	return best, best != nil
}
