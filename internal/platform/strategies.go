package platform

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/resolver"
)

// Strategy names as used in chains and the policy file.
const (
	StrategyYTDLPStdout    = "ytdlp-stdout"
	StrategyYTDLPFile      = "ytdlp-file"
	StrategyInstagramAPI   = "instagram-api"
	StrategyDDInstagram    = "mirror-ddinstagram"
	StrategyHTMLScrape     = "html-scrape"
	StrategyRender         = "render"
	StrategyTikwm          = "tikwm"
	StrategyTikTokDownload = "tiktokdownload"
	StrategySyndication    = "syndication"
	StrategyFixupX         = "mirror-fixupx"
)

// Endpoints are the third-party services used by the hosted and mirror
// strategies.
type Endpoints struct {
	InstagramAPI   string `json:"instagram_api"`
	Tikwm          string `json:"tikwm"`
	TikTokDownload string `json:"tiktokdownload"`
	Syndication    string `json:"syndication"`
	DDInstagram    string `json:"ddinstagram"`
	FixupX         string `json:"fixupx"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		InstagramAPI:   "https://instagram-stories-api.vercel.app/api/post",
		Tikwm:          "https://tikwm.com/api/",
		TikTokDownload: "https://api.tiktokdownload.com/api",
		Syndication:    "https://cdn.syndication.twimg.com/tweet-result",
		DDInstagram:    "d.ddinstagram.com",
		FixupX:         "d.fixupx.com",
	}
}

// Deps are the shared collaborators strategies are built from.
type Deps struct {
	YTDLP          resolver.YTDLPConfig
	HTTPClient     *http.Client
	Renderer       resolver.Renderer // nil disables the render strategy
	Compressor     resolver.Compressor
	MaxUploadBytes int
	Endpoints      Endpoints
	Observer       resolver.AttemptObserver
	Logger         *slog.Logger
	// DispatchTimeout, when set, is checked against each chain's budget.
	DispatchTimeout time.Duration
}

type strategyFactory func(d Deps) domain.Strategy

var factories = map[string]strategyFactory{
	StrategyYTDLPStdout: func(d Deps) domain.Strategy { return resolver.NewYTDLPStdout(d.YTDLP) },
	StrategyYTDLPFile:   func(d Deps) domain.Strategy { return resolver.NewYTDLPFile(d.YTDLP) },
	StrategyInstagramAPI: func(d Deps) domain.Strategy {
		return resolver.NewHostedAPI(resolver.HostedAPIConfig{
			Name: StrategyInstagramAPI, Endpoint: d.Endpoints.InstagramAPI, Timeout: 20 * time.Second,
			Client: d.HTTPClient, Decode: resolver.DecodeInstagramAPI, Logger: d.Logger,
		})
	},
	StrategyDDInstagram: func(d Deps) domain.Strategy {
		return resolver.NewMirrorProbe(resolver.MirrorProbeConfig{
			Name: StrategyDDInstagram, Host: d.Endpoints.DDInstagram, Client: d.HTTPClient, Logger: d.Logger,
		})
	},
	StrategyHTMLScrape: func(d Deps) domain.Strategy {
		return resolver.NewHTMLScrape(resolver.HTMLScrapeConfig{Client: d.HTTPClient, Logger: d.Logger})
	},
	StrategyRender: func(d Deps) domain.Strategy {
		if d.Renderer == nil {
			return nil
		}
		return resolver.NewRenderScrape(d.Renderer, 0)
	},
	StrategyTikwm: func(d Deps) domain.Strategy {
		return resolver.NewHostedAPI(resolver.HostedAPIConfig{
			Name: StrategyTikwm, Endpoint: d.Endpoints.Tikwm, Client: d.HTTPClient,
			Decode: resolver.DecodeTikwm, Logger: d.Logger,
		})
	},
	StrategyTikTokDownload: func(d Deps) domain.Strategy {
		return resolver.NewHostedAPI(resolver.HostedAPIConfig{
			Name: StrategyTikTokDownload, Endpoint: d.Endpoints.TikTokDownload, Client: d.HTTPClient,
			Decode: resolver.DecodeTikTokDownload, Logger: d.Logger,
		})
	},
	StrategySyndication: func(d Deps) domain.Strategy {
		return resolver.NewHostedAPI(resolver.HostedAPIConfig{
			Name: StrategySyndication, Endpoint: d.Endpoints.Syndication, Client: d.HTTPClient,
			Decode: resolver.DecodeSyndication, Query: resolver.SyndicationQuery, Logger: d.Logger,
		})
	},
	StrategyFixupX: func(d Deps) domain.Strategy {
		return resolver.NewMirrorProbe(resolver.MirrorProbeConfig{
			Name: StrategyFixupX, Host: d.Endpoints.FixupX, Client: d.HTTPClient, Logger: d.Logger,
		})
	},
}

// StrategyNames lists every known strategy name, sorted.
func StrategyNames() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func knownStrategy(name string) bool {
	_, ok := factories[name]
	return ok
}

// buildStrategy returns nil, nil for a strategy that is known but disabled
// (render without a browser).
func buildStrategy(name string, d Deps, timeout time.Duration) (domain.Strategy, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	s := f(d)
	if s == nil {
		return nil, nil
	}
	if timeout > 0 {
		s = timedStrategy{Strategy: s, timeout: timeout}
	}
	return s, nil
}

// timedStrategy overrides the timeout of a strategy from the policy file.
type timedStrategy struct {
	domain.Strategy
	timeout time.Duration
}

func (t timedStrategy) Timeout() time.Duration { return t.timeout }
