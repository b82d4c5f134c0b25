package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const maxAPIBodyBytes = 4 << 20

// Decoder turns a hosted API response body into a result.
type Decoder func(body []byte) (domain.Result, error)

// QueryFunc builds the query string sent to a hosted API.
type QueryFunc func(link domain.PlatformLink) (url.Values, error)

// HostedAPI submits the post URL to a third-party resolver service and
// decodes the media URL from its JSON response. The response schema is
// untrusted: missing fields are ErrBadResponse.
type HostedAPI struct {
	name     string
	endpoint string
	timeout  time.Duration
	client   *http.Client
	decode   Decoder
	query    QueryFunc
	logger   *slog.Logger
}

type HostedAPIConfig struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
	Decode   Decoder
	Query    QueryFunc // default: url=<link>
	Logger   *slog.Logger
}

func NewHostedAPI(cfg HostedAPIConfig) *HostedAPI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Query == nil {
		cfg.Query = urlQuery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HostedAPI{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		decode:   cfg.Decode,
		query:    cfg.Query,
		logger:   cfg.Logger,
	}
}

func (h *HostedAPI) Name() string           { return h.name }
func (h *HostedAPI) Timeout() time.Duration { return h.timeout }

func (h *HostedAPI) Attempt(ctx context.Context, link domain.PlatformLink) (domain.Result, error) {
	q, err := h.query(link)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	sep := "?"
	if strings.Contains(h.endpoint, "?") {
		sep = "&"
	}
	reqURL := h.endpoint + sep + q.Encode()

	resp, err := doWithRetry(ctx, h.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", BrowserUserAgent)
		return req, nil
	}, h.logger)
	if err != nil {
		return domain.UnresolvedResult(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.UnresolvedResult(), badStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBodyBytes))
	if err != nil {
		return domain.UnresolvedResult(), fmt.Errorf("read body: %w", err)
	}
	return h.decode(body)
}

func urlQuery(link domain.PlatformLink) (url.Values, error) {
	return url.Values{"url": {link.URL}}, nil
}

// --- Instagram: instagram-stories-api ---

type instagramAPIResponse struct {
	Error       json.RawMessage `json:"error"`
	MediaType   string          `json:"media_type"`
	DownloadURL string          `json:"download_url"`
}

// DecodeInstagramAPI reads {error, media_type: video|image, download_url}.
func DecodeInstagramAPI(body []byte) (domain.Result, error) {
	var r instagramAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.UnresolvedResult(), badResponse("decode: %v", err)
	}
	switch e := strings.TrimSpace(string(r.Error)); e {
	case "", "null", "false", `""`:
	default:
		return domain.UnresolvedResult(), badResponse("api error: %s", e)
	}
	if r.DownloadURL == "" {
		return domain.UnresolvedResult(), badResponse("missing download_url")
	}
	switch r.MediaType {
	case "video":
		return domain.VideoURLResult(r.DownloadURL), nil
	case "image":
		return domain.PhotoURLResult(r.DownloadURL), nil
	default:
		return domain.UnresolvedResult(), badResponse("unknown media_type %q", r.MediaType)
	}
}

// --- TikTok: tikwm ---

const tikwmOrigin = "https://www.tikwm.com"

type tikwmResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Play   string   `json:"play"`
		Images []string `json:"images"`
	} `json:"data"`
}

// DecodeTikwm accepts code 0 with data.play (video) or data.images (photo post).
func DecodeTikwm(body []byte) (domain.Result, error) {
	var r tikwmResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.UnresolvedResult(), badResponse("decode: %v", err)
	}
	if r.Code != 0 {
		return domain.UnresolvedResult(), badResponse("tikwm code %d: %s", r.Code, r.Msg)
	}
	if r.Data == nil {
		return domain.UnresolvedResult(), badResponse("missing data")
	}
	if r.Data.Play != "" {
		return domain.VideoURLResult(absoluteURL(tikwmOrigin, r.Data.Play)), nil
	}
	if len(r.Data.Images) > 0 && r.Data.Images[0] != "" {
		return domain.PhotoURLResult(absoluteURL(tikwmOrigin, r.Data.Images[0])), nil
	}
	return domain.UnresolvedResult(), badResponse("missing data.play")
}

// --- TikTok: tiktokdownload ---

type tiktokDownloadResponse struct {
	Success  bool   `json:"success"`
	VideoURL string `json:"video_url"`
}

// DecodeTikTokDownload accepts {success: true, video_url}.
func DecodeTikTokDownload(body []byte) (domain.Result, error) {
	var r tiktokDownloadResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.UnresolvedResult(), badResponse("decode: %v", err)
	}
	if !r.Success || r.VideoURL == "" {
		return domain.UnresolvedResult(), badResponse("success=%v video_url=%q", r.Success, r.VideoURL)
	}
	return domain.VideoURLResult(r.VideoURL), nil
}

// --- Twitter: syndication ---

type syndicationResponse struct {
	MediaDetails []struct {
		Type          string `json:"type"`
		MediaURLHTTPS string `json:"media_url_https"`
		VideoInfo     struct {
			Variants []struct {
				Bitrate     int    `json:"bitrate"`
				ContentType string `json:"content_type"`
				URL         string `json:"url"`
			} `json:"variants"`
		} `json:"video_info"`
	} `json:"mediaDetails"`
}

// SyndicationQuery sends the tweet id; the endpoint requires a token
// parameter but ignores its value.
func SyndicationQuery(link domain.PlatformLink) (url.Values, error) {
	if link.ID == "" {
		return nil, badResponse("link has no tweet id")
	}
	return url.Values{"id": {link.ID}, "token": {"x"}}, nil
}

// DecodeSyndication picks the highest-bitrate mp4 of the first video, or
// the first photo.
func DecodeSyndication(body []byte) (domain.Result, error) {
	var r syndicationResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.UnresolvedResult(), badResponse("decode: %v", err)
	}

	var photo string
	for _, m := range r.MediaDetails {
		switch m.Type {
		case "video", "animated_gif":
			variants := m.VideoInfo.Variants
			sort.SliceStable(variants, func(i, j int) bool { return variants[i].Bitrate > variants[j].Bitrate })
			for _, v := range variants {
				if v.ContentType == "video/mp4" && v.URL != "" {
					return domain.VideoURLResult(v.URL), nil
				}
			}
		case "photo":
			if photo == "" {
				photo = m.MediaURLHTTPS
			}
		}
	}
	if photo != "" {
		return domain.PhotoURLResult(photo), nil
	}
	return domain.UnresolvedResult(), emptyResult("tweet has no media")
}

func absoluteURL(origin, ref string) string {
	if strings.HasPrefix(ref, "/") {
		return origin + ref
	}
	return ref
}
