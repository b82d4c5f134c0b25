package resolver

import (
	"context"
	"log/slog"
	"net/http"
)

// URLChecker confirms a resolved media URL answers before it is handed on.
type URLChecker interface {
	Check(ctx context.Context, target string) error
}

// HTTPChecker asks with HEAD and falls back to a one byte ranged GET for
// servers that refuse HEAD. Anything but 200 or 206 is ErrBadStatus.
type HTTPChecker struct {
	Client *http.Client
	Logger *slog.Logger
}

func (h HTTPChecker) Check(ctx context.Context, target string) error {
	client, logger := h.Client, h.Logger
	if client == nil {
		client = SharedHTTPClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	resp, err := fetchHead(ctx, client, target, logger)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// fetchHead returns the answer for target once it is 200 or 206. The caller
// closes the body.
func fetchHead(ctx context.Context, client *http.Client, target string, logger *slog.Logger) (*http.Response, error) {
	resp, err := headRequest(ctx, client, target, http.MethodHead, logger)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.Body.Close()
		logger.Debug("HEAD refused, retrying with ranged GET", "url", target)
		resp, err = headRequest(ctx, client, target, http.MethodGet, logger)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, badStatus(resp.StatusCode)
	}
	return resp, nil
}

func headRequest(ctx context.Context, client *http.Client, target, method string, logger *slog.Logger) (*http.Response, error) {
	return doWithRetry(ctx, client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", BrowserUserAgent)
		if method == http.MethodGet {
			req.Header.Set("Range", "bytes=0-0")
		}
		return req, nil
	}, logger)
}

// acceptAll is used when a chain is built with checking turned off.
type acceptAll struct{}

func (acceptAll) Check(context.Context, string) error { return nil }

// AcceptAll returns a checker that never touches the network.
func AcceptAll() URLChecker { return acceptAll{} }
