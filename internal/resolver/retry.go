package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const (
	maxRetries  = 2
	retryBase   = 500 * time.Millisecond
	maxBodyKeep = 512
)

// doWithRetry executes an HTTP request, retrying network failures, 5xx and
// 429 with jittered backoff. The strategy's deadline bounds the whole loop.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func(context.Context) (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBase
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Debug("retrying request", "attempt", attempt+1, "backoff", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := buildReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			if attempt < maxRetries {
				logger.Debug("request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyKeep))
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %s", badStatus(resp.StatusCode), body)
			if attempt < maxRetries {
				logger.Debug("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, lastErr
		}

		return resp, nil
	}

	return nil, lastErr
}
