package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const maxRetries = 3

// retryBaseDelay is the unit of the quadratic backoff.
var retryBaseDelay = time.Second

// maxRetryAfter bounds how long a Retry-After header may stall a call.
const maxRetryAfter = 10 * time.Second

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff returns the wait before the given attempt: quadratic with jitter,
// or the server's Retry-After when it asked for one.
func backoff(attempt int, last error) time.Duration {
	if re, ok := last.(*retryableError); ok && re.retryAfter > 0 {
		return re.retryAfter
	}
	base := time.Duration(attempt*attempt) * retryBaseDelay
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}

func parseRetryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// doWithRetry executes an HTTP request with backoff retry for transient
// errors (network failures, 5xx, 429). It stops as soon as ctx is done.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, lastErr)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < maxRetries {
				logger.Warn("request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{
				statusCode: resp.StatusCode,
				body:       string(body),
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if attempt < maxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
