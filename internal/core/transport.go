// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sapcc/tabularium/internal/util"
)

// maxRetryAfter caps how long an upstream Retry-After header can make us
// wait.
const maxRetryAfter = 30 * time.Second

// RetryingTransport is an http.RoundTripper that retries 429, 5xx and
// network failures with exponential backoff.
//
// Responses with other status codes are returned as-is after exactly one
// attempt; converting 4xx into typed errors is the caller's business. When
// all attempts fail retriably, the result is a RetryExhaustedError.
type RetryingTransport struct {
	Inner  http.RoundTripper
	Config RetryConfiguration
	// Sleep is overridable for tests. It must return early with the context's
	// error when the context is cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RoundTrip implements the http.RoundTripper interface.
func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	maxAttempts := t.Config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attemptsMade := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			var ok bool
			req, ok = rewindRequest(req)
			if !ok {
				break
			}
		}
		attemptsMade++

		resp, err := t.Inner.RoundTrip(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Classify(ErrClassCancelled, err)
			}
			lastErr = err
			if attempt+1 < maxAttempts {
				if sleepErr := t.sleep(ctx, t.backoffDelay(attempt)); sleepErr != nil {
					return nil, Classify(ErrClassCancelled, sleepErr)
				}
			}
			continue
		}

		if resp.StatusCode != 429 && resp.StatusCode < 500 {
			return resp, nil
		}

		lastErr = NewHTTPError(req.Method, req.URL.String(), resp.StatusCode)
		delay := t.backoffDelay(attempt)
		if resp.StatusCode == 429 {
			if retryAfter, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				delay = retryAfter
			}
		}
		discardResponse(resp)

		if attempt+1 < maxAttempts {
			if sleepErr := t.sleep(ctx, delay); sleepErr != nil {
				return nil, Classify(ErrClassCancelled, sleepErr)
			}
		}
	}

	return nil, RetryExhaustedError{
		URL:      req.URL.String(),
		Attempts: attemptsMade,
		LastErr:  lastErr,
	}
}

// BackoffDelay computes `base * 2^attempt` plus up to one extra base delay
// of jitter, capped at the configured maximum. Attempt counting starts at
// zero. The same schedule applies to HTTP-level retries and to the ingest
// pipeline's iteration retries.
func BackoffDelay(cfg RetryConfiguration, attempt int) time.Duration {
	base := cfg.BaseDelay.Into()
	if base <= 0 {
		base = 1 * time.Second
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if cfg.JitterEnabled() {
		delay += time.Duration(rand.Float64() * float64(base))
	}
	maxDelay := cfg.MaxDelay.Into()
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func (t *RetryingTransport) backoffDelay(attempt int) time.Duration {
	return BackoffDelay(t.Config, attempt)
}

func (t *RetryingTransport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter understands both forms of the Retry-After header, delay
// seconds and HTTP-date.
func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return min(time.Duration(seconds)*time.Second, maxRetryAfter), true
	}
	if date, err := http.ParseTime(header); err == nil {
		delay := time.Until(date)
		if delay < 0 {
			delay = 0
		}
		return min(delay, maxRetryAfter), true
	}
	return 0, false
}

// rewindRequest prepares a request for another attempt. Requests with
// one-shot bodies cannot be retried.
func rewindRequest(req *http.Request) (*http.Request, bool) {
	if req.Body == nil {
		return req, true
	}
	if req.GetBody == nil {
		return req, false
	}
	body, err := req.GetBody()
	if err != nil {
		return req, false
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, true
}

func discardResponse(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// NewHTTPClient builds the outbound HTTP client shared by all portal
// drivers: a retrying transport per the given configuration, with logging
// on each attempt and a per-attempt response header timeout.
func NewHTTPClient(cfg RetryConfiguration, perAttemptTimeout time.Duration) *http.Client {
	inner := http.DefaultTransport.(*http.Transport).Clone()
	inner.ResponseHeaderTimeout = perAttemptTimeout
	return &http.Client{
		Transport: &RetryingTransport{
			Inner:  util.AddLoggingRoundTripper(inner),
			Config: cfg,
		},
	}
}
