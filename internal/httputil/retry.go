// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the fetch-with-retry primitive shared by every
// source adapter.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdiddy/ctmirror/pkg/types"
)

// RetryBaseDelay is the first pause between attempts. Later pauses double
// and are randomised by ±50%. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// RetryMaxDelay caps a single pause.
var RetryMaxDelay = time.Minute

const (
	DefaultMaxAttempts = 4
	defaultTimeout     = 60 * time.Second
	defaultUserAgent   = "ctmirror/0.1"
)

// FetchError is returned once a request has used up its attempts, or hit a
// status that retrying cannot fix. Callers usually log it and move on to
// the next unit of work.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client performs GET (and form POST) requests with bounded retries.
type Client struct {
	http        *resty.Client
	maxAttempts int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewClient builds a Client from cfg. Zero values select the defaults:
// 60 s timeout, 4 attempts.
func NewClient(cfg types.HTTPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", ua)

	return &Client{
		http:        rc,
		maxAttempts: maxAttempts,
		logger:      logger,
		tracer:      otel.Tracer("github.com/pdiddy/ctmirror/internal/httputil"),
	}
}

// MaxAttempts returns the configured attempt budget.
func (c *Client) MaxAttempts() int { return c.maxAttempts }

// Fetch GETs rawURL and returns the response body.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil)
}

// Do sends one logical request, retrying transport errors and retryable
// statuses (5xx, 408, 429) until the attempt budget is spent. For GET the
// params go in the query string; for POST they are sent as a form body.
//
// Every failure comes back as a *FetchError. A cancelled context stops the
// wait between attempts.
func (c *Client) Do(ctx context.Context, method, rawURL string, params url.Values) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "httputil.Do", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", rawURL),
	))
	defer span.End()

	wait := newBackoff()
	fail := &FetchError{URL: rawURL}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		fail.Attempts = attempt
		body, status, err := c.once(ctx, method, rawURL, params)
		if err == nil {
			span.SetAttributes(attribute.Int("http.attempts", attempt))
			return body, nil
		}
		fail.StatusCode = status
		fail.Err = err

		if status != 0 && !retryable(status) {
			c.logger.WarnContext(ctx, "request rejected", "url", rawURL, "status", status, "attempt", attempt)
			break
		}

		if attempt == c.maxAttempts {
			c.logger.ErrorContext(ctx, "request failed, giving up",
				"url", rawURL, "attempts", attempt, "error", err)
			break
		}

		pause := wait.NextBackOff()
		if attempt >= 2 {
			c.logger.WarnContext(ctx, "request failed, retrying",
				"url", rawURL, "attempt", attempt, "max_attempts", c.maxAttempts,
				"backoff", pause, "error", err)
		} else {
			c.logger.DebugContext(ctx, "request failed, retrying",
				"url", rawURL, "attempt", attempt, "backoff", pause, "error", err)
		}

		select {
		case <-ctx.Done():
			fail.Err = ctx.Err()
			span.RecordError(fail)
			span.SetStatus(codes.Error, "cancelled")
			return nil, fail
		case <-time.After(pause):
		}
	}

	span.RecordError(fail)
	span.SetStatus(codes.Error, "request failed")
	return nil, fail
}

func (c *Client) once(ctx context.Context, method, rawURL string, params url.Values) ([]byte, int, error) {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		if method == http.MethodPost {
			req.SetFormDataFromValues(params)
		} else {
			req.SetQueryParamsFromValues(params)
		}
	}

	resp, err := req.Execute(method, rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
		}
		return nil, 0, err
	}
	if !resp.IsSuccess() {
		return nil, resp.StatusCode(), fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return resp.Body(), resp.StatusCode(), nil
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryBaseDelay
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = RetryMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Excerpt returns at most n bytes of b as a string, marking truncation. It
// keeps logged payloads short.
func Excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
