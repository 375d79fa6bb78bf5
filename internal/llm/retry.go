package llm

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig bounds the retry loop around a provider.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// retryingProvider re-issues a request when it fails before producing any
// output. Once an event has reached the consumer the request is never
// replayed, since that would duplicate deltas the caller already rendered;
// mid-stream failures surface as errors instead.
type retryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WrapWithRetry decorates a provider with bounded retries on transient
// failures.
func WrapWithRetry(p Provider, cfg RetryConfig) Provider {
	return &retryingProvider{inner: p, cfg: cfg}
}

func (r *retryingProvider) Name() string {
	return r.inner.Name()
}

func (r *retryingProvider) Capabilities() Capabilities {
	return r.inner.Capabilities()
}

func (r *retryingProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for attempt := 1; ; attempt++ {
			delivered, err := r.attempt(ctx, req, events)
			if err == nil {
				return nil
			}
			if delivered || !isRetryable(err) || attempt >= r.cfg.MaxAttempts {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			wait := backoffDelay(r.cfg, attempt, err)
			events <- Event{
				Type:             EventRetry,
				RetryAttempt:     attempt,
				RetryMaxAttempts: r.cfg.MaxAttempts,
				RetryWaitSecs:    wait.Seconds(),
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}), nil
}

// attempt runs one streaming request end to end, forwarding events
// downstream. It reports whether anything was forwarded before the failure.
func (r *retryingProvider) attempt(ctx context.Context, req Request, events chan<- Event) (delivered bool, err error) {
	stream, err := r.inner.Stream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		// Mid-stream failures can arrive as error events (a 429 after
		// headers); unwrap them so the retry loop sees the cause.
		if event.Type == EventError && event.Err != nil {
			return delivered, event.Err
		}

		select {
		case events <- event:
			delivered = true
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

// transientMarkers are substrings of provider errors that indicate a failure
// worth another attempt.
var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"502", "bad gateway",
	"503", "service unavailable", "overloaded",
	"connection refused", "connection reset", "no such host",
	"timeout", "deadline exceeded", "temporary failure",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return !rle.IsLongWait()
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryAfterHint matches Retry-After values embedded in error messages.
var retryAfterHint = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// backoffDelay picks the wait before the next attempt: a server-provided
// retry-after when available, otherwise exponential backoff with jitter.
func backoffDelay(cfg RetryConfig, attempt int, err error) time.Duration {
	if hinted := retryAfterFrom(err); hinted > 0 {
		if hinted > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
		return hinted
	}

	backoff := float64(cfg.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff // +/- 25% jitter
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// retryAfterFrom extracts a retry-after duration from a rate limit error or
// from the message text.
func retryAfterFrom(err error) time.Duration {
	if err == nil {
		return 0
	}
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	if m := retryAfterHint.FindStringSubmatch(err.Error()); len(m) > 1 {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
