package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryProvider_SucceedsAfterTransientFailure(t *testing.T) {
	p := NewMockProvider("flaky")
	p.AddError(errors.New("503 service unavailable"))
	p.AddTextResponse("recovered")

	retry := WrapWithRetry(p, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := retry.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := collectStream(t, stream)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	sawRetry := false
	var text string
	for _, ev := range events {
		switch ev.Type {
		case EventRetry:
			sawRetry = true
		case EventTextDelta:
			text += ev.Text
		}
	}
	if !sawRetry {
		t.Error("expected a retry event before the successful turn")
	}
	if text != "recovered" {
		t.Errorf("text = %q, want %q", text, "recovered")
	}
}

func TestRetryProvider_NoRetryAfterOutputDelivered(t *testing.T) {
	p := NewMockProvider("midstream")
	p.AddTurn(MockTurn{Text: "partial answer", Err: errors.New("503 service unavailable")})
	p.AddTextResponse("never requested")

	retry := WrapWithRetry(p, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := retry.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := collectStream(t, stream)
	if err == nil {
		t.Fatal("expected the mid-stream failure to surface")
	}

	var text string
	for _, ev := range events {
		switch ev.Type {
		case EventRetry:
			t.Error("retry after output would duplicate already-delivered deltas")
		case EventTextDelta:
			text += ev.Text
		}
	}
	if text != "partial answer" {
		t.Errorf("text = %q, want the partial output delivered once", text)
	}
	if len(p.Requests) != 1 {
		t.Errorf("expected a single attempt, got %d", len(p.Requests))
	}
}

func TestRetryProvider_GivesUpOnPermanentError(t *testing.T) {
	wantErr := errors.New("invalid request")
	p := NewMockProvider("broken")
	p.AddError(wantErr)

	retry := WrapWithRetry(p, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := retry.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if _, err := collectStream(t, stream); !errors.Is(err, wantErr) {
		t.Errorf("Recv() error = %v, want %v", err, wantErr)
	}
	if len(p.Requests) != 1 {
		t.Errorf("expected no retries for permanent error, got %d attempts", len(p.Requests))
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 too many requests"), true},
		{errors.New("connection refused"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("invalid api key"), false},
		{&RateLimitError{Message: "slow down", RetryAfter: 10 * time.Second}, true},
		{&RateLimitError{Message: "come back later", RetryAfter: 10 * time.Minute}, false},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackoffDelay_HonorsRetryAfter(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}

	wait := backoffDelay(cfg, 1, errors.New("429: retry-after: 7"))
	if wait != 7*time.Second {
		t.Errorf("wait = %v, want 7s", wait)
	}

	wait = backoffDelay(cfg, 1, &RateLimitError{RetryAfter: 2 * time.Minute})
	if wait != 30*time.Second {
		t.Errorf("wait = %v, want cap of 30s", wait)
	}
}
