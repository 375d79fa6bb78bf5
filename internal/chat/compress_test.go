package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/llm"
)

// fakeSummarizer records invocations and returns a fixed summary.
type fakeSummarizer struct {
	calls   int
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

// makeHistory builds n alternating user/assistant messages with contentLen
// bytes each.
func makeHistory(n, contentLen int) []conversation.Message {
	msgs := make([]conversation.Message, n)
	for i := range msgs {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		msgs[i] = conversation.Message{
			Role:     role,
			Content:  fmt.Sprintf("message %d ", i) + strings.Repeat("x", contentLen),
			Sequence: i,
		}
	}
	return msgs
}

func TestCompressorShortHistoryPassthrough(t *testing.T) {
	s := &fakeSummarizer{summary: "unused"}
	c := NewCompressor(s)

	// 12 short messages: over the edge count but far under the threshold
	msgs := makeHistory(12, 40)
	result, err := c.Compress(context.Background(), msgs, nil, 128000)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(result.Messages) != 12 {
		t.Errorf("expected passthrough of 12 messages, got %d", len(result.Messages))
	}
	if result.State != nil {
		t.Error("expected no compression state")
	}
	if s.calls != 0 {
		t.Errorf("summarizer called %d times, want 0", s.calls)
	}
}

func TestCompressorTinyHistoryNeverCompressed(t *testing.T) {
	c := NewCompressor(&fakeSummarizer{})

	// 10 messages is exactly top+bottom; nothing to summarize even if huge
	msgs := makeHistory(10, 100000)
	result, err := c.Compress(context.Background(), msgs, nil, 100)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(result.Messages) != 10 || result.State != nil {
		t.Error("expected passthrough for history within the preserved edges")
	}
}

func TestCompressorSandwich(t *testing.T) {
	s := &fakeSummarizer{summary: "they discussed compilers"}
	c := NewCompressor(s)

	msgs := makeHistory(30, 400)
	result, err := c.Compress(context.Background(), msgs, nil, 1000)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}

	// 5 top + summary + 5 bottom
	if len(result.Messages) != 11 {
		t.Fatalf("expected 11 messages, got %d", len(result.Messages))
	}
	for i := 0; i < 5; i++ {
		if result.Messages[i].Sequence != i {
			t.Errorf("top message %d has sequence %d", i, result.Messages[i].Sequence)
		}
	}
	summaryMsg := result.Messages[5]
	if summaryMsg.Role != llm.RoleSystem || !strings.Contains(summaryMsg.Content, "they discussed compilers") {
		t.Errorf("summary message = %+v", summaryMsg)
	}
	for i := 0; i < 5; i++ {
		want := 25 + i
		if result.Messages[6+i].Sequence != want {
			t.Errorf("bottom message %d has sequence %d, want %d", i, result.Messages[6+i].Sequence, want)
		}
	}

	if result.State == nil {
		t.Fatal("expected compression state")
	}
	if result.State.Start != 5 || result.State.End != 25 {
		t.Errorf("state range = [%d,%d), want [5,25)", result.State.Start, result.State.End)
	}
	if result.Reused {
		t.Error("fresh summary should not be marked reused")
	}
}

func TestCompressorReusesValidCache(t *testing.T) {
	s := &fakeSummarizer{summary: "should not be called"}
	c := NewCompressor(s)

	cached := &conversation.ContextState{
		Strategy:     "sandwich",
		Summary:      "cached summary",
		Start:        5,
		End:          25,
		CompressedAt: time.Now().Add(-time.Hour),
	}
	msgs := makeHistory(30, 400)
	result, err := c.Compress(context.Background(), msgs, cached, 1000)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if s.calls != 0 {
		t.Errorf("summarizer called %d times for a valid cache", s.calls)
	}
	if !result.Reused {
		t.Error("expected cached summary to be reused")
	}
	if !strings.Contains(result.Messages[5].Content, "cached summary") {
		t.Errorf("summary message = %q", result.Messages[5].Content)
	}
}

func TestCompressorStaleCacheResummarizes(t *testing.T) {
	s := &fakeSummarizer{summary: "fresh summary"}
	c := NewCompressor(s)

	// Cache covers a 30-message history; we now have 34
	cached := &conversation.ContextState{Strategy: "sandwich", Summary: "old", Start: 5, End: 25}
	msgs := makeHistory(34, 400)
	result, err := c.Compress(context.Background(), msgs, cached, 1000)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if s.calls != 1 {
		t.Errorf("summarizer called %d times, want 1", s.calls)
	}
	if result.State.End != 29 {
		t.Errorf("state end = %d, want 29", result.State.End)
	}
	if !strings.Contains(result.Messages[5].Content, "fresh summary") {
		t.Errorf("summary message = %q", result.Messages[5].Content)
	}
}

func TestCompressorSummarizeFailureFallsBack(t *testing.T) {
	s := &fakeSummarizer{err: fmt.Errorf("model exploded")}
	c := NewCompressor(s)

	msgs := makeHistory(30, 400)
	result, err := c.Compress(context.Background(), msgs, nil, 1000)
	if err == nil {
		t.Fatal("expected an error from the failed summarization")
	}
	// The uncompressed history still comes back so the run can proceed
	if len(result.Messages) != 30 {
		t.Errorf("expected full history fallback, got %d messages", len(result.Messages))
	}
	if result.State != nil {
		t.Error("expected no state after a failed summarization")
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []conversation.Message{
		{Content: strings.Repeat("a", 400)},
		{Content: strings.Repeat("b", 200)},
	}
	if got := estimateTokens(msgs); got != 150 {
		t.Errorf("estimateTokens = %d, want 150", got)
	}
}
