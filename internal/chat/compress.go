package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/llm"
)

const (
	// defaultPreserveTop/Bottom bound the sandwich: the first and last N
	// messages are sent verbatim, everything between gets summarized.
	defaultPreserveTop    = 5
	defaultPreserveBottom = 5

	// compressionThreshold is the fraction of the model's context window at
	// which compression kicks in.
	compressionThreshold = 0.7

	summaryPrompt = `Summarize the following conversation excerpt. Preserve decisions, facts, names, numbers, and open questions. Be concise; the summary replaces these messages in the model's context.`
)

// Summarizer produces a compact summary of a message range.
type Summarizer interface {
	Summarize(ctx context.Context, messages []conversation.Message) (string, error)
}

// Compressor shrinks long histories with a sandwich strategy: keep the edges,
// summarize the middle. Summaries are cached in the conversation's context
// state so an unchanged middle is never re-summarized.
type Compressor struct {
	PreserveTop    int
	PreserveBottom int
	Threshold      float64
	Summarizer     Summarizer
}

// NewCompressor returns a compressor with the default sandwich geometry.
func NewCompressor(s Summarizer) *Compressor {
	return &Compressor{
		PreserveTop:    defaultPreserveTop,
		PreserveBottom: defaultPreserveBottom,
		Threshold:      compressionThreshold,
		Summarizer:     s,
	}
}

// CompressResult is the working message set for a request.
type CompressResult struct {
	Messages []conversation.Message
	// State is non-nil when the result includes a summary. If it differs
	// from the cached state the caller should persist it.
	State *conversation.ContextState
	// Reused is true when the cached summary was still valid.
	Reused bool
}

// estimateTokens approximates token count as total content length / 4.
func estimateTokens(messages []conversation.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

// Compress decides whether the history fits the context window and, if not,
// replaces the middle section with a summary. A summarization failure is
// returned alongside the uncompressed history so the run can proceed.
func (c *Compressor) Compress(ctx context.Context, messages []conversation.Message, cached *conversation.ContextState, contextTokens int) (CompressResult, error) {
	passthrough := CompressResult{Messages: messages}

	if len(messages) <= c.PreserveTop+c.PreserveBottom {
		return passthrough, nil
	}
	if float64(estimateTokens(messages)) <= c.Threshold*float64(contextTokens) {
		return passthrough, nil
	}

	start := c.PreserveTop
	end := len(messages) - c.PreserveBottom

	if cached.ValidFor(len(messages), c.PreserveTop, c.PreserveBottom) {
		return CompressResult{
			Messages: c.sandwich(messages, cached.Summary, start, end),
			State:    cached,
			Reused:   true,
		}, nil
	}

	if c.Summarizer == nil {
		return passthrough, fmt.Errorf("history exceeds context window and no summarizer is configured")
	}
	summary, err := c.Summarizer.Summarize(ctx, messages[start:end])
	if err != nil {
		return passthrough, fmt.Errorf("summarize history: %w", err)
	}

	state := &conversation.ContextState{
		Strategy:     "sandwich",
		Summary:      summary,
		Start:        start,
		End:          end,
		CompressedAt: time.Now(),
	}
	return CompressResult{
		Messages: c.sandwich(messages, summary, start, end),
		State:    state,
	}, nil
}

// sandwich assembles top + summary + bottom.
func (c *Compressor) sandwich(messages []conversation.Message, summary string, start, end int) []conversation.Message {
	out := make([]conversation.Message, 0, start+1+(len(messages)-end))
	out = append(out, messages[:start]...)
	out = append(out, conversation.Message{
		Role:    llm.RoleSystem,
		Content: "Summary of earlier conversation:\n" + summary,
	})
	out = append(out, messages[end:]...)
	return out
}

// ModelSummarizer summarizes history with a model turn.
type ModelSummarizer struct {
	Provider llm.Provider
	Model    string
}

func (s *ModelSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	stream, err := s.Provider.Stream(ctx, llm.Request{
		Model: s.Model,
		Messages: []llm.Message{
			llm.SystemText(summaryPrompt),
			llm.UserText(b.String()),
		},
		ToolChoice: llm.ToolChoice{Mode: llm.ToolChoiceNone},
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var summary strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if ev.Type == llm.EventTextDelta {
			summary.WriteString(ev.Text)
		}
	}
	if strings.TrimSpace(summary.String()) == "" {
		return "", fmt.Errorf("summarizer returned no text")
	}
	return summary.String(), nil
}
