package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/llm"
)

// Conversation is a persisted chat thread.
type Conversation struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	ProfileID    string        `json:"profile_id"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Archived     bool          `json:"archived,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Context      *ContextState `json:"context,omitempty"`
}

// Message is a single persisted message.
type Message struct {
	ID             int64            `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           llm.Role         `json:"role"`
	Content        string           `json:"content"`
	Thinking       string           `json:"thinking,omitempty"`
	ModelID        string           `json:"model_id,omitempty"` // set on assistant messages only
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	Cancelled      bool             `json:"cancelled,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Sequence       int              `json:"sequence"`
}

// ToolCallRecord captures one tool invocation made while producing a message.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContextState caches the result of compressing a conversation's history so
// repeated sends do not re-summarize an unchanged middle section.
type ContextState struct {
	Strategy     string    `json:"strategy"` // "sandwich"
	Summary      string    `json:"summary"`
	Start        int       `json:"start"` // first summarized message index, inclusive
	End          int       `json:"end"`   // last summarized message index, exclusive
	CompressedAt time.Time `json:"compressed_at"`
}

// ValidFor reports whether the cached state still covers the middle section
// of a history with messageCount messages given the preserved edges.
func (s *ContextState) ValidFor(messageCount, preserveTop, preserveBottom int) bool {
	if s == nil || s.Strategy != "sandwich" {
		return false
	}
	return s.Start == preserveTop && s.End == messageCount-preserveBottom
}

// Summary is a lightweight view of a conversation for listing.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ProfileID    string    `json:"profile_id"`
	MessageCount int       `json:"message_count"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListOptions configures conversation listing.
type ListOptions struct {
	ProfileID string // filter by profile
	Limit     int    // max results (0 = default)
	Offset    int    // pagination offset
	Archived  bool   // include archived conversations
}

// SearchResult represents a full-text search match.
type SearchResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	Title          string    `json:"title,omitempty"`
	Snippet        string    `json:"snippet"`
	CreatedAt      time.Time `json:"created_at"`
}

// TruncateTitle returns the first line of content, truncated to 100 chars.
func TruncateTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}

// toolCallsJSON serializes tool call records for storage.
func (m *Message) toolCallsJSON() (string, error) {
	if len(m.ToolCalls) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// setToolCallsFromJSON deserializes tool call records from storage.
func (m *Message) setToolCallsFromJSON(data string) error {
	if data == "" {
		m.ToolCalls = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.ToolCalls)
}
