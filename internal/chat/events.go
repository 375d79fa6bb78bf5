package chat

import (
	"encoding/json"
	"sync/atomic"

	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/llm"
)

// EventType identifies a run event.
type EventType string

const (
	// EventStarted is emitted once the request is built and the run is about
	// to hit the network.
	EventStarted EventType = "started"
	// EventTextDelta carries an incremental chunk of assistant text.
	EventTextDelta EventType = "text_delta"
	// EventThinkingDelta carries an incremental chunk of model reasoning.
	EventThinkingDelta EventType = "thinking_delta"
	// EventToolStart announces a tool invocation before it executes.
	EventToolStart EventType = "tool_start"
	// EventToolComplete carries the result of a finished tool invocation.
	EventToolComplete EventType = "tool_complete"
	// EventComplete is terminal: the assistant message was persisted.
	EventComplete EventType = "complete"
	// EventCancelled is terminal: the run was cancelled and the partial
	// output persisted.
	EventCancelled EventType = "cancelled"
	// EventError is terminal: the run failed and nothing was persisted for
	// the assistant turn.
	EventError EventType = "error"
)

// Event is a single update on a run's event stream. Exactly one of
// EventComplete, EventCancelled, or EventError ends the stream; the channel
// is closed right after it.
type Event struct {
	Type           EventType
	RunID          string
	ConversationID string

	// Delta text for EventTextDelta / EventThinkingDelta
	Text string

	// Tool fields for EventToolStart / EventToolComplete
	ToolCallID  string
	ToolName    string
	ToolArgs    json.RawMessage
	ToolResult  string
	ToolIsError bool

	// Terminal payloads
	Message *conversation.Message // persisted assistant message (Complete, Cancelled)
	Usage   *llm.Usage            // accumulated usage (Complete)
	Err     *ServiceError         // what went wrong (Error)
}

// RunHandle identifies an in-flight run and carries its event stream.
type RunHandle struct {
	ID             string
	ConversationID string

	events    chan Event
	cancelCh  chan struct{}
	cancelled atomic.Bool
	done      atomic.Bool
}

func newRunHandle(id, conversationID string) *RunHandle {
	return &RunHandle{
		ID:             id,
		ConversationID: conversationID,
		events:         make(chan Event, 256),
		cancelCh:       make(chan struct{}),
	}
}

// Events returns the run's event stream. The channel is closed after the
// terminal event.
func (h *RunHandle) Events() <-chan Event {
	return h.events
}

// Done reports whether the run has reached a terminal state.
func (h *RunHandle) Done() bool {
	return h.done.Load()
}

// tryCancel requests cancellation. It returns false when the run already
// finished or was already cancelled, so a second Cancel can be rejected.
func (h *RunHandle) tryCancel() bool {
	if h.done.Load() {
		return false
	}
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	close(h.cancelCh)
	return true
}

func (h *RunHandle) wasCancelled() bool {
	return h.cancelled.Load()
}
