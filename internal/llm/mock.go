package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn scripts one provider turn for tests. Err, when set, fails the
// turn after any scripted content has streamed, so a turn with both Text and
// Err models a mid-stream failure.
type MockTurn struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error
	Delay     time.Duration // wait before emitting anything
}

// MockProvider is a scriptable provider for tests. Each Stream call consumes
// the next scripted turn and records the request it was given.
type MockProvider struct {
	mu       sync.Mutex
	name     string
	caps     Capabilities
	turns    []MockTurn
	turn     int
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		caps: Capabilities{ToolCalls: true},
	}
}

func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

// AddTextResponse scripts a turn that streams the given text and completes.
func (p *MockProvider) AddTextResponse(text string) {
	p.AddTurn(MockTurn{Text: text})
}

// AddToolCall scripts a turn that requests a single tool invocation.
func (p *MockProvider) AddToolCall(id, name string, args any) {
	raw, _ := json.Marshal(args)
	p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError scripts a turn that fails with the given error.
func (p *MockProvider) AddError(err error) {
	p.AddTurn(MockTurn{Err: err})
}

func (p *MockProvider) AddTurn(turn MockTurn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
}

// Reset clears recorded requests and rewinds to the first scripted turn.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = nil
	p.turn = 0
}

// CurrentTurn returns the index of the next turn to be consumed.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn
}

func (p *MockProvider) Name() string {
	return p.name
}

func (p *MockProvider) Capabilities() Capabilities {
	return p.caps
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	if p.turn >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %q: no scripted turn for request %d", p.name, p.turn+1)
	}
	turn := p.turns[p.turn]
	p.turn++
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(turn.Delay):
			}
		}
		if turn.Thinking != "" {
			events <- Event{Type: EventThinkingDelta, Text: turn.Thinking}
		}
		for _, chunk := range chunkText(turn.Text, 16) {
			events <- Event{Type: EventTextDelta, Text: chunk}
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if turn.Err != nil {
			return turn.Err
		}
		if turn.Usage != nil {
			events <- Event{Type: EventUsage, Use: turn.Usage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// chunkText splits text into fixed-size pieces so tests exercise real
// incremental delivery instead of a single delta.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > size {
		chunks = append(chunks, string(runes[:size]))
		runes = runes[size:]
	}
	return append(chunks, string(runes))
}
