package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func collectStream(t *testing.T, stream Stream) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestMockProvider_BasicInfo(t *testing.T) {
	p := NewMockProvider("test-mock")

	if got := p.Name(); got != "test-mock" {
		t.Errorf("Name() = %q, want %q", got, "test-mock")
	}

	caps := p.Capabilities()
	if !caps.ToolCalls {
		t.Error("expected ToolCalls to be true by default")
	}
}

func TestMockProvider_StreamTextResponse(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTextResponse("Hello, world!")

	stream, err := p.Stream(context.Background(), Request{
		Messages: []Message{UserText("Hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := collectStream(t, stream)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	var text strings.Builder
	sawDone := false
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventDone:
			sawDone = true
		}
	}
	if text.String() != "Hello, world!" {
		t.Errorf("accumulated text = %q, want %q", text.String(), "Hello, world!")
	}
	if !sawDone {
		t.Error("expected a done event")
	}
	if len(p.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(p.Requests))
	}
}

func TestMockProvider_StreamToolCall(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call_123", "read_file", map[string]string{"path": "main.go"})

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := collectStream(t, stream)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	var call *ToolCall
	for _, ev := range events {
		if ev.Type == EventToolCall {
			call = ev.Tool
		}
	}
	if call == nil {
		t.Fatal("expected a tool call event")
	}
	if call.ID != "call_123" || call.Name != "read_file" {
		t.Errorf("tool call = %s/%s, want call_123/read_file", call.ID, call.Name)
	}
	if !strings.Contains(string(call.Arguments), "main.go") {
		t.Errorf("arguments missing path: %s", call.Arguments)
	}
}

func TestMockProvider_NoMoreTurns(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTextResponse("Hello")

	stream1, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("first Stream() error = %v", err)
	}
	if _, err := collectStream(t, stream1); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	stream1.Close()

	if _, err := p.Stream(context.Background(), Request{}); err == nil {
		t.Error("expected error when no scripted turns remain")
	}
}

func TestMockProvider_Error(t *testing.T) {
	testErr := errors.New("scripted failure")
	p := NewMockProvider("test")
	p.AddError(testErr)

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	_, err = collectStream(t, stream)
	if !errors.Is(err, testErr) {
		t.Errorf("Recv() error = %v, want %v", err, testErr)
	}
}

func TestMockProvider_CancelDuringDelay(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTurn(MockTurn{Text: "never delivered", Delay: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Stream(ctx, Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	cancel()

	_, err = stream.Recv()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Recv() error = %v, want context.Canceled", err)
	}
}

func TestMockProvider_Reset(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTextResponse("Hello")

	stream, _ := p.Stream(context.Background(), Request{})
	collectStream(t, stream)
	stream.Close()

	if len(p.Requests) != 1 {
		t.Errorf("expected 1 request, got %d", len(p.Requests))
	}

	p.Reset()

	if len(p.Requests) != 0 {
		t.Errorf("expected 0 requests after reset, got %d", len(p.Requests))
	}
	if p.CurrentTurn() != 0 {
		t.Errorf("expected turn index 0 after reset, got %d", p.CurrentTurn())
	}

	stream2, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() after reset error = %v", err)
	}
	stream2.Close()
}

func TestMockProvider_ThinkingTurn(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTurn(MockTurn{Thinking: "pondering", Text: "answer"})

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := collectStream(t, stream)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	var thinking, text strings.Builder
	thinkingBeforeText := true
	for _, ev := range events {
		switch ev.Type {
		case EventThinkingDelta:
			if text.Len() > 0 {
				thinkingBeforeText = false
			}
			thinking.WriteString(ev.Text)
		case EventTextDelta:
			text.WriteString(ev.Text)
		}
	}
	if thinking.String() != "pondering" {
		t.Errorf("thinking = %q, want %q", thinking.String(), "pondering")
	}
	if text.String() != "answer" {
		t.Errorf("text = %q, want %q", text.String(), "answer")
	}
	if !thinkingBeforeText {
		t.Error("thinking deltas should precede text deltas")
	}
}
