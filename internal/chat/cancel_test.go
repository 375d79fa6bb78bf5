package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/llm"
)

// hangingProvider streams one text delta, signals delivery, then blocks until
// the request context is cancelled. It makes mid-stream cancellation
// deterministic.
type hangingProvider struct {
	delta     string
	delivered chan struct{}
}

func newHangingProvider(delta string) *hangingProvider {
	return &hangingProvider{delta: delta, delivered: make(chan struct{})}
}

func (p *hangingProvider) Name() string                   { return "hanging" }
func (p *hangingProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (p *hangingProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return &hangingStream{ctx: ctx, provider: p}, nil
}

type hangingStream struct {
	ctx      context.Context
	provider *hangingProvider
	sent     bool
}

func (s *hangingStream) Recv() (llm.Event, error) {
	if !s.sent && s.provider.delta != "" {
		s.sent = true
		defer close(s.provider.delivered)
		return llm.Event{Type: llm.EventTextDelta, Text: s.provider.delta}, nil
	}
	if !s.sent {
		s.sent = true
		close(s.provider.delivered)
	}
	<-s.ctx.Done()
	return llm.Event{}, s.ctx.Err()
}

func (s *hangingStream) Close() error { return nil }

func TestCancelMidStreamPersistsPartial(t *testing.T) {
	provider := newHangingProvider("Partial answer")
	svc, store := newTestService(t, provider, nil)

	handle, err := svc.SendMessage(context.Background(), SendRequest{Text: "long question"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case <-provider.delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("provider never delivered the first delta")
	}
	if err := svc.Cancel(handle.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	events := collectEvents(t, handle)
	final := assertTerminal(t, events, EventCancelled)
	if final.Message == nil {
		t.Fatal("cancelled event carried no message")
	}
	if final.Message.Content != "Partial answer\n\n[cancelled]" {
		t.Errorf("content = %q", final.Message.Content)
	}
	if !final.Message.Cancelled {
		t.Error("persisted message not flagged cancelled")
	}

	msgs, err := store.GetMessages(context.Background(), handle.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + partial assistant, got %d messages", len(msgs))
	}
	if !strings.HasSuffix(msgs[1].Content, "[cancelled]") || !msgs[1].Cancelled {
		t.Errorf("persisted partial = %+v", msgs[1])
	}
}

func TestCancelBeforeAnyOutput(t *testing.T) {
	provider := newHangingProvider("")
	svc, store := newTestService(t, provider, nil)

	handle, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case <-provider.delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}
	if err := svc.Cancel(handle.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	events := collectEvents(t, handle)
	final := assertTerminal(t, events, EventCancelled)
	if final.Message.Content != "[cancelled]" {
		t.Errorf("content = %q, want bare [cancelled]", final.Message.Content)
	}

	msgs, _ := store.GetMessages(context.Background(), handle.ConversationID)
	if len(msgs) != 2 || !msgs[1].Cancelled {
		t.Errorf("persisted messages = %+v", msgs)
	}
}

func TestSecondCancelConflicts(t *testing.T) {
	provider := newHangingProvider("some text")
	svc, _ := newTestService(t, provider, nil)

	handle, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case <-provider.delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}
	if err := svc.Cancel(handle.ID); err != nil {
		t.Fatalf("first Cancel() error = %v", err)
	}
	requireCode(t, svc.Cancel(handle.ID), CodeConflict)

	assertTerminal(t, collectEvents(t, handle), EventCancelled)
}

func TestCancelledRunFreesConversation(t *testing.T) {
	provider := newHangingProvider("text")
	svc, _ := newTestService(t, provider, nil)

	handle, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	<-provider.delivered
	if err := svc.Cancel(handle.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	assertTerminal(t, collectEvents(t, handle), EventCancelled)

	if active := svc.ActiveRun(handle.ConversationID); active != nil {
		t.Error("conversation still marked active after cancellation")
	}
}
