package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/logging"
)

// fakeTools is an in-memory ToolProvider for tests.
type fakeTools struct {
	tools map[string]func(ctx context.Context, args json.RawMessage) (string, error)
}

func newFakeTools() *fakeTools {
	return &fakeTools{tools: make(map[string]func(ctx context.Context, args json.RawMessage) (string, error))}
}

func (f *fakeTools) add(name string, fn func(ctx context.Context, args json.RawMessage) (string, error)) {
	f.tools[name] = fn
}

func (f *fakeTools) addStatic(name, result string) {
	f.add(name, func(ctx context.Context, args json.RawMessage) (string, error) {
		return result, nil
	})
}

func (f *fakeTools) ListTools(ctx context.Context) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for name := range f.tools {
		specs = append(specs, llm.ToolSpec{
			Name:   name,
			Schema: map[string]interface{}{"type": "object"},
		})
	}
	return specs
}

func (f *fakeTools) Owns(name string) bool {
	_, ok := f.tools[name]
	return ok
}

func (f *fakeTools) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	fn, ok := f.tools[name]
	if !ok {
		return "", fmt.Errorf("no such tool: %s", name)
	}
	return fn(ctx, args)
}

func TestBridgeExecuteSuccess(t *testing.T) {
	tools := newFakeTools()
	tools.addStatic("clock__now", "12:00")
	bridge := NewBridge(logging.Nop(), tools)

	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "call-1", Name: "clock__now"})
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "12:00" {
		t.Errorf("content = %q", result.Content)
	}
	if result.ID != "call-1" {
		t.Errorf("result ID = %q, want call-1", result.ID)
	}
}

func TestBridgeExecuteUnknownTool(t *testing.T) {
	bridge := NewBridge(logging.Nop(), newFakeTools())

	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "call-1", Name: "ghost"})
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(result.Content, "unknown tool") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestBridgeExecuteToolFailure(t *testing.T) {
	tools := newFakeTools()
	tools.add("broken", func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", fmt.Errorf("disk on fire")
	})
	bridge := NewBridge(logging.Nop(), tools)

	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "c", Name: "broken"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content, "disk on fire") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestBridgeExecuteTimeout(t *testing.T) {
	tools := newFakeTools()
	tools.add("slow", func(ctx context.Context, args json.RawMessage) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})
	bridge := NewBridge(logging.Nop(), tools).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "c", Name: "slow"})
	if !result.IsError {
		t.Fatal("expected timeout to produce an error result")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout did not bound the call")
	}
}

func TestBridgeExecuteRetriesTransientFailure(t *testing.T) {
	attempts := 0
	tools := newFakeTools()
	tools.add("flaky", func(ctx context.Context, args json.RawMessage) (string, error) {
		attempts++
		if attempts == 1 {
			return "", fmt.Errorf("connection refused")
		}
		return "ok", nil
	})
	bridge := NewBridge(logging.Nop(), tools)

	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "c", Name: "flaky"})
	if result.IsError {
		t.Fatalf("expected success after retry, got %s", result.Content)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestBridgeExecutePreservesThoughtSignature(t *testing.T) {
	tools := newFakeTools()
	tools.addStatic("clock__now", "12:00")
	bridge := NewBridge(logging.Nop(), tools)

	sig := []byte("opaque-signature")
	result := bridge.Execute(context.Background(), llm.ToolCall{ID: "c", Name: "clock__now", ThoughtSig: sig})
	if string(result.ThoughtSig) != string(sig) {
		t.Errorf("thought signature not carried through: %q", result.ThoughtSig)
	}
}

func TestBridgeToolsAggregatesProviders(t *testing.T) {
	a := newFakeTools()
	a.addStatic("files__read", "")
	b := newFakeTools()
	b.addStatic("clock__now", "")
	bridge := NewBridge(logging.Nop(), a, b)

	specs := bridge.Tools(context.Background())
	if len(specs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(specs))
	}
}
