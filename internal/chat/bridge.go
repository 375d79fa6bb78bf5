package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/llm"
)

// defaultToolTimeout bounds a single tool invocation.
const defaultToolTimeout = 30 * time.Second

// defaultToolRetries is how many extra attempts a transiently failing tool
// call gets before its error is handed to the model.
const defaultToolRetries = 2

// ToolProvider is a source of callable tools, typically an MCP server
// manager.
type ToolProvider interface {
	ListTools(ctx context.Context) []llm.ToolSpec
	Owns(name string) bool
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Bridge routes model tool calls to tool providers. Execution failures never
// abort the run: they come back as error-flagged results so the model can
// react to them.
type Bridge struct {
	providers []ToolProvider
	timeout   time.Duration
	retries   int
	log       zerolog.Logger
}

func NewBridge(log zerolog.Logger, providers ...ToolProvider) *Bridge {
	return &Bridge{
		providers: providers,
		timeout:   defaultToolTimeout,
		retries:   defaultToolRetries,
		log:       log,
	}
}

// WithTimeout overrides the per-call timeout.
func (b *Bridge) WithTimeout(d time.Duration) *Bridge {
	b.timeout = d
	return b
}

// Tools returns the union of all providers' tools.
func (b *Bridge) Tools(ctx context.Context) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, p := range b.providers {
		specs = append(specs, p.ListTools(ctx)...)
	}
	return specs
}

// Execute runs one tool call and always produces a result. Unknown tools,
// timeouts, and provider failures are reported to the model as error-flagged
// results, not as run failures.
func (b *Bridge) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{
		ID:         call.ID,
		Name:       call.Name,
		ThoughtSig: call.ThoughtSig,
	}

	provider := b.ownerOf(call.Name)
	if provider == nil {
		result.IsError = true
		result.Content = fmt.Sprintf("unknown tool: %s", call.Name)
		return result
	}

	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		content, err := provider.Call(callCtx, call.Name, call.Arguments)
		cancel()
		if err == nil {
			result.Content = content
			return result
		}
		lastErr = err
		if !isTransientToolError(err) {
			break
		}
		b.log.Warn().Str("tool", call.Name).Int("attempt", attempt+1).Err(err).
			Msg("tool call failed, retrying")
	}

	result.IsError = true
	result.Content = fmt.Sprintf("tool %s failed: %v", call.Name, lastErr)
	return result
}

func (b *Bridge) ownerOf(name string) ToolProvider {
	for _, p := range b.providers {
		if p.Owns(name) {
			return p
		}
	}
	return nil
}

// isTransientToolError picks out failures worth retrying. Timeouts are not:
// a tool that blew its deadline once will likely do it again.
func isTransientToolError(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "temporarily unavailable")
}
