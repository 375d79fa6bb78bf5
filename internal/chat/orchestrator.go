package chat

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/profile"
)

const (
	// maxToolTurns bounds how many tool round-trips a single run may take.
	maxToolTurns = 20
	// maxEmptyTurnRetries re-requests a turn that produced neither text nor
	// tool calls.
	maxEmptyTurnRetries = 3
)

// run drives one complete model exchange: compress history, stream the model,
// execute tool calls, and persist the outcome. It always emits exactly one
// terminal event and then closes the handle's event stream.
func (s *Service) run(handle *RunHandle, conv *conversation.Conversation, prof *profile.Profile, provider llm.Provider) {
	log := s.log.With().
		Str("run_id", handle.ID).
		Str("conversation_id", conv.ID).
		Str("profile", prof.ID).
		Logger()

	// runCtx is cancelled when the handle is cancelled, which unblocks any
	// in-flight provider stream or tool call.
	runCtx, cancelRun := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-handle.cancelCh:
			cancelRun()
		case <-watcherDone:
		}
	}()

	o := &runState{
		service:  s,
		handle:   handle,
		conv:     conv,
		prof:     prof,
		provider: provider,
		log:      log,
	}

	defer func() {
		close(watcherDone)
		cancelRun()
		handle.done.Store(true)
		s.release(handle)
		close(handle.events)
	}()

	if err := s.sem.Acquire(runCtx, 1); err != nil {
		o.finishCancelled(runCtx)
		return
	}
	defer s.sem.Release(1)

	o.execute(runCtx)
}

// runState carries everything one run accumulates.
type runState struct {
	service  *Service
	handle   *RunHandle
	conv     *conversation.Conversation
	prof     *profile.Profile
	provider llm.Provider
	log      zerolog.Logger

	// Accumulated across the whole run
	text     string
	thinking string
	records  []conversation.ToolCallRecord
	usage    llm.Usage
	sawUsage bool
}

func (o *runState) emit(ev Event) {
	ev.RunID = o.handle.ID
	ev.ConversationID = o.conv.ID
	o.handle.events <- ev
}

// execute runs the turn loop to a terminal event.
func (o *runState) execute(ctx context.Context) {
	req, err := o.buildRequest(ctx)
	if err != nil {
		o.finishError(classifyProviderError(err))
		return
	}

	o.emit(Event{Type: EventStarted})
	if o.handle.wasCancelled() {
		o.finishCancelled(ctx)
		return
	}

	emptyRetries := 0
	for turn := 0; turn < maxToolTurns; turn++ {
		result, err := o.streamTurn(ctx, req)
		if err != nil {
			if o.handle.wasCancelled() || isCancellation(err) {
				o.finishCancelled(ctx)
				return
			}
			o.finishError(classifyProviderError(err))
			return
		}

		if len(result.toolCalls) > 0 {
			if o.handle.wasCancelled() {
				o.finishCancelled(ctx)
				return
			}
			o.runTools(ctx, req, result)
			continue
		}

		if result.text == "" && emptyRetries < maxEmptyTurnRetries {
			emptyRetries++
			o.log.Warn().Msg("model returned an empty turn, retrying")
			continue
		}

		o.finishComplete(ctx)
		return
	}

	o.finishError(newError(CodeServiceUnavailable, "run exceeded %d tool turns", maxToolTurns))
}

// turnResult is what one provider stream produced.
type turnResult struct {
	text        string
	thinking    string
	thinkingSig string
	toolCalls   []llm.ToolCall
}

// streamTurn consumes one provider stream, forwarding deltas as run events.
func (o *runState) streamTurn(ctx context.Context, req *llm.Request) (*turnResult, error) {
	stream, err := o.provider.Stream(ctx, *req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &turnResult{}
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case llm.EventTextDelta:
			result.text += ev.Text
			o.text += ev.Text
			o.emit(Event{Type: EventTextDelta, Text: ev.Text})
		case llm.EventThinkingDelta:
			result.thinking += ev.Text
			result.thinkingSig += ev.ThinkingSig
			o.thinking += ev.Text
			if ev.Text != "" {
				o.emit(Event{Type: EventThinkingDelta, Text: ev.Text})
			}
		case llm.EventToolCall:
			if ev.Tool != nil {
				result.toolCalls = append(result.toolCalls, *ev.Tool)
			}
		case llm.EventUsage:
			if ev.Use != nil {
				o.usage.InputTokens += ev.Use.InputTokens
				o.usage.OutputTokens += ev.Use.OutputTokens
				o.usage.CachedInputTokens += ev.Use.CachedInputTokens
				o.sawUsage = true
			}
		case llm.EventRetry:
			o.log.Debug().Msg("provider retrying after transient failure")
		case llm.EventError:
			if ev.Err != nil {
				return nil, ev.Err
			}
		}
	}
	return result, nil
}

// runTools executes the turn's tool calls and folds the assistant turn plus
// the results back into the request for the next round.
func (o *runState) runTools(ctx context.Context, req *llm.Request, result *turnResult) {
	assistant := llm.Message{Role: llm.RoleAssistant}
	if result.thinking != "" {
		assistant.Parts = append(assistant.Parts, llm.Part{
			Type:        llm.PartThinking,
			Text:        result.thinking,
			ThinkingSig: result.thinkingSig,
		})
	}
	if result.text != "" {
		assistant.Parts = append(assistant.Parts, llm.Part{Type: llm.PartText, Text: result.text})
	}
	for i := range result.toolCalls {
		call := result.toolCalls[i]
		assistant.Parts = append(assistant.Parts, llm.Part{Type: llm.PartToolCall, ToolCall: &call})
	}
	req.Messages = append(req.Messages, assistant)

	for _, call := range result.toolCalls {
		o.emit(Event{
			Type:       EventToolStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   call.Arguments,
		})

		toolResult := o.service.bridge.Execute(ctx, call)

		o.emit(Event{
			Type:        EventToolComplete,
			ToolCallID:  call.ID,
			ToolName:    call.Name,
			ToolResult:  toolResult.Content,
			ToolIsError: toolResult.IsError,
		})

		o.records = append(o.records, conversation.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
			Result:    toolResult.Content,
			IsError:   toolResult.IsError,
		})

		if toolResult.IsError {
			req.Messages = append(req.Messages,
				llm.ToolErrorMessage(call.ID, call.Name, toolResult.Content, call.ThoughtSig))
		} else {
			req.Messages = append(req.Messages,
				llm.ToolResultMessage(call.ID, call.Name, toolResult.Content, call.ThoughtSig))
		}
	}
}

// buildRequest loads and compresses history, then assembles the provider
// request.
func (o *runState) buildRequest(ctx context.Context) (*llm.Request, error) {
	history, err := o.service.store.GetMessages(ctx, o.conv.ID)
	if err != nil {
		return nil, err
	}

	compressor := o.service.compressorFor(o.provider, o.prof)
	compressed, err := compressor.Compress(ctx, history, o.conv.Context, o.prof.ContextTokens)
	if err != nil {
		// Proceed uncompressed; the provider gets the full history.
		o.log.Warn().Msg("history compression failed, sending full history")
	} else if compressed.State != nil && !compressed.Reused {
		if err := o.service.store.SetContextState(ctx, o.conv.ID, compressed.State); err != nil {
			o.log.Warn().Msg("failed to cache compression state")
		}
	}

	messages := make([]llm.Message, 0, len(compressed.Messages)+1)
	if o.prof.SystemPrompt != "" {
		messages = append(messages, llm.SystemText(o.prof.SystemPrompt))
	}
	for _, m := range compressed.Messages {
		messages = append(messages, llm.Message{
			Role:  m.Role,
			Parts: []llm.Part{{Type: llm.PartText, Text: m.Content}},
		})
	}

	req := &llm.Request{
		Model:           o.prof.Model,
		Messages:        messages,
		MaxOutputTokens: o.prof.MaxOutputTokens,
		ThinkingBudget:  o.prof.ThinkingBudget,
	}
	if o.prof.Temperature != nil {
		req.Temperature = float32(*o.prof.Temperature)
	}
	if o.prof.TopP != nil {
		req.TopP = float32(*o.prof.TopP)
	}
	if o.provider.Capabilities().ToolCalls {
		req.Tools = o.service.bridge.Tools(ctx)
	}
	return req, nil
}

// finishComplete persists the assistant message and emits the terminal
// Complete event.
func (o *runState) finishComplete(ctx context.Context) {
	msg := &conversation.Message{
		Role:      llm.RoleAssistant,
		Content:   o.text,
		Thinking:  o.thinking,
		ModelID:   o.prof.Model,
		ToolCalls: o.records,
		Sequence:  -1,
	}
	if err := o.service.store.AddMessage(ctx, o.conv.ID, msg); err != nil {
		o.finishError(&ServiceError{Code: CodeServiceUnavailable, Message: "failed to persist assistant message", Cause: err})
		return
	}
	o.recordUsage(ctx)

	ev := Event{Type: EventComplete, Message: msg}
	if o.sawUsage {
		usage := o.usage
		ev.Usage = &usage
	}
	o.emit(ev)
}

// finishCancelled persists whatever partial output exists, marked cancelled,
// and emits the terminal Cancelled event. Uses a fresh context because the
// run context is already cancelled.
func (o *runState) finishCancelled(_ context.Context) {
	ctx := context.Background()

	content := "[cancelled]"
	if strings.TrimSpace(o.text) != "" {
		content = o.text + "\n\n[cancelled]"
	}
	msg := &conversation.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		Thinking:  o.thinking,
		ModelID:   o.prof.Model,
		ToolCalls: o.records,
		Cancelled: true,
		Sequence:  -1,
	}
	if err := o.service.store.AddMessage(ctx, o.conv.ID, msg); err != nil {
		o.finishError(&ServiceError{Code: CodeServiceUnavailable, Message: "failed to persist cancelled message", Cause: err})
		return
	}
	o.recordUsage(ctx)

	o.emit(Event{Type: EventCancelled, Message: msg})
}

// finishError emits the terminal Error event. Nothing is persisted for the
// assistant turn.
func (o *runState) finishError(err *ServiceError) {
	o.log.Warn().Err(err).Msg("run failed")
	o.emit(Event{Type: EventError, Err: err})
}

func (o *runState) recordUsage(ctx context.Context) {
	if !o.sawUsage {
		return
	}
	if err := o.service.store.AddUsage(ctx, o.conv.ID, o.usage.InputTokens, o.usage.OutputTokens); err != nil {
		o.log.Warn().Msg("failed to record token usage")
	}
}

// compressorFor builds the history compressor for a run, summarizing with the
// run's own provider and model.
func (s *Service) compressorFor(provider llm.Provider, prof *profile.Profile) *Compressor {
	return NewCompressor(&ModelSummarizer{Provider: provider, Model: prof.Model})
}
