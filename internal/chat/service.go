package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/profile"
)

// defaultMaxConcurrentRuns bounds how many runs stream at once across all
// conversations.
const defaultMaxConcurrentRuns = 4

// SendRequest starts a new run.
type SendRequest struct {
	// ConversationID selects an existing conversation. Empty creates a new
	// one bound to ProfileID.
	ConversationID string
	// ProfileID picks the model profile for new conversations. Existing
	// conversations keep the profile they were created with.
	ProfileID string
	// Text is the user message.
	Text string
}

// Options configures a Service.
type Options struct {
	Store  conversation.Store
	Config *profile.Config
	Tools  *Bridge
	Logger zerolog.Logger
	// MaxConcurrentRuns defaults to 4.
	MaxConcurrentRuns int64
	// NewProvider builds the streaming provider for a resolved profile.
	// Defaults to llm.NewProvider; tests swap it for a mock.
	NewProvider func(opts llm.ProviderOptions) (llm.Provider, error)
}

// Service owns run lifecycle: it validates sends, enforces one writer per
// conversation, spawns run goroutines, and routes cancellation.
type Service struct {
	store       conversation.Store
	cfg         *profile.Config
	bridge      *Bridge
	log         zerolog.Logger
	sem         *semaphore.Weighted
	newProvider func(opts llm.ProviderOptions) (llm.Provider, error)

	mu     sync.Mutex
	active map[string]*RunHandle // conversation ID -> in-flight run
	runs   map[string]*RunHandle // run ID -> handle
}

func NewService(opts Options) *Service {
	maxRuns := opts.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = defaultMaxConcurrentRuns
	}
	newProvider := opts.NewProvider
	if newProvider == nil {
		newProvider = llm.NewProvider
	}
	bridge := opts.Tools
	if bridge == nil {
		bridge = NewBridge(opts.Logger)
	}
	return &Service{
		store:       opts.Store,
		cfg:         opts.Config,
		bridge:      bridge,
		log:         opts.Logger,
		sem:         semaphore.NewWeighted(maxRuns),
		newProvider: newProvider,
		active:      make(map[string]*RunHandle),
		runs:        make(map[string]*RunHandle),
	}
}

// SendMessage validates the request, persists the user message, and starts a
// run. Validation problems are returned synchronously; everything after that
// arrives on the handle's event stream.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*RunHandle, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, newError(CodeValidation, "message text is empty")
	}

	var conv *conversation.Conversation
	if req.ConversationID != "" {
		loaded, err := s.store.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, &ServiceError{Code: CodeServiceUnavailable, Message: "failed to load conversation", Cause: err}
		}
		if loaded == nil {
			return nil, newError(CodeNotFound, "conversation %s not found", req.ConversationID)
		}
		conv = loaded
	}

	profileID := req.ProfileID
	if conv != nil && conv.ProfileID != "" {
		profileID = conv.ProfileID
	}
	prof, err := s.cfg.Resolve(profileID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, &ServiceError{Code: CodeNotFound, Message: err.Error(), Cause: err}
		}
		return nil, &ServiceError{Code: CodeValidation, Message: err.Error(), Cause: err}
	}

	provider, err := s.newProvider(llm.ProviderOptions{
		Provider:       prof.Provider,
		Model:          prof.Model,
		APIKey:         prof.APIKey,
		BaseURL:        prof.BaseURL,
		ThinkingBudget: prof.ThinkingBudget,
	})
	if err != nil {
		return nil, &ServiceError{Code: CodeValidation, Message: err.Error(), Cause: err}
	}

	if conv == nil {
		conv = &conversation.Conversation{
			ProfileID: prof.ID,
			Title:     conversation.TruncateTitle(req.Text),
		}
		if err := s.store.Create(ctx, conv); err != nil {
			return nil, &ServiceError{Code: CodeServiceUnavailable, Message: "failed to create conversation", Cause: err}
		}
	}

	s.mu.Lock()
	if existing, ok := s.active[conv.ID]; ok && !existing.Done() {
		s.mu.Unlock()
		return nil, newError(CodeConflict, "conversation %s already has a run in flight", conv.ID)
	}
	handle := newRunHandle(uuid.NewString(), conv.ID)
	s.active[conv.ID] = handle
	s.runs[handle.ID] = handle
	s.mu.Unlock()

	// The user message is durable before anything touches the network.
	userMsg := &conversation.Message{Role: llm.RoleUser, Content: text, Sequence: -1}
	if err := s.store.AddMessage(ctx, conv.ID, userMsg); err != nil {
		handle.done.Store(true)
		s.release(handle)
		close(handle.events)
		return nil, &ServiceError{Code: CodeServiceUnavailable, Message: "failed to persist user message", Cause: err}
	}

	go s.run(handle, conv, prof, provider)

	return handle, nil
}

// Cancel requests cancellation of an in-flight run. Cancelling a finished or
// already-cancelled run is a conflict.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	handle, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return newError(CodeNotFound, "run %s not found", runID)
	}
	if !handle.tryCancel() {
		return newError(CodeConflict, "run %s is not cancellable", runID)
	}
	return nil
}

// ActiveRun returns the in-flight run for a conversation, if any.
func (s *Service) ActiveRun(conversationID string) *RunHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle, ok := s.active[conversationID]; ok && !handle.Done() {
		return handle
	}
	return nil
}

// release frees the conversation for the next run. The handle stays in the
// runs map so a late Cancel gets a conflict instead of a not-found.
func (s *Service) release(handle *RunHandle) {
	s.mu.Lock()
	if s.active[handle.ConversationID] == handle {
		delete(s.active, handle.ConversationID)
	}
	s.mu.Unlock()
}
