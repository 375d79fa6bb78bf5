package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function into the pull-based Stream interface.
// The producer runs in its own goroutine and writes events to a channel; Recv
// drains the channel until the producer returns, then surfaces its error (or
// io.EOF on clean completion).
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	mu  sync.Mutex
	err error
	set bool

	errc chan error
}

func newEventStream(parent context.Context, run func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &eventStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 32),
		errc:   make(chan error, 1),
	}
	go func() {
		err := run(ctx, s.events)
		s.errc <- err
		close(s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, s.finalErr()
		}
		return ev, nil
	case <-s.ctx.Done():
		// Drain any event raced in before cancellation.
		select {
		case ev, ok := <-s.events:
			if !ok {
				return Event{}, s.finalErr()
			}
			return ev, nil
		default:
		}
		return Event{}, s.ctx.Err()
	}
}

func (s *eventStream) finalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.err = <-s.errc
		s.set = true
	}
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *eventStream) Close() error {
	s.cancel()
	// Unblock the producer if it is mid-send.
	go func() {
		for range s.events {
		}
	}()
	return nil
}
