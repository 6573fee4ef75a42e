// Package events is the in-process sink for structured delivery events:
// state machine transitions, breaker flips, retries and dead-letters.
// Handlers are registered at startup and fan out from one consuming
// goroutine, so they never race each other.
package events

import (
	"log/slog"
	"sync"
	"time"

	"leadwire/internal/domain"
)

const publishTimeout = 5 * time.Second

// Sink buffers events and fans them out to registered handlers.
type Sink struct {
	events   chan domain.Event
	handlers []func(domain.Event)
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	logger   *slog.Logger
}

func NewSink(bufferSize int, logger *slog.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &Sink{
		events: make(chan domain.Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "events"),
	}
	go s.run()
	return s
}

// OnEvent registers a handler. Handlers run sequentially on the sink's
// goroutine; a slow handler delays later events, not publishers.
func (s *Sink) OnEvent(handler func(domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Publish enqueues an event. When the buffer is full it waits briefly
// instead of dropping; an event lost after the timeout is logged.
// The read lock is held across the send: Close takes the write lock
// before closing the channel, so a publisher can never hit a closed
// channel.
func (s *Sink) Publish(e domain.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.events <- e:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case s.events <- e:
		case <-timer.C:
			s.logger.Error("event dropped: sink full", "kind", e.Kind)
		}
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.events {
		s.mu.RLock()
		handlers := s.handlers
		s.mu.RUnlock()
		for _, h := range handlers {
			h(e)
		}
	}
}

// Close stops the sink after draining buffered events.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}

// SlogHandler returns a handler that logs every event with its fields,
// the structured sink required for transitions, breaker flips and retry
// decisions.
func SlogHandler(logger *slog.Logger) func(domain.Event) {
	return func(e domain.Event) {
		attrs := make([]any, 0, len(e.Fields)*2+2)
		attrs = append(attrs, "kind", string(e.Kind))
		for k, v := range e.Fields {
			attrs = append(attrs, k, v)
		}
		logger.Info("delivery event", attrs...)
	}
}
