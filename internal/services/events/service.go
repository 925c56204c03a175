package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// Service implements EventService with a pub/sub pattern. Every publish is
// validated against the schema registry before any handler sees it; handler
// failures are caught and logged at the handler boundary, never surfaced to
// the publisher.
type Service struct {
	registry    interfaces.SchemaRegistry
	subscribers map[interfaces.EventName][]interfaces.EventHandler
	mu          sync.RWMutex
	wg          sync.WaitGroup
	logger      arbor.ILogger
}

// NewService creates a new event service backed by the given schema registry
func NewService(registry interfaces.SchemaRegistry, logger arbor.ILogger) *Service {
	return &Service{
		registry:    registry,
		subscribers: make(map[interfaces.EventName][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event name. Multiple handlers per name
// are allowed and all are invoked; dispatch order is unspecified.
func (s *Service) Subscribe(name interfaces.EventName, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[name] = append(s.subscribers[name], handler)

	s.logger.Debug().
		Str("event", string(name)).
		Int("subscriber_count", len(s.subscribers[name])).
		Msg("Event handler subscribed")

	return nil
}

// Publish validates the payload, then dispatches to all subscribers
// asynchronously. Returns *SchemaError (and runs no handler) when the payload
// fails validation; otherwise returns before handlers complete.
func (s *Service) Publish(ctx context.Context, name interfaces.EventName, payload interface{}) error {
	event, handlers, err := s.prepare(name, payload)
	if err != nil {
		return err
	}

	if len(handlers) == 0 {
		s.logger.Debug().Str("event", string(name)).Msg("No subscribers for event")
		return nil
	}

	s.logger.Info().
		Str("event", string(name)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	// Handlers outlive the publisher, so they must not inherit its
	// cancellation: an HTTP submit cancels its request context as soon as
	// the response is written.
	handlerCtx := context.WithoutCancel(ctx)

	for _, handler := range handlers {
		s.wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer s.wg.Done()
			s.dispatch(handlerCtx, h, event)
		}(handler)
	}

	return nil
}

// PublishSync publishes and waits for all handlers to complete. Handler
// errors are still contained; the returned error only counts them.
func (s *Service) PublishSync(ctx context.Context, name interfaces.EventName, payload interface{}) error {
	event, handlers, err := s.prepare(name, payload)
	if err != nil {
		return err
	}

	if len(handlers) == 0 {
		s.logger.Debug().Str("event", string(name)).Msg("No subscribers for event")
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := s.dispatch(ctx, h, event); err != nil {
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	failed := 0
	for range errChan {
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("event handlers failed: %d errors", failed)
	}

	return nil
}

// prepare decodes the payload and snapshots the handler list
func (s *Service) prepare(name interfaces.EventName, payload interface{}) (interfaces.Event, []interfaces.EventHandler, error) {
	decoded, err := s.registry.Decode(name, payload)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", string(name)).
			Msg("Event payload rejected by schema registry")
		return interfaces.Event{}, nil, err
	}

	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, len(s.subscribers[name]))
	copy(handlers, s.subscribers[name])
	s.mu.RUnlock()

	return interfaces.Event{Name: name, Payload: decoded}, handlers, nil
}

// dispatch invokes one handler, containing panics and errors at the handler
// boundary
func (s *Service) dispatch(ctx context.Context, handler interfaces.EventHandler, event interfaces.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			s.logger.Error().
				Str("event", string(event.Name)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Event handler panicked")
		}
	}()

	if err := handler(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("event", string(event.Name)).
			Msg("Event handler failed")
		return err
	}
	return nil
}

// Wait blocks until all asynchronously dispatched handlers have returned.
// Used by tests and the shutdown path.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close shuts down the event service after in-flight handlers finish
func (s *Service) Close() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventName][]interfaces.EventHandler)
	s.logger.Info().Msg("Event service closed")

	return nil
}
