// Package memory implements transport.Session for participants that share a
// process. It backs the test suites and single-process deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/larsks/switchsync/internal/transport"
)

type (
	// Bus routes messages between sessions created from it.
	Bus struct {
		mu         sync.RWMutex
		subs       map[string]map[*transport.Subscription]struct{}
		responders map[string]map[*responderEntry]struct{}
		publishErr error
	}

	responderEntry struct {
		responder transport.Responder
		bus       *Bus
		path      string
		once      sync.Once
	}

	// Session is one participant attached to a Bus.
	Session struct {
		bus    *Bus
		id     string
		mu     sync.Mutex
		closed bool
		owned  []io.Closer
	}
)

var _ transport.Session = (*Session)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[string]map[*transport.Subscription]struct{}),
		responders: make(map[string]map[*responderEntry]struct{}),
	}
}

// NewSession attaches a new participant to the bus.
func (b *Bus) NewSession() *Session {
	return &Session{
		bus: b,
		id:  uuid.NewString(),
	}
}

// FailPublishes makes every subsequent Publish return err. Passing nil
// restores normal operation.
func (b *Bus) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Subscribers returns the number of live subscriptions on path.
func (b *Bus) Subscribers(path string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[path])
}

func (b *Bus) publish(ctx context.Context, path string, msg transport.Message) error {
	b.mu.RLock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.RUnlock()
		return err
	}
	targets := make([]*transport.Subscription, 0, len(b.subs[path]))
	for sub := range b.subs[path] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.DeliverContext(ctx, msg); err != nil && !errors.Is(err, transport.ErrClosed) {
			return err
		}
	}
	return nil
}

func (b *Bus) subscribe(path string) *transport.Subscription {
	var sub *transport.Subscription
	sub = transport.NewSubscription(path, 0, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[path], sub)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[path] == nil {
		b.subs[path] = make(map[*transport.Subscription]struct{})
	}
	b.subs[path][sub] = struct{}{}
	return sub
}

func (b *Bus) addResponder(path string, responder transport.Responder) *responderEntry {
	entry := &responderEntry{responder: responder, bus: b, path: path}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.responders[path] == nil {
		b.responders[path] = make(map[*responderEntry]struct{})
	}
	b.responders[path][entry] = struct{}{}
	return entry
}

func (b *Bus) query(ctx context.Context, path string) <-chan transport.Message {
	b.mu.RLock()
	entries := make([]*responderEntry, 0, len(b.responders[path]))
	for entry := range b.responders[path] {
		entries = append(entries, entry)
	}
	b.mu.RUnlock()

	replies := make(chan transport.Message, len(entries))
	go func() {
		defer close(replies)
		for _, entry := range entries {
			msg, err := entry.responder(ctx)
			if err != nil {
				continue
			}
			select {
			case replies <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return replies
}

// Close unregisters the responder.
func (e *responderEntry) Close() error {
	e.once.Do(func() {
		e.bus.mu.Lock()
		defer e.bus.mu.Unlock()
		delete(e.bus.responders[e.path], e)
	})
	return nil
}

// ID implements transport.Session.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	return nil
}

func (s *Session) own(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = append(s.owned, c)
}

// Publish implements transport.Session.
func (s *Session) Publish(ctx context.Context, path string, msg transport.Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bus.publish(ctx, path, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", path, err)
	}
	return nil
}

// Subscribe implements transport.Session.
func (s *Session) Subscribe(ctx context.Context, path string) (*transport.Subscription, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	sub := s.bus.subscribe(path)
	s.own(sub)
	return sub, nil
}

// RegisterResponder implements transport.Session.
func (s *Session) RegisterResponder(ctx context.Context, path string, responder transport.Responder) (io.Closer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entry := s.bus.addResponder(path, responder)
	s.own(entry)
	return entry, nil
}

// Query implements transport.Session. The reply stream ends once every
// responder registered at the time of the call has answered.
func (s *Session) Query(ctx context.Context, path string) (<-chan transport.Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.bus.query(ctx, path), nil
}

// Close releases every subscription and responder the session created.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()

	for _, c := range owned {
		c.Close() //nolint:errcheck
	}
	return nil
}
