package transport

import (
	"context"
	"sync"
)

// DefaultSubscriptionBuffer is the number of messages a subscription holds
// before delivery blocks the transport.
const DefaultSubscriptionBuffer = 256

// Subscription is an ordered stream of messages for one path.
type Subscription struct {
	path      string
	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// NewSubscription is used by transport implementations. onClose, if not nil,
// is called once when the subscription is closed.
func NewSubscription(path string, buffer int, onClose func()) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Subscription{
		path:     path,
		messages: make(chan Message, buffer),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

// Path returns the path the subscription listens on.
func (s *Subscription) Path() string {
	return s.path
}

// Messages returns the delivery channel. It is never closed; select on Done
// to learn that the subscription has ended.
func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Deliver queues msg for the consumer. It blocks while the buffer is full and
// returns false if the subscription is closed first.
func (s *Subscription) Deliver(msg Message) bool {
	return s.DeliverContext(context.Background(), msg) == nil
}

// DeliverContext is Deliver bounded by ctx. It returns ErrClosed if the
// subscription closes first and the context error if ctx ends first.
func (s *Subscription) DeliverContext(ctx context.Context, msg Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.messages <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
