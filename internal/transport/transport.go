// Package transport describes the publish/subscribe and request/reply
// capability that switch participants share, and the message they exchange.
package transport

import (
	"context"
	"io"

	"github.com/larsks/switchsync/internal/switchstate"
)

// Kind distinguishes a request to change state from an announcement of an
// applied state.
type Kind int

const (
	// KindCommand asks the authority to apply a state.
	KindCommand Kind = iota

	// KindReport announces a state the authority has applied.
	KindReport
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindReport:
		return "report"
	default:
		return "unknown"
	}
}

// Message is a state value together with who sent it and why.
type Message struct {
	State  switchstate.State
	Origin string
	Kind   Kind
}

// Responder produces the reply to a single query.
type Responder func(ctx context.Context) (Message, error)

// Session is one participant's connection to the transport.
type Session interface {
	// ID identifies the session in the Origin of messages it sends.
	ID() string

	// Publish broadcasts msg to every subscriber of path, including this
	// session's own subscriptions. It returns once the transport has
	// accepted the message.
	Publish(ctx context.Context, path string, msg Message) error

	// Subscribe delivers every message published on path, in order per
	// sender.
	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// RegisterResponder answers queries on path until the returned Closer
	// is closed.
	RegisterResponder(ctx context.Context, path string, responder Responder) (io.Closer, error)

	// Query asks every responder on path for a reply. The returned channel
	// yields zero or more replies and is closed when the stream ends.
	Query(ctx context.Context, path string) (<-chan Message, error)

	Close() error
}
