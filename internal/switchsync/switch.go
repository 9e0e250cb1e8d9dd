// Package switchsync keeps a two-state switch consistent across processes.
//
// An Authority owns the state for one resource path, optionally drives a
// physical output, answers queries and applies commands that arrive over the
// transport. A Proxy owns nothing; it forwards reads and writes to the
// authority and mirrors the authority's reports so callers can wait for
// changes locally. Both satisfy Switch, so callers need not know which role
// they hold.
package switchsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/transport"
)

// Switch is the capability shared by every participant role.
type Switch interface {
	// GetState returns the best known state.
	GetState(ctx context.Context) (switchstate.State, error)

	// SetState requests a transition to s.
	SetState(ctx context.Context, s switchstate.State) error

	// WaitForChange blocks until the state differs from what it was when
	// the call began and returns the new state.
	WaitForChange(ctx context.Context) (switchstate.State, error)
}

var (
	_ Switch = (*Authority)(nil)
	_ Switch = (*Proxy)(nil)
)

// Toggle reads the current state and requests its opposite, returning the
// state that was requested.
func Toggle(ctx context.Context, sw Switch) (switchstate.State, error) {
	current, err := sw.GetState(ctx)
	if err != nil {
		return current, err
	}
	next := current.Not()
	if err := sw.SetState(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

// Watch calls fn with every change of sw until ctx ends or an error other
// than cancellation occurs.
func Watch(ctx context.Context, sw Switch, fn func(switchstate.State)) error {
	for {
		s, err := sw.WaitForChange(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fn(s)
	}
}

// contextError distinguishes a deadline from an explicit cancellation.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// transportError wraps a transport failure, keeping context errors
// recognizable.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, contextError(err))
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}

func componentLogger(logger logrus.FieldLogger, comp, path string) logrus.FieldLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("comp", comp).WithField("path", path)
}

// consume delivers messages from sub to handle until sub is closed.
func consume(sub *transport.Subscription, handle func(transport.Message)) {
	for {
		select {
		case <-sub.Done():
			return
		case msg := <-sub.Messages():
			handle(msg)
		}
	}
}
