package switchsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/notifier"
	"github.com/larsks/switchsync/internal/output"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/transport"
)

// DefaultCommandTimeout bounds the report published after applying a command
// received from the transport.
const DefaultCommandTimeout = 5 * time.Second

// AuthorityConfig describes an authority. Output is optional; without it the
// authority is purely virtual.
type AuthorityConfig struct {
	Session transport.Session
	Path    string

	Output    output.Output
	HighState switchstate.State

	// CommandTimeout bounds handling of one remote command.
	CommandTimeout time.Duration

	Logger logrus.FieldLogger
}

// Authority owns the ground-truth state for a resource path.
type Authority struct {
	session        transport.Session
	path           string
	output         output.Output
	highState      switchstate.State
	commandTimeout time.Duration
	log            logrus.FieldLogger

	// mu guards state and output and is never held across a publish.
	// publishMu serializes whole transitions, so reports leave in transition
	// order. Lock order is publishMu, then mu.
	mu        sync.Mutex
	state     switchstate.State
	publishMu sync.Mutex
	notifier  *notifier.Notifier

	sub       *transport.Subscription
	responder io.Closer
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewAuthority registers the query responder and command subscriber for the
// path and returns a live authority in the Off state.
func NewAuthority(ctx context.Context, cfg AuthorityConfig) (*Authority, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	a := &Authority{
		session:        cfg.Session,
		path:           cfg.Path,
		output:         cfg.Output,
		highState:      cfg.HighState,
		commandTimeout: cfg.CommandTimeout,
		log:            componentLogger(cfg.Logger, "authority", cfg.Path),
		state:          switchstate.Off,
		notifier:       notifier.New(switchstate.Off),
		closed:         make(chan struct{}),
	}

	if a.output != nil {
		if err := output.Drive(a.output, switchstate.Off, a.highState); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOutputDrive, err)
		}
	}

	responder, err := a.session.RegisterResponder(ctx, a.path, a.respond)
	if err != nil {
		return nil, transportError("register responder", err)
	}
	a.responder = responder

	sub, err := a.session.Subscribe(ctx, a.path)
	if err != nil {
		a.responder.Close() //nolint:errcheck
		return nil, transportError("subscribe", err)
	}
	a.sub = sub

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		consume(a.sub, a.handleMessage)
	}()

	if a.output != nil {
		a.log.Infof("serving switch with output %s (high state %s)", a.output, a.highState)
	} else {
		a.log.Infof("serving virtual switch")
	}
	return a, nil
}

// NewVirtual returns an authority with no physical output.
func NewVirtual(ctx context.Context, session transport.Session, path string) (*Authority, error) {
	return NewAuthority(ctx, AuthorityConfig{Session: session, Path: path})
}

// NewHardware returns an authority that drives out high whenever the state
// equals highState.
func NewHardware(ctx context.Context, session transport.Session, path string, out output.Output, highState switchstate.State) (*Authority, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: output is required", ErrInvalidConfig)
	}
	return NewAuthority(ctx, AuthorityConfig{Session: session, Path: path, Output: out, HighState: highState})
}

// Path returns the resource path the authority serves.
func (a *Authority) Path() string {
	return a.path
}

// GetState returns the ground-truth state. It never waits on the transport,
// so ctx is not consulted.
func (a *Authority) GetState(_ context.Context) (switchstate.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, nil
}

// SetState applies s locally and publishes it.
func (a *Authority) SetState(ctx context.Context, s switchstate.State) error {
	if a.isClosed() {
		return ErrClosed
	}
	return a.transition(ctx, s)
}

// WaitForChange blocks until the state actually changes.
func (a *Authority) WaitForChange(ctx context.Context) (switchstate.State, error) {
	s, err := a.notifier.WaitForChange(ctx)
	if err != nil {
		return s, contextError(err)
	}
	return s, nil
}

// Close stops answering queries and commands. It does not close the output
// or the session.
func (a *Authority) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.responder.Close() //nolint:errcheck
		a.sub.Close()       //nolint:errcheck
		a.wg.Wait()
		a.log.Debugf("closed")
	})
	return nil
}

func (a *Authority) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// transition is the only writer of the state. The write always happens, even
// when s equals the current state, so that repeated commands re-drive the
// output and reach waiters and remote observers. A failure to drive the
// output leaves the write applied and is reported alongside any publish
// failure.
func (a *Authority) transition(ctx context.Context, s switchstate.State) error {
	var driveErr error

	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	a.mu.Lock()
	a.state = s
	a.notifier.Broadcast(s)
	if a.output != nil {
		if err := output.Drive(a.output, s, a.highState); err != nil {
			driveErr = fmt.Errorf("%w: %v", ErrOutputDrive, err)
		}
	}
	a.mu.Unlock()

	a.log.Debugf("state set to %s", s)

	var publishErr error
	msg := transport.Message{State: s, Origin: a.session.ID(), Kind: transport.KindReport}
	if err := a.session.Publish(ctx, a.path, msg); err != nil {
		publishErr = transportError("publish", err)
	}

	return errors.Join(driveErr, publishErr)
}

func (a *Authority) respond(ctx context.Context) (transport.Message, error) {
	a.mu.Lock()
	s := a.state
	a.mu.Unlock()
	return transport.Message{State: s, Origin: a.session.ID(), Kind: transport.KindReport}, nil
}

func (a *Authority) handleMessage(msg transport.Message) {
	if msg.Origin == a.session.ID() {
		return
	}

	log := a.log.WithField("origin", msg.Origin)
	if msg.Kind == transport.KindReport {
		log.Warnf("ignoring report of %s from another authority on this path", msg.State)
		return
	}

	log.Infof("received command %s", msg.State)

	ctx, cancel := context.WithTimeout(context.Background(), a.commandTimeout)
	defer cancel()
	if err := a.transition(ctx, msg.State); err != nil {
		log.Errorf("failed to apply command %s: %v", msg.State, err)
	}
}
