package switchsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/notifier"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/transport"
)

// DefaultQueryTimeout bounds GetState on a proxy when the caller's context
// carries no deadline.
const DefaultQueryTimeout = 5 * time.Second

// ProxyConfig describes a proxy.
type ProxyConfig struct {
	Session      transport.Session
	Path         string
	QueryTimeout time.Duration
	Logger       logrus.FieldLogger
}

// Proxy reaches the authority for a path over the transport. It holds no
// state of its own beyond the last report it observed.
type Proxy struct {
	session      transport.Session
	path         string
	queryTimeout time.Duration
	log          logrus.FieldLogger
	notifier     *notifier.Notifier

	sub       *transport.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewProxy subscribes to reports on the path and returns a proxy. The local
// view starts from a best-effort query of the authority, or Off when no
// authority answers.
func NewProxy(ctx context.Context, cfg ProxyConfig) (*Proxy, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if cfg.QueryTimeout < 0 {
		return nil, fmt.Errorf("%w: query timeout must not be negative", ErrInvalidConfig)
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	p := &Proxy{
		session:      cfg.Session,
		path:         cfg.Path,
		queryTimeout: cfg.QueryTimeout,
		log:          componentLogger(cfg.Logger, "proxy", cfg.Path),
		closed:       make(chan struct{}),
	}

	sub, err := p.session.Subscribe(ctx, p.path)
	if err != nil {
		return nil, transportError("subscribe", err)
	}
	p.sub = sub

	// Reports that arrive while the seed query runs wait in the
	// subscription and are applied on top of the seed.
	seed, err := p.query(ctx)
	if err != nil {
		p.log.Debugf("no initial state (%v), assuming %s", err, switchstate.Off)
		seed = switchstate.Off
	}
	p.notifier = notifier.New(seed)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		consume(p.sub, p.handleMessage)
	}()

	p.log.Debugf("proxy ready")
	return p, nil
}

// Path returns the resource path the proxy forwards to.
func (p *Proxy) Path() string {
	return p.path
}

// GetState queries the authority and returns the first reply. If the reply
// stream ends without an answer the state is reported as Off.
func (p *Proxy) GetState(ctx context.Context) (switchstate.State, error) {
	if p.isClosed() {
		return switchstate.Off, ErrClosed
	}
	return p.query(ctx)
}

func (p *Proxy) query(ctx context.Context) (switchstate.State, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.queryTimeout)
		defer cancel()
	}

	replies, err := p.session.Query(ctx, p.path)
	if err != nil {
		return switchstate.Off, transportError("query", err)
	}

	select {
	case msg, ok := <-replies:
		if !ok {
			if err := ctx.Err(); err != nil {
				return switchstate.Off, contextError(err)
			}
			p.log.Debugf("no reply to query, assuming %s", switchstate.Off)
			return switchstate.Off, nil
		}
		return msg.State, nil
	case <-ctx.Done():
		return switchstate.Off, contextError(ctx.Err())
	}
}

// SetState publishes a command for the authority. It returns once the
// transport has accepted the message, not once the authority applied it.
func (p *Proxy) SetState(ctx context.Context, s switchstate.State) error {
	if p.isClosed() {
		return ErrClosed
	}
	msg := transport.Message{State: s, Origin: p.session.ID(), Kind: transport.KindCommand}
	if err := p.session.Publish(ctx, p.path, msg); err != nil {
		return transportError("publish", err)
	}
	p.log.Debugf("requested %s", s)
	return nil
}

// WaitForChange blocks until a report from the authority changes the state
// this proxy has observed.
func (p *Proxy) WaitForChange(ctx context.Context) (switchstate.State, error) {
	s, err := p.notifier.WaitForChange(ctx)
	if err != nil {
		return s, contextError(err)
	}
	return s, nil
}

// Close stops observing reports. It does not close the session.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.sub.Close() //nolint:errcheck
		p.wg.Wait()
	})
	return nil
}

func (p *Proxy) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Proxy) handleMessage(msg transport.Message) {
	if msg.Kind != transport.KindReport {
		return
	}
	p.log.WithField("origin", msg.Origin).Debugf("observed %s", msg.State)
	p.notifier.Broadcast(msg.State)
}
