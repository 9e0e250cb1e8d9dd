package switchsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larsks/switchsync/internal/notifier"
	"github.com/larsks/switchsync/internal/output"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/transport"
	"github.com/larsks/switchsync/internal/transport/memory"
)

const (
	testPath = "lights/porch"
	eventual = 2 * time.Second
	tick     = 5 * time.Millisecond
)

type waitResult struct {
	state switchstate.State
	err   error
}

// waitFrom snapshots n before returning, so every change made afterwards ends
// the wait.
func waitFrom(ctx context.Context, n *notifier.Notifier) <-chan waitResult {
	since := n.Snapshot()
	out := make(chan waitResult, 1)
	go func() {
		s, err := n.WaitForChangeSince(ctx, since)
		out <- waitResult{s, err}
	}()
	return out
}

func newAuthority(t *testing.T, bus *memory.Bus, out output.Output) *Authority {
	t.Helper()
	session := bus.NewSession()
	a, err := NewAuthority(context.Background(), AuthorityConfig{
		Session:   session,
		Path:      testPath,
		Output:    out,
		HighState: switchstate.On,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()       //nolint:errcheck
		session.Close() //nolint:errcheck
	})
	return a
}

func newProxy(t *testing.T, bus *memory.Bus) *Proxy {
	t.Helper()
	session := bus.NewSession()
	p, err := NewProxy(context.Background(), ProxyConfig{Session: session, Path: testPath})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close()       //nolint:errcheck
		session.Close() //nolint:errcheck
	})
	return p
}

// observe subscribes a passive session to the test path.
func observe(t *testing.T, bus *memory.Bus) *transport.Subscription {
	t.Helper()
	session := bus.NewSession()
	sub, err := session.Subscribe(context.Background(), testPath)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() }) //nolint:errcheck
	return sub
}

// nextReport returns the next report on sub, skipping commands.
func nextReport(t *testing.T, sub *transport.Subscription) transport.Message {
	t.Helper()
	timeout := time.After(eventual)
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Kind == transport.KindReport {
				return msg
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for report")
		}
	}
}

func TestNewAuthorityValidation(t *testing.T) {
	bus := memory.NewBus()

	_, err := NewAuthority(context.Background(), AuthorityConfig{Path: testPath})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewAuthority(context.Background(), AuthorityConfig{Session: bus.NewSession()})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewHardware(context.Background(), bus.NewSession(), testPath, nil, switchstate.On)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProxy(context.Background(), ProxyConfig{Session: bus.NewSession(), Path: testPath, QueryTimeout: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAuthorityStartsOff(t *testing.T) {
	bus := memory.NewBus()
	out := output.NewDummyOutput("17")
	out.SetHigh() //nolint:errcheck

	a := newAuthority(t, bus, out)

	s, err := a.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, switchstate.Off, s)
	assert.Equal(t, output.Low, out.Level())
}

func TestAuthorityInitialDriveFailure(t *testing.T) {
	out := output.NewDummyOutput("17")
	out.Fail(errors.New("line busy"))

	_, err := NewHardware(context.Background(), memory.NewBus().NewSession(), testPath, out, switchstate.On)
	assert.ErrorIs(t, err, ErrOutputDrive)
}

func TestAuthoritySetState(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	sub := observe(t, bus)
	ctx := context.Background()

	require.NoError(t, a.SetState(ctx, switchstate.On))
	s, err := a.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.On, s)

	msg := nextReport(t, sub)
	assert.Equal(t, switchstate.On, msg.State)
	assert.Equal(t, a.session.ID(), msg.Origin)
}

func TestAuthorityDrivesOutput(t *testing.T) {
	tests := []struct {
		name      string
		highState switchstate.State
		state     switchstate.State
		want      output.Level
	}{
		{"active high on", switchstate.On, switchstate.On, output.High},
		{"active high off", switchstate.On, switchstate.Off, output.Low},
		{"active low on", switchstate.Off, switchstate.On, output.Low},
		{"active low off", switchstate.Off, switchstate.Off, output.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := memory.NewBus()
			out := output.NewDummyOutput("4")
			a, err := NewHardware(context.Background(), bus.NewSession(), testPath, out, tt.highState)
			require.NoError(t, err)
			defer a.Close() //nolint:errcheck

			require.NoError(t, a.SetState(context.Background(), tt.state))
			assert.Equal(t, tt.want, out.Level())
		})
	}
}

func TestAuthorityRepeatedWriteRedrives(t *testing.T) {
	bus := memory.NewBus()
	out := output.NewDummyOutput("4")
	a := newAuthority(t, bus, out)
	ctx := context.Background()

	require.NoError(t, a.SetState(ctx, switchstate.On))
	require.NoError(t, a.SetState(ctx, switchstate.On))

	// initial drive plus two writes
	assert.Equal(t, []output.Level{output.Low, output.High, output.High}, out.History())
}

func TestAuthorityOutputFailureKeepsState(t *testing.T) {
	bus := memory.NewBus()
	out := output.NewDummyOutput("4")
	a := newAuthority(t, bus, out)
	sub := observe(t, bus)
	ctx := context.Background()

	out.Fail(errors.New("line busy"))
	err := a.SetState(ctx, switchstate.On)
	assert.ErrorIs(t, err, ErrOutputDrive)
	assert.NotErrorIs(t, err, ErrTransport)

	s, _ := a.GetState(ctx)
	assert.Equal(t, switchstate.On, s)
	assert.Equal(t, output.Low, out.Level())
	assert.Equal(t, switchstate.On, nextReport(t, sub).State)

	out.Fail(nil)
	require.NoError(t, a.SetState(ctx, switchstate.On))
	assert.Equal(t, output.High, out.Level())
}

func TestAuthorityPublishFailure(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx := context.Background()

	bus.FailPublishes(errors.New("broker gone"))
	err := a.SetState(ctx, switchstate.On)
	assert.ErrorIs(t, err, ErrTransport)

	s, _ := a.GetState(ctx)
	assert.Equal(t, switchstate.On, s)
}

func TestAuthorityAnswersQueries(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx := context.Background()

	s, err := p.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.Off, s)

	require.NoError(t, a.SetState(ctx, switchstate.On))
	s, err = p.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.On, s)

	// answering a query is not a write
	assert.Equal(t, uint64(1), a.notifier.Snapshot().Writes)
}

func TestRemoteCommandDrivesHardware(t *testing.T) {
	bus := memory.NewBus()
	out := output.NewDummyOutput("17")
	a := newAuthority(t, bus, out)
	p := newProxy(t, bus)
	sub := observe(t, bus)
	ctx := context.Background()

	require.NoError(t, p.SetState(ctx, switchstate.On))

	msg := nextReport(t, sub)
	assert.Equal(t, switchstate.On, msg.State)
	assert.Equal(t, a.session.ID(), msg.Origin)
	assert.Equal(t, output.High, out.Level())

	s, err := a.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.On, s)
}

func TestAuthorityIgnoresOwnEcho(t *testing.T) {
	bus := memory.NewBus()
	newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	sub := observe(t, bus)
	ctx := context.Background()

	require.NoError(t, p.SetState(ctx, switchstate.On))
	assert.Equal(t, switchstate.On, nextReport(t, sub).State)

	// The authority handles its own echo before the next command, so a
	// republished echo would show up as a second On report.
	require.NoError(t, p.SetState(ctx, switchstate.Off))
	assert.Equal(t, switchstate.Off, nextReport(t, sub).State)
}

func TestAuthorityIgnoresForeignReports(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx := context.Background()

	rogue := bus.NewSession()
	defer rogue.Close() //nolint:errcheck
	require.NoError(t, rogue.Publish(ctx, testPath, transport.Message{
		State:  switchstate.On,
		Origin: rogue.ID(),
		Kind:   transport.KindReport,
	}))

	// a command sent after the report is handled after it
	require.NoError(t, p.SetState(ctx, switchstate.Off))
	assert.Eventually(t, func() bool {
		return a.notifier.Snapshot().Writes == 1
	}, eventual, tick)

	s, _ := a.GetState(ctx)
	assert.Equal(t, switchstate.Off, s)
}

func TestAuthorityWaitForChange(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx := context.Background()

	done := waitFrom(ctx, a.notifier)

	require.NoError(t, a.SetState(ctx, switchstate.Off))
	require.NoError(t, a.SetState(ctx, switchstate.Off))
	select {
	case r := <-done:
		require.FailNow(t, "redundant write ended the wait", "got %v", r)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.SetState(ctx, switchstate.On))
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, switchstate.On, r.state)
	case <-time.After(eventual):
		require.FailNow(t, "waiter was not woken")
	}
}

func TestWaitForChangePublicAPI(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx := context.Background()

	done := make(chan waitResult, 1)
	go func() {
		s, err := a.WaitForChange(ctx)
		done <- waitResult{s, err}
	}()

	// Keep flipping until the waiter has started and sees a change.
	var got waitResult
	assert.Eventually(t, func() bool {
		if _, err := Toggle(ctx, a); err != nil {
			return false
		}
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, eventual, tick)
	require.NoError(t, got.err)
}

func TestWaitForChangeTimeout(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)

	for _, sw := range []Switch{a, p} {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := sw.WaitForChange(ctx)
		cancel()
		assert.ErrorIs(t, err, ErrTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.WaitForChange(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestProxyWithoutAuthority(t *testing.T) {
	bus := memory.NewBus()
	p := newProxy(t, bus)

	s, err := p.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, switchstate.Off, s)

	// the command goes nowhere but is still accepted
	require.NoError(t, p.SetState(context.Background(), switchstate.On))
}

func TestProxyQueryDeadline(t *testing.T) {
	bus := memory.NewBus()
	p := newProxy(t, bus)

	stuck := bus.NewSession()
	defer stuck.Close() //nolint:errcheck
	_, err := stuck.RegisterResponder(context.Background(), testPath, func(ctx context.Context) (transport.Message, error) {
		<-ctx.Done()
		return transport.Message{}, ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.GetState(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestProxyDefaultQueryTimeout(t *testing.T) {
	bus := memory.NewBus()
	session := bus.NewSession()
	defer session.Close() //nolint:errcheck
	p, err := NewProxy(context.Background(), ProxyConfig{
		Session:      session,
		Path:         testPath,
		QueryTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	stuck := bus.NewSession()
	defer stuck.Close() //nolint:errcheck
	_, err = stuck.RegisterResponder(context.Background(), testPath, func(ctx context.Context) (transport.Message, error) {
		<-ctx.Done()
		return transport.Message{}, ctx.Err()
	})
	require.NoError(t, err)

	_, err = p.GetState(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestProxyTransportFailure(t *testing.T) {
	bus := memory.NewBus()
	p := newProxy(t, bus)

	bus.FailPublishes(errors.New("broker gone"))
	err := p.SetState(context.Background(), switchstate.On)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestProxyMirrorsReportsOnly(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx := context.Background()

	other := bus.NewSession()
	defer other.Close() //nolint:errcheck
	require.NoError(t, other.Publish(ctx, testPath, transport.Message{
		State:  switchstate.On,
		Origin: other.ID(),
		Kind:   transport.KindCommand,
	}))

	// the command reaches the authority and comes back as a report
	assert.Eventually(t, func() bool {
		return p.notifier.State() == switchstate.On
	}, eventual, tick)
	assert.Equal(t, uint64(1), p.notifier.Snapshot().Writes)

	s, _ := a.GetState(ctx)
	assert.Equal(t, switchstate.On, s)
}

func TestProxiesConverge(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	proxies := []*Proxy{newProxy(t, bus), newProxy(t, bus), newProxy(t, bus)}
	ctx := context.Background()

	require.NoError(t, proxies[0].SetState(ctx, switchstate.On))
	require.NoError(t, a.SetState(ctx, switchstate.Off))
	require.NoError(t, proxies[2].SetState(ctx, switchstate.On))

	assert.Eventually(t, func() bool {
		return a.notifier.Snapshot().Writes == 3
	}, eventual, tick)

	want, _ := a.GetState(ctx)
	for _, p := range proxies {
		assert.Eventually(t, func() bool {
			return p.notifier.State() == want
		}, eventual, tick)

		s, err := p.GetState(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, s)
	}
}

func TestProxySetThenGetIsEventual(t *testing.T) {
	bus := memory.NewBus()
	newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx := context.Background()

	// SetState returns before the authority applies the command, so an
	// immediate GetState may still see Off. It converges.
	require.NoError(t, p.SetState(ctx, switchstate.On))
	assert.Eventually(t, func() bool {
		s, err := p.GetState(ctx)
		return err == nil && s == switchstate.On
	}, eventual, tick)
}

func TestConcurrentWaitersOnProxy(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx, cancel := context.WithTimeout(context.Background(), eventual)
	defer cancel()

	var waiters []<-chan waitResult
	for i := 0; i < 8; i++ {
		waiters = append(waiters, waitFrom(ctx, p.notifier))
	}

	require.NoError(t, a.SetState(ctx, switchstate.On))

	for _, w := range waiters {
		r := <-w
		require.NoError(t, r.err)
		assert.Equal(t, switchstate.On, r.state)
	}
}

func TestToggle(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx := context.Background()

	next, err := Toggle(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, switchstate.On, next)

	next, err = Toggle(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, switchstate.Off, next)
}

func TestWatch(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []switchstate.State
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, a, func(s switchstate.State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, s)
		})
	}()

	assert.Eventually(t, func() bool {
		if _, err := Toggle(context.Background(), a); err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, eventual, tick)

	cancel()
	assert.NoError(t, <-done)
}

func TestClosedParticipants(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	p := newProxy(t, bus)
	ctx := context.Background()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.SetState(ctx, switchstate.On), ErrClosed)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.SetState(ctx, switchstate.On), ErrClosed)
	_, err := p.GetState(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	// only the authority's responder was registered, and it is gone
	q := newProxy(t, bus)
	s, err := q.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.Off, s)
	assert.Equal(t, 1, bus.Subscribers(testPath))
}

// heldSession holds every Publish until release is closed.
type heldSession struct {
	transport.Session
	entered chan struct{}
	release chan struct{}
}

func (s *heldSession) Publish(ctx context.Context, path string, msg transport.Message) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Session.Publish(ctx, path, msg)
}

func TestReadsDoNotWaitForPublish(t *testing.T) {
	bus := memory.NewBus()
	inner := bus.NewSession()
	defer inner.Close() //nolint:errcheck
	session := &heldSession{
		Session: inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	a, err := NewAuthority(context.Background(), AuthorityConfig{Session: session, Path: testPath})
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	p := newProxy(t, bus)

	ctx := context.Background()
	setErrs := make(chan error, 2)
	go func() { setErrs <- a.SetState(ctx, switchstate.On) }()
	select {
	case <-session.entered:
	case <-time.After(eventual):
		require.FailNow(t, "publish was never attempted")
	}
	go func() { setErrs <- a.SetState(ctx, switchstate.Off) }()
	time.Sleep(20 * time.Millisecond)

	got := make(chan switchstate.State, 1)
	go func() {
		s, _ := a.GetState(ctx)
		got <- s
	}()
	select {
	case s := <-got:
		assert.Equal(t, switchstate.On, s)
	case <-time.After(300 * time.Millisecond):
		require.FailNow(t, "authority GetState blocked behind a publish")
	}

	qctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	s, err := p.GetState(qctx)
	require.NoError(t, err)
	assert.Equal(t, switchstate.On, s)

	close(session.release)
	for i := 0; i < 2; i++ {
		require.NoError(t, <-setErrs)
	}
	s, _ = a.GetState(ctx)
	assert.Equal(t, switchstate.Off, s)
}

func TestProxyStartsFromAuthorityState(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx := context.Background()
	require.NoError(t, a.SetState(ctx, switchstate.On))

	p := newProxy(t, bus)
	assert.Equal(t, switchstate.On, p.notifier.State())

	wctx, cancel := context.WithTimeout(ctx, eventual)
	defer cancel()
	done := waitFrom(wctx, p.notifier)

	// a repeated report of the seeded state is not a change
	require.NoError(t, a.SetState(ctx, switchstate.On))
	select {
	case r := <-done:
		require.FailNow(t, "redundant report ended the wait", "got %v", r)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.SetState(ctx, switchstate.Off))
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, switchstate.Off, r.state)
}

func TestConcurrentWaitersOnAuthority(t *testing.T) {
	bus := memory.NewBus()
	a := newAuthority(t, bus, nil)
	ctx, cancel := context.WithTimeout(context.Background(), eventual)
	defer cancel()

	var waiters []<-chan waitResult
	for i := 0; i < 8; i++ {
		waiters = append(waiters, waitFrom(ctx, a.notifier))
	}

	// a redundant write does not end any wait
	require.NoError(t, a.SetState(ctx, switchstate.Off))
	require.NoError(t, a.SetState(ctx, switchstate.On))

	for _, w := range waiters {
		r := <-w
		require.NoError(t, r.err)
		assert.Equal(t, switchstate.On, r.state)
	}
}
