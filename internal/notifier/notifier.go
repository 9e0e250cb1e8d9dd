// Package notifier provides a single-slot broadcast of the latest switch
// state. There is one writer and any number of readers; each reader can wait
// for the next actual change of the value.
package notifier

import (
	"context"
	"sync"

	"github.com/larsks/switchsync/internal/switchstate"
)

// Snapshot is the notifier's view at one instant.
type Snapshot struct {
	State switchstate.State

	// Writes counts every broadcast, including redundant ones.
	Writes uint64

	// Changes counts broadcasts whose value differed from the previous
	// value.
	Changes uint64
}

// Notifier broadcasts state writes to waiters.
type Notifier struct {
	mu      sync.Mutex
	current Snapshot
	wake    chan struct{}
}

// New returns a notifier holding the given initial state.
func New(initial switchstate.State) *Notifier {
	return &Notifier{
		current: Snapshot{State: initial},
		wake:    make(chan struct{}),
	}
}

// Broadcast records a write and wakes every waiter. Writing the current value
// again still wakes waiters, but does not count as a change.
func (n *Notifier) Broadcast(s switchstate.State) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.current.Writes++
	if s != n.current.State {
		n.current.Changes++
	}
	n.current.State = s

	close(n.wake)
	n.wake = make(chan struct{})
}

// Snapshot returns the latest value and its counters.
func (n *Notifier) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// State returns the latest value.
func (n *Notifier) State() switchstate.State {
	return n.Snapshot().State
}

// Next blocks until at least one write newer than since.Writes has been
// broadcast and returns the resulting snapshot.
func (n *Notifier) Next(ctx context.Context, since Snapshot) (Snapshot, error) {
	for {
		n.mu.Lock()
		cur := n.current
		wake := n.wake
		n.mu.Unlock()

		if cur.Writes > since.Writes {
			return cur, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// WaitForChange blocks until the value has changed at least once since the
// call began and returns the value at that point. Redundant writes of the
// value the caller started with are skipped. A change followed by a change
// back (On, Off, On) still ends the wait, because changes are counted rather
// than compared.
func (n *Notifier) WaitForChange(ctx context.Context) (switchstate.State, error) {
	initial := n.Snapshot()
	return n.waitForChangeSince(ctx, initial)
}

// WaitForChangeSince is like WaitForChange but measures from a snapshot the
// caller took earlier.
func (n *Notifier) WaitForChangeSince(ctx context.Context, since Snapshot) (switchstate.State, error) {
	return n.waitForChangeSince(ctx, since)
}

func (n *Notifier) waitForChangeSince(ctx context.Context, since Snapshot) (switchstate.State, error) {
	cur := since
	for {
		next, err := n.Next(ctx, cur)
		if err != nil {
			return next.State, err
		}
		if next.Changes > since.Changes {
			return next.State, nil
		}
		cur = next
	}
}
