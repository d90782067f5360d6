package epoch

import (
	"errors"
	"sync"
)

// ErrNotOperator is returned when a caller without operator rights attempts to
// advance the epoch counter.
var ErrNotOperator = errors.New("epoch: caller is not an operator")

// Store persists the epoch counter between process restarts. Begin and End
// scope the counter write so an advancement serializes against the settlement
// engines sharing the same backend.
type Store interface {
	EpochGet() (uint64, bool, error)
	EpochPut(uint64) error
	Begin()
	End(errp *error)
}

// Tracker maintains the operator-advanced accounting epoch shared by the
// settlement engines. Epochs are explicit, pull-based periods: nothing in the
// engines schedules an advancement, an operator triggers it.
type Tracker struct {
	mu        sync.RWMutex
	store     Store
	current   uint64
	operators map[[20]byte]bool
}

// NewTracker constructs a tracker starting at epoch zero. A nil store keeps
// the counter purely in memory.
func NewTracker(store Store) (*Tracker, error) {
	t := &Tracker{store: store, operators: make(map[[20]byte]bool)}
	if store != nil {
		current, ok, err := store.EpochGet()
		if err != nil {
			return nil, err
		}
		if ok {
			t.current = current
		}
	}
	return t, nil
}

// SetOperator grants or revoke the right to advance epochs.
func (t *Tracker) SetOperator(addr [20]byte, allowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if allowed {
		t.operators[addr] = true
		return
	}
	delete(t.operators, addr)
}

// Current returns the active epoch number.
func (t *Tracker) Current() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Advance increments the epoch counter when invoked by a registered operator
// and returns the new epoch.
func (t *Tracker) Advance(caller [20]byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.operators) > 0 && !t.operators[caller] {
		return 0, ErrNotOperator
	}
	next := t.current + 1
	if t.store != nil {
		t.store.Begin()
		err := t.store.EpochPut(next)
		t.store.End(&err)
		if err != nil {
			return 0, err
		}
	}
	t.current = next
	return next, nil
}
