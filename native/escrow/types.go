package escrow

import (
	"errors"
	"fmt"
	"math/big"
)

// Status tracks a job escrow through its one-way state machine.
type Status uint8

const (
	// StatusLocked holds the client's maximum cost with no worker yet.
	StatusLocked Status = iota
	// StatusAssigned has a worker attached and awaits completion.
	StatusAssigned
	// StatusCompleted settled the actual cost and refunded the delta.
	StatusCompleted
	// StatusRefunded returned the locked funds to the client.
	StatusRefunded
	// StatusDisputed froze the escrow pending an owner decision.
	StatusDisputed
)

// String renders the status for events and errors.
func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusAssigned:
		return "assigned"
	case StatusCompleted:
		return "completed"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// CanTransition reports whether moving from s to next is a legal step.
// Completed and Refunded are terminal; Disputed resolves to either.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusLocked:
		return next == StatusAssigned || next == StatusRefunded || next == StatusDisputed
	case StatusAssigned:
		return next == StatusCompleted || next == StatusRefunded || next == StatusDisputed
	case StatusDisputed:
		return next == StatusCompleted || next == StatusRefunded
	default:
		return false
	}
}

// Entry records one job escrow. Amount is the value still held by the vault
// and drops to zero on settlement or refund; MaxCost keeps the original lock
// for auditing.
type Entry struct {
	ID         [32]byte `json:"id"`
	Client     [20]byte `json:"client"`
	Worker     [20]byte `json:"worker"`
	Amount     *big.Int `json:"amount"`
	MaxCost    *big.Int `json:"maxCost"`
	ActualCost *big.Int `json:"actualCost"`
	Status     Status   `json:"status"`
	CreatedAt  int64    `json:"createdAt"`
	Deadline   int64    `json:"deadline"`
}

func (e *Entry) ensure() *Entry {
	if e == nil {
		return &Entry{Amount: big.NewInt(0), MaxCost: big.NewInt(0), ActualCost: big.NewInt(0)}
	}
	if e.Amount == nil {
		e.Amount = big.NewInt(0)
	}
	if e.MaxCost == nil {
		e.MaxCost = big.NewInt(0)
	}
	if e.ActualCost == nil {
		e.ActualCost = big.NewInt(0)
	}
	return e
}

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidTransition rejects an illegal status change.
	ErrInvalidTransition = errors.New("escrow: invalid status transition")
	// ErrOnlyOwner rejects dispute resolutions from non-owners.
	ErrOnlyOwner = errors.New("escrow: only owner")
	// ErrNotClient rejects client-only operations from other callers.
	ErrNotClient = errors.New("escrow: caller is not the client")
	// ErrNotParty rejects dispute flags from addresses outside the job.
	ErrNotParty = errors.New("escrow: caller is not a party to the job")
	// ErrCostExceedsMax rejects completions above the locked maximum.
	ErrCostExceedsMax = errors.New("escrow: actual cost exceeds max cost")
	// ErrDeadlineNotPassed rejects refunds before the job deadline.
	ErrDeadlineNotPassed = errors.New("escrow: deadline has not passed")
	// ErrWorkerIsVault rejects assigning the custody vault as the worker.
	ErrWorkerIsVault = errors.New("escrow: worker cannot be the vault")
)
