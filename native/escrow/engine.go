package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"sagemarket/core/events"
	"sagemarket/native/bank"
	"sagemarket/native/common"
	"sagemarket/native/fees"
)

// ModuleName identifies the escrow engine for pause guards and events.
const ModuleName = "escrow"

var (
	errNilState    = errors.New("escrow: state not configured")
	errNilTransfer = errors.New("escrow: transfer engine not configured")
	errNilFees     = errors.New("escrow: fee processor not configured")

	sequenceKey = []byte("escrow/sequence")
)

// Storage is the flat keyspace the engine persists into.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Begin()
	End(errp *error)
}

// Transferor moves token balances on the engine's behalf.
type Transferor interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// FeeProcessor settles a completed job's cost through the fee split. The
// engine calls it inside its own open write scope, so the processor must not
// open another one; the fee engine's Distribute entry satisfies this.
type FeeProcessor interface {
	Distribute(caller, source, worker [20]byte, gmv *big.Int) (*fees.Breakdown, error)
}

// Engine locks client funds against a job's maximum cost and settles them on
// completion, refund, or dispute resolution. The vault address custodies all
// locked value and acts as the fee path's authorized caller.
type Engine struct {
	state     Storage
	transfers Transferor
	feePath   FeeProcessor
	emitter   events.Emitter
	pauses    common.PauseView
	owner     [20]byte
	vault     [20]byte
	nowFn     func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and wall-clock time.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetTransferor configures the token mover.
func (e *Engine) SetTransferor(t Transferor) { e.transfers = t }

// SetFeeProcessor configures the fee settlement path.
func (e *Engine) SetFeeProcessor(p FeeProcessor) { e.feePath = p }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetOwner configures the dispute administrator.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetVault configures the address custodying locked funds. The same address
// must be registered as an authorized caller on the fee engine.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetNowFunc overrides the time source. Primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *escrowEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(*evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfer
	}
	return nil
}

func entryKey(id [32]byte) []byte {
	return []byte("escrow/entry/" + hex.EncodeToString(id[:]))
}

func (e *Engine) nextJobID(client [20]byte) ([32]byte, error) {
	var seq uint64
	if _, err := e.state.KVGet(sequenceKey, &seq); err != nil {
		return [32]byte{}, err
	}
	seq++
	if err := e.state.KVPut(sequenceKey, seq); err != nil {
		return [32]byte{}, err
	}
	payload := make([]byte, 0, 36)
	payload = append(payload, []byte("escrow")...)
	payload = append(payload, client[:]...)
	payload = binary.BigEndian.AppendUint64(payload, seq)
	return ethcrypto.Keccak256Hash(payload), nil
}

// Get returns the stored escrow entry for a job id.
func (e *Engine) Get(id [32]byte) (*Entry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry := &Entry{}
	ok, err := e.state.KVGet(entryKey(id), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return entry.ensure(), nil
}

func (e *Engine) put(entry *Entry) error {
	return e.state.KVPut(entryKey(entry.ID), entry)
}

func (e *Engine) transition(entry *Entry, next Status) error {
	if !entry.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.Status, next)
	}
	entry.Status = next
	return nil
}

// CreateEscrow locks maxCost from the client into the vault and opens a new
// escrow in the Locked state. deadlineSecs bounds how long the client waits
// before a unilateral refund becomes available.
func (e *Engine) CreateEscrow(client [20]byte, maxCost *big.Int, deadlineSecs int64) (entry *Entry, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	if maxCost == nil || maxCost.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: max cost must be positive")
	}
	if deadlineSecs <= 0 {
		return nil, fmt.Errorf("escrow: deadline must be positive")
	}
	id, err := e.nextJobID(client)
	if err != nil {
		return nil, err
	}
	if err := e.transfers.Transfer(client, e.vault, bank.TokenSAGE, maxCost); err != nil {
		return nil, err
	}
	now := e.now()
	entry = &Entry{
		ID:         id,
		Client:     client,
		Amount:     common.CopyBig(maxCost),
		MaxCost:    common.CopyBig(maxCost),
		ActualCost: big.NewInt(0),
		Status:     StatusLocked,
		CreatedAt:  now,
		Deadline:   now + deadlineSecs,
	}
	if err := e.put(entry); err != nil {
		return nil, err
	}
	e.emit(newCreatedEvent(entry))
	return entry, nil
}

// AssignWorker attaches a worker to a locked escrow.
func (e *Engine) AssignWorker(caller [20]byte, id [32]byte, worker [20]byte) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if worker == e.vault {
		return ErrWorkerIsVault
	}
	e.state.Begin()
	defer e.state.End(&err)
	entry, err := e.Get(id)
	if err != nil {
		return err
	}
	if caller != entry.Client && caller != e.owner {
		return ErrNotClient
	}
	if err := e.transition(entry, StatusAssigned); err != nil {
		return err
	}
	entry.Worker = worker
	if err := e.put(entry); err != nil {
		return err
	}
	e.emit(newAssignedEvent(entry))
	return nil
}

// CompleteJob settles an assigned escrow: the actual cost flows through the
// fee split to the worker and the unused remainder returns to the client, in
// the same call. The locked amount drops to zero.
func (e *Engine) CompleteJob(caller [20]byte, id [32]byte, actualCost *big.Int) (breakdown *fees.Breakdown, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.feePath == nil {
		return nil, errNilFees
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	entry, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if caller != entry.Client && caller != e.owner {
		return nil, ErrNotClient
	}
	if actualCost == nil || actualCost.Sign() < 0 {
		return nil, fmt.Errorf("escrow: actual cost must be non-negative")
	}
	if actualCost.Cmp(entry.MaxCost) > 0 {
		return nil, ErrCostExceedsMax
	}
	if err := e.transition(entry, StatusCompleted); err != nil {
		return nil, err
	}
	breakdown, err = e.feePath.Distribute(e.vault, e.vault, entry.Worker, actualCost)
	if err != nil {
		return nil, err
	}
	refund := new(big.Int).Sub(entry.Amount, actualCost)
	if refund.Sign() > 0 {
		if err := e.transfers.Transfer(e.vault, entry.Client, bank.TokenSAGE, refund); err != nil {
			return nil, err
		}
	}
	entry.ActualCost = common.CopyBig(actualCost)
	entry.Amount = big.NewInt(0)
	if err := e.put(entry); err != nil {
		return nil, err
	}
	e.emit(newCompletedEvent(entry, refund))
	return breakdown, nil
}

// RequestRefund returns the locked funds to the client. Only the client may
// call, and only after the deadline on a job that never completed.
func (e *Engine) RequestRefund(caller [20]byte, id [32]byte) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	e.state.Begin()
	defer e.state.End(&err)
	entry, err := e.Get(id)
	if err != nil {
		return err
	}
	if caller != entry.Client {
		return ErrNotClient
	}
	if e.now() < entry.Deadline {
		return ErrDeadlineNotPassed
	}
	return e.refund(entry)
}

func (e *Engine) refund(entry *Entry) error {
	if err := e.transition(entry, StatusRefunded); err != nil {
		return err
	}
	if entry.Amount.Sign() > 0 {
		if err := e.transfers.Transfer(e.vault, entry.Client, bank.TokenSAGE, entry.Amount); err != nil {
			return err
		}
	}
	refunded := entry.Amount
	entry.Amount = big.NewInt(0)
	if err := e.put(entry); err != nil {
		return err
	}
	e.emit(newRefundedEvent(entry, refunded))
	return nil
}

// FlagDispute freezes an escrow pending an owner decision. Either party to
// the job may flag.
func (e *Engine) FlagDispute(caller [20]byte, id [32]byte) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	e.state.Begin()
	defer e.state.End(&err)
	entry, err := e.Get(id)
	if err != nil {
		return err
	}
	if caller != entry.Client && caller != entry.Worker {
		return ErrNotParty
	}
	if err := e.transition(entry, StatusDisputed); err != nil {
		return err
	}
	if err := e.put(entry); err != nil {
		return err
	}
	e.emit(newDisputedEvent(entry))
	return nil
}

// ResolveDispute settles a disputed escrow by owner decision: refundClient
// returns the full lock to the client, otherwise the whole lock settles
// through the fee path to the worker.
func (e *Engine) ResolveDispute(caller [20]byte, id [32]byte, refundClient bool) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	e.state.Begin()
	defer e.state.End(&err)
	if caller != e.owner {
		return ErrOnlyOwner
	}
	entry, err := e.Get(id)
	if err != nil {
		return err
	}
	if entry.Status != StatusDisputed {
		return fmt.Errorf("%w: %s is not disputed", ErrInvalidTransition, entry.Status)
	}
	if refundClient {
		return e.refund(entry)
	}
	if e.feePath == nil {
		return errNilFees
	}
	if err := e.transition(entry, StatusCompleted); err != nil {
		return err
	}
	if _, err := e.feePath.Distribute(e.vault, e.vault, entry.Worker, entry.Amount); err != nil {
		return err
	}
	entry.ActualCost = common.CopyBig(entry.Amount)
	entry.Amount = big.NewInt(0)
	if err := e.put(entry); err != nil {
		return err
	}
	e.emit(newCompletedEvent(entry, big.NewInt(0)))
	return nil
}
