package vesting

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"sagemarket/core/events"
	"sagemarket/native/bank"
	"sagemarket/native/common"
)

// ModuleName identifies the vesting ledger for pause guards and events.
const ModuleName = "vesting"

var (
	errNilState    = errors.New("vesting: state not configured")
	errNilTransfer = errors.New("vesting: transfer engine not configured")
	errNilEpochs   = errors.New("vesting: epoch source not configured")

	paramsKey = []byte("vesting/params")
)

// Storage is the flat keyspace the ledger persists into.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Begin()
	End(errp *error)
}

// Transferor moves token balances on the ledger's behalf.
type Transferor interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// EpochSource reports the active accounting epoch.
type EpochSource interface {
	Current() uint64
}

// Engine escrows reward grants under type-specific linear vesting schedules
// and settles claims as of the current epoch. Grant funding moves inside the
// grant call itself, so a dust-suppressed grant never strands tokens in the
// vault.
type Engine struct {
	state      Storage
	transfers  Transferor
	epochs     EpochSource
	emitter    events.Emitter
	pauses     common.PauseView
	owner      [20]byte
	vault      [20]byte
	authorized map[[20]byte]bool
}

// NewEngine creates a vesting ledger with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}, authorized: make(map[[20]byte]bool)}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetTransferor configures the token mover.
func (e *Engine) SetTransferor(t Transferor) { e.transfers = t }

// SetEpochSource configures the epoch clock.
func (e *Engine) SetEpochSource(s EpochSource) { e.epochs = s }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetOwner configures the parameter administrator.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetVault configures the address custodying unvested grants.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetAuthorizedCaller grants or revokes granting rights. The owner is always
// authorized.
func (e *Engine) SetAuthorizedCaller(addr [20]byte, allowed bool) {
	if allowed {
		e.authorized[addr] = true
		return
	}
	delete(e.authorized, addr)
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *vestingEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(*evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transfers == nil {
		return errNilTransfer
	}
	if e.epochs == nil {
		return errNilEpochs
	}
	return nil
}

func entriesKey(addr [20]byte) []byte {
	return []byte("vesting/entries/" + hex.EncodeToString(addr[:]))
}

// Params returns the active parameters, falling back to defaults.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params := Params{}
	ok, err := e.state.KVGet(paramsKey, &params)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return DefaultParams(), nil
	}
	if params.MinVestAmount == nil {
		params.MinVestAmount = big.NewInt(0)
	}
	return params, nil
}

// SetParams replaces the vesting parameters. Only the owner may call.
func (e *Engine) SetParams(caller [20]byte, params Params) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	if params.MinVestAmount != nil && params.MinVestAmount.Sign() < 0 {
		return fmt.Errorf("vesting: min vest amount must be non-negative")
	}
	e.state.Begin()
	defer e.state.End(&err)
	return e.state.KVPut(paramsKey, params)
}

// EntriesOf returns the stored grant entries for a participant.
func (e *Engine) EntriesOf(participant [20]byte) ([]Entry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var entries []Entry
	if _, err := e.state.KVGet(entriesKey(participant), &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i] = *(&entries[i]).ensure()
	}
	return entries, nil
}

func (e *Engine) putEntries(participant [20]byte, entries []Entry) error {
	return e.state.KVPut(entriesKey(participant), entries)
}

// Grant escrows a reward under the schedule for its type. Grants below the
// dust threshold are suppressed: the call reports false and moves no funds.
// Accepted grants pull the amount from source into the vesting vault within
// the same call.
func (e *Engine) Grant(caller, source, participant [20]byte, amount *big.Int, rewardType RewardType) (_ bool, err error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return false, err
	}
	if caller != e.owner && !e.authorized[caller] {
		return false, ErrUnauthorized
	}
	if !rewardType.Valid() {
		return false, fmt.Errorf("vesting: invalid reward type %d", rewardType)
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("vesting: amount must be positive")
	}
	e.state.Begin()
	defer e.state.End(&err)
	params, err := e.Params()
	if err != nil {
		return false, err
	}
	if params.MinVestAmount != nil && amount.Cmp(params.MinVestAmount) < 0 {
		return false, nil
	}
	if err := e.transfers.Transfer(source, e.vault, bank.TokenSAGE, amount); err != nil {
		return false, err
	}
	start := e.epochs.Current()
	entry := Entry{
		Amount:     common.CopyBig(amount),
		StartEpoch: start,
		EndEpoch:   start + params.VestEpochs(rewardType),
		Claimed:    big.NewInt(0),
		RewardType: rewardType,
	}
	entries, err := e.EntriesOf(participant)
	if err != nil {
		return false, err
	}
	entries = append(entries, entry)
	if err := e.putEntries(participant, entries); err != nil {
		return false, err
	}
	e.emit(newGrantedEvent(participant, &entry, len(entries)-1))
	return true, nil
}

// ClaimableOf sums the currently claimable value across all of a
// participant's entries.
func (e *Engine) ClaimableOf(participant [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	entries, err := e.EntriesOf(participant)
	if err != nil {
		return nil, err
	}
	epoch := e.epochs.Current()
	total := big.NewInt(0)
	for i := range entries {
		total.Add(total, entries[i].ClaimableAt(epoch))
	}
	return total, nil
}

// Claim settles every entry for the participant and pays the sum from the
// vault. This walks all entries ever created for the participant; ClaimEntry
// offers a bounded alternative for accounts with long grant histories.
func (e *Engine) Claim(participant [20]byte) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	entries, err := e.EntriesOf(participant)
	if err != nil {
		return nil, err
	}
	epoch := e.epochs.Current()
	total := big.NewInt(0)
	for i := range entries {
		claimable := entries[i].ClaimableAt(epoch)
		if claimable.Sign() == 0 {
			continue
		}
		entries[i].Claimed = new(big.Int).Add(entries[i].Claimed, claimable)
		total.Add(total, claimable)
	}
	if total.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.transfers.Transfer(e.vault, participant, bank.TokenSAGE, total); err != nil {
		return nil, err
	}
	if err := e.putEntries(participant, entries); err != nil {
		return nil, err
	}
	e.emit(newClaimedEvent(participant, total, epoch))
	return total, nil
}

// ClaimEntry settles a single entry by index.
func (e *Engine) ClaimEntry(participant [20]byte, index int) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	entries, err := e.EntriesOf(participant)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(entries) {
		return nil, ErrEntryNotFound
	}
	epoch := e.epochs.Current()
	claimable := entries[index].ClaimableAt(epoch)
	if claimable.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.transfers.Transfer(e.vault, participant, bank.TokenSAGE, claimable); err != nil {
		return nil, err
	}
	entries[index].Claimed = new(big.Int).Add(entries[index].Claimed, claimable)
	if err := e.putEntries(participant, entries); err != nil {
		return nil, err
	}
	e.emit(newClaimedEvent(participant, claimable, epoch))
	return claimable, nil
}
