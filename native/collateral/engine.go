package collateral

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"sagemarket/core/events"
	"sagemarket/native/bank"
	"sagemarket/native/common"
)

// ModuleName identifies the weighting engine for pause guards and events.
const ModuleName = "collateral"

var (
	errNilState    = errors.New("collateral: state not configured")
	errNilTransfer = errors.New("collateral: transfer engine not configured")
	errNilEpochs   = errors.New("collateral: epoch source not configured")

	paramsKey      = []byte("collateral/params")
	totalActiveKey = []byte("collateral/totalActive")
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

// EpochSource reports the active accounting epoch.
type EpochSource interface {
	Current() uint64
}

// Engine gates participant weight behind SAGE collateral, manages the
// deposit/unbond/withdraw lifecycle and applies proportional slashing.
type Engine struct {
	state     Storage
	transfers Transferor
	epochs    EpochSource
	emitter   events.Emitter
	pauses    common.PauseView
	owner     [20]byte
	vault     [20]byte
	slashers  map[[20]byte]bool
	nowFn     func() uint64
}

// NewEngine creates a collateral engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		slashers: make(map[[20]byte]bool),
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
	}
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

// SetVault configures the address custodying deposited collateral.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetSlasher grants or revokes slash authority. The owner can always slash.
func (e *Engine) SetSlasher(addr [20]byte, allowed bool) {
	if allowed {
		e.slashers[addr] = true
		return
	}
	delete(e.slashers, addr)
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
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

func (e *Engine) emit(evt *collateralEvent) {
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

func participantKey(addr [20]byte) []byte {
	return []byte("collateral/participant/" + hex.EncodeToString(addr[:]))
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
	if params.CollateralPerWeightUnit == nil {
		params.CollateralPerWeightUnit = DefaultParams().CollateralPerWeightUnit
	}
	return params, nil
}

// SetParams replaces the weighting parameters. Only the owner may call.
func (e *Engine) SetParams(caller [20]byte, params Params) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.state.Begin()
	defer e.state.End(&err)
	return e.state.KVPut(paramsKey, params)
}

// StateOf returns the stored collateral state for a participant, zero-valued
// when none exists.
func (e *Engine) StateOf(participant [20]byte) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st := &State{}
	ok, err := e.state.KVGet(participantKey(participant), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&State{}).ensure(), nil
	}
	return st.ensure(), nil
}

func (e *Engine) putState(participant [20]byte, st *State) error {
	return e.state.KVPut(participantKey(participant), st.ensure())
}

// TotalActiveCollateral reports the global active collateral aggregate.
func (e *Engine) TotalActiveCollateral() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total := big.NewInt(0)
	if _, err := e.state.KVGet(totalActiveKey, total); err != nil {
		return nil, err
	}
	return total, nil
}

func (e *Engine) adjustTotalActive(delta *big.Int) error {
	total, err := e.TotalActiveCollateral()
	if err != nil {
		return err
	}
	total.Add(total, delta)
	if total.Sign() < 0 {
		return errors.New("collateral: total active underflow")
	}
	return e.state.KVPut(totalActiveKey, total)
}

// effectiveWeight derives the collateral-gated weight for the given state.
// During the grace period the potential weight passes through unconditionally;
// afterwards a base share is granted outright and the remainder must be backed
// at CollateralPerWeightUnit.
func effectiveWeight(params Params, st *State, epoch uint64) *big.Int {
	st = st.ensure()
	if st.PotentialWeight.Sign() <= 0 {
		return big.NewInt(0)
	}
	if epoch <= params.GracePeriodEndEpoch {
		return new(big.Int).Set(st.PotentialWeight)
	}
	base := common.PercentOf(st.PotentialWeight, params.BaseRatioBps)
	eligible := new(big.Int).Sub(st.PotentialWeight, base)
	maxBacked := new(big.Int).Div(st.Active, params.CollateralPerWeightUnit)
	activated := common.MinBig(maxBacked, eligible)
	return new(big.Int).Add(base, activated)
}

// SetPotentialWeight updates the raw weight a participant could earn and
// re-derives the effective weight. Only the owner or a registered slasher
// authority (the staking module feeding weights) may call.
func (e *Engine) SetPotentialWeight(caller, participant [20]byte, weight *big.Int) (_ *State, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller != e.owner && !e.slashers[caller] {
		return nil, ErrUnauthorizedSlasher
	}
	if weight == nil || weight.Sign() < 0 {
		return nil, fmt.Errorf("collateral: potential weight must be non-negative")
	}
	e.state.Begin()
	defer e.state.End(&err)
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	st.PotentialWeight = new(big.Int).Set(weight)
	st.IsActive = weight.Sign() > 0
	return e.recompute(participant, st)
}

func (e *Engine) recompute(participant [20]byte, st *State) (*State, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	st.EffectiveWeight = effectiveWeight(params, st, e.epochs.Current())
	if err := e.putState(participant, st); err != nil {
		return nil, err
	}
	e.emit(newWeightUpdatedEvent(participant, st))
	return st.Clone(), nil
}

// UpdateParticipantWeight re-derives the effective weight from current state.
// The result is never cached beyond this write; callers re-invoke after any
// collateral or potential-weight change.
func (e *Engine) UpdateParticipantWeight(participant [20]byte) (_ *State, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	return e.recompute(participant, st)
}

// Deposit moves SAGE collateral from the participant into the vault and
// activates it immediately.
func (e *Engine) Deposit(participant [20]byte, amount *big.Int) (_ *State, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("collateral: deposit must be positive")
	}
	e.state.Begin()
	defer e.state.End(&err)
	if err := e.transfers.Transfer(participant, e.vault, bank.TokenSAGE, amount); err != nil {
		return nil, err
	}
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	st.Active.Add(st.Active, amount)
	if err := e.adjustTotalActive(amount); err != nil {
		return nil, err
	}
	e.emit(newDepositEvent(participant, amount))
	return e.recompute(participant, st)
}

// InitiateWithdraw moves amount from active to unbonding and stamps the
// cooldown. A participant may have at most one outstanding request.
func (e *Engine) InitiateWithdraw(participant [20]byte, amount *big.Int) (_ *State, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("collateral: withdrawal must be positive")
	}
	e.state.Begin()
	defer e.state.End(&err)
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	if st.Unbonding.Sign() > 0 {
		return nil, ErrUnbondingInProgress
	}
	if st.Active.Cmp(amount) < 0 {
		return nil, ErrInsufficientCollateral
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	st.Active.Sub(st.Active, amount)
	st.Unbonding = new(big.Int).Set(amount)
	st.UnbondCompleteAt = e.nowFn() + params.UnbondingPeriodSecs
	st.UnbondCompletionEpoch = e.epochs.Current() + 1
	if err := e.adjustTotalActive(new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}
	e.emit(newWithdrawInitiatedEvent(participant, amount, st.UnbondCompleteAt))
	return e.recompute(participant, st)
}

// CompleteUnbonding pays out a matured unbonding request from the vault.
func (e *Engine) CompleteUnbonding(participant [20]byte) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	if st.Unbonding.Sign() == 0 {
		return nil, ErrNothingUnbonding
	}
	if e.nowFn() < st.UnbondCompleteAt {
		return nil, ErrUnbondingNotReady
	}
	payout := common.CopyBig(st.Unbonding)
	if err := e.transfers.Transfer(e.vault, participant, bank.TokenSAGE, payout); err != nil {
		return nil, err
	}
	st.Unbonding = big.NewInt(0)
	st.UnbondCompleteAt = 0
	st.UnbondCompletionEpoch = 0
	if _, err := e.recompute(participant, st); err != nil {
		return nil, err
	}
	e.emit(newUnbondCompletedEvent(participant, payout))
	return payout, nil
}

// Slash burns a reason-determined share of the participant's total
// collateral. The penalty is split proportionally between the active and
// unbonding balances so an unbonding request is not a safe haven; the burned
// tokens go to the dead address, never to other participants.
func (e *Engine) Slash(caller, participant [20]byte, reason SlashReason) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if caller != e.owner && !e.slashers[caller] {
		return nil, ErrUnauthorizedSlasher
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("collateral: invalid slash reason %d", reason)
	}
	e.state.Begin()
	defer e.state.End(&err)
	st, err := e.StateOf(participant)
	if err != nil {
		return nil, err
	}
	totalSlashable := new(big.Int).Add(st.Active, st.Unbonding)
	if totalSlashable.Sign() == 0 {
		return big.NewInt(0), nil
	}
	slashAmount := common.PercentOf(totalSlashable, reason.Bps())
	if slashAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	activeSlash := common.Proportion(slashAmount, st.Active, totalSlashable)
	unbondingSlash := new(big.Int).Sub(slashAmount, activeSlash)
	if unbondingSlash.Cmp(st.Unbonding) > 0 {
		unbondingSlash = common.CopyBig(st.Unbonding)
		activeSlash = new(big.Int).Sub(slashAmount, unbondingSlash)
	}
	if err := e.transfers.Transfer(e.vault, bank.DeadAddress, bank.TokenSAGE, slashAmount); err != nil {
		return nil, err
	}
	st.Active.Sub(st.Active, activeSlash)
	st.Unbonding.Sub(st.Unbonding, unbondingSlash)
	st.TotalSlashed.Add(st.TotalSlashed, slashAmount)
	if err := e.adjustTotalActive(new(big.Int).Neg(activeSlash)); err != nil {
		return nil, err
	}
	if _, err := e.recompute(participant, st); err != nil {
		return nil, err
	}
	e.emit(newSlashedEvent(participant, reason, slashAmount, activeSlash, unbondingSlash))
	return slashAmount, nil
}
