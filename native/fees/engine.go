package fees

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"sagemarket/core/events"
	"sagemarket/native/bank"
	"sagemarket/native/common"
)

// ModuleName identifies the distributor for pause guards and event typing.
const ModuleName = "fees"

// maxClaimEpochs bounds the epoch walk performed during a staker claim so a
// long-inactive staker cannot force unbounded work in one call.
const maxClaimEpochs = 365

var (
	errNilState    = errors.New("fees: state not configured")
	errNilTransfer = errors.New("fees: transfer engine not configured")
	errNilEpochs   = errors.New("fees: epoch source not configured")

	configKey     = []byte("fees/config")
	statsKey      = []byte("fees/stats")
	totalShareKey = []byte("fees/totalStakerShare")
)

// Storage is the flat keyspace the distributor persists into.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Begin()
	End(errp *error)
}

// Transferor moves token balances on the distributor's behalf.
type Transferor interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// EpochSource reports the active accounting epoch.
type EpochSource interface {
	Current() uint64
}

// Engine splits gross payments into worker/burn/treasury/staker legs and
// settles per-staker claims against the epoch-indexed staker pool.
type Engine struct {
	state      Storage
	transfers  Transferor
	epochs     EpochSource
	emitter    events.Emitter
	pauses     common.PauseView
	owner      [20]byte
	treasury   [20]byte
	stakerPool [20]byte
	authorized map[[20]byte]bool
}

// NewEngine creates a fee distributor with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}, authorized: make(map[[20]byte]bool)}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetTransferor configures the token mover used for settlement legs.
func (e *Engine) SetTransferor(t Transferor) { e.transfers = t }

// SetEpochSource configures the epoch clock.
func (e *Engine) SetEpochSource(s EpochSource) { e.epochs = s }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetOwner configures the address allowed to mutate fee parameters.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetTreasury configures the treasury settlement address.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetStakerPoolAddress configures the vault that custodies the undistributed
// staker share.
func (e *Engine) SetStakerPoolAddress(addr [20]byte) { e.stakerPool = addr }

// SetAuthorizedCaller grants or revokes the right to process transactions.
// The owner is always authorized.
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

func (e *Engine) emit(evt *feeEvent) {
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

func (e *Engine) isAuthorized(caller [20]byte) bool {
	return caller == e.owner || e.authorized[caller]
}

// Config returns the active fee configuration, falling back to defaults when
// none has been stored.
func (e *Engine) Config() (Config, error) {
	if e == nil || e.state == nil {
		return Config{}, errNilState
	}
	cfg := Config{}
	ok, err := e.state.KVGet(configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return DefaultConfig(), nil
	}
	return cfg, nil
}

// SetConfig replaces the fee configuration. Only the owner may call.
func (e *Engine) SetConfig(caller [20]byte, cfg Config) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.state.Begin()
	defer e.state.End(&err)
	if err := e.state.KVPut(configKey, cfg); err != nil {
		return err
	}
	e.emit(newConfigUpdatedEvent(cfg))
	return nil
}

// Stats returns the monotonic running totals.
func (e *Engine) Stats() (*Stats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stats := &Stats{}
	ok, err := e.state.KVGet(statsKey, stats)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newStats(), nil
	}
	return stats.ensure(), nil
}

func epochPoolKey(epoch uint64) []byte {
	return []byte(fmt.Sprintf("fees/pool/%020d", epoch))
}

func stakerKey(addr [20]byte) []byte {
	return []byte("fees/staker/" + hex.EncodeToString(addr[:]))
}

// EpochPool returns the accumulated staker share for an epoch.
func (e *Engine) EpochPool(epoch uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool := big.NewInt(0)
	if _, err := e.state.KVGet(epochPoolKey(epoch), pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// TotalStakerShare reports the aggregate registered staker share in bps.
func (e *Engine) TotalStakerShare() (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var total uint32
	if _, err := e.state.KVGet(totalShareKey, &total); err != nil {
		return 0, err
	}
	return total, nil
}

// ProcessTransaction splits gmv held by source into the worker payment and the
// burn/treasury/staker fee legs. The staker leg is computed as the remainder
// of the protocol fee after burn and treasury so the four legs reconcile to
// the gross amount exactly; no dust escapes the split.
func (e *Engine) ProcessTransaction(caller, source, worker [20]byte, gmv *big.Int) (breakdown *Breakdown, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	return e.Distribute(caller, source, worker, gmv)
}

// Distribute runs the split inside a write scope the caller already opened.
// Engines that settle fees as one leg of a larger call (escrow completion)
// use this entry so the whole call commits or rolls back together; everyone
// else goes through ProcessTransaction.
func (e *Engine) Distribute(caller, source, worker [20]byte, gmv *big.Int) (*Breakdown, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if !e.isAuthorized(caller) {
		return nil, ErrUnauthorized
	}
	amount := common.CopyBig(gmv)
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("fees: gmv must be non-negative")
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	protocolFee := common.PercentOf(amount, cfg.ProtocolFeeBps)
	burn := common.PercentOf(protocolFee, cfg.BurnBps)
	treasury := common.PercentOf(protocolFee, cfg.TreasuryBps)
	staker := new(big.Int).Sub(protocolFee, burn)
	staker.Sub(staker, treasury)
	workerPayment := new(big.Int).Sub(amount, protocolFee)

	if err := e.transfers.Transfer(source, worker, bank.TokenSAGE, workerPayment); err != nil {
		return nil, err
	}
	if err := e.transfers.Transfer(source, bank.DeadAddress, bank.TokenSAGE, burn); err != nil {
		return nil, err
	}
	if err := e.transfers.Transfer(source, e.treasury, bank.TokenSAGE, treasury); err != nil {
		return nil, err
	}
	if err := e.transfers.Transfer(source, e.stakerPool, bank.TokenSAGE, staker); err != nil {
		return nil, err
	}

	epoch := e.epochs.Current()
	if staker.Sign() > 0 {
		pool, err := e.EpochPool(epoch)
		if err != nil {
			return nil, err
		}
		pool.Add(pool, staker)
		if err := e.state.KVPut(epochPoolKey(epoch), pool); err != nil {
			return nil, err
		}
	}

	stats, err := e.Stats()
	if err != nil {
		return nil, err
	}
	stats.TotalGMV.Add(stats.TotalGMV, amount)
	stats.TotalFees.Add(stats.TotalFees, protocolFee)
	stats.TotalBurned.Add(stats.TotalBurned, burn)
	stats.TotalTreasury.Add(stats.TotalTreasury, treasury)
	stats.TotalStakers.Add(stats.TotalStakers, staker)
	stats.TotalWorkers.Add(stats.TotalWorkers, workerPayment)
	stats.TxCount++
	if err := e.state.KVPut(statsKey, stats); err != nil {
		return nil, err
	}

	breakdown := &Breakdown{
		GMV:           amount,
		ProtocolFee:   protocolFee,
		Burn:          burn,
		Treasury:      treasury,
		Staker:        staker,
		WorkerPayment: workerPayment,
	}
	e.emit(newProcessedEvent(worker, breakdown, epoch))
	return breakdown, nil
}

// StakerRewardOf returns the stored reward position for addr.
func (e *Engine) StakerRewardOf(addr [20]byte) (*StakerReward, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	reward := &StakerReward{}
	ok, err := e.state.KVGet(stakerKey(addr), reward)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return reward.ensure(), nil
}

// settle walks the epochs since the staker's last checkpoint and accrues the
// proportional cut of each epoch's pool into pending rewards. Epochs where no
// share was registered are skipped; that pool dust stays in the vault.
func (e *Engine) settle(reward *StakerReward, current uint64) (*StakerReward, error) {
	reward = reward.ensure()
	if reward.StakeShareBps == 0 {
		reward.LastCalculatedEpoch = current
		return reward, nil
	}
	totalShare, err := e.TotalStakerShare()
	if err != nil {
		return nil, err
	}
	from := reward.LastCalculatedEpoch + 1
	if current >= from && current-from+1 > maxClaimEpochs {
		current = from + maxClaimEpochs - 1
	}
	for epoch := from; epoch <= current; epoch++ {
		if totalShare == 0 {
			continue
		}
		pool, err := e.EpochPool(epoch)
		if err != nil {
			return nil, err
		}
		cut := common.Proportion(pool, big.NewInt(int64(reward.StakeShareBps)), big.NewInt(int64(totalShare)))
		reward.PendingRewards.Add(reward.PendingRewards, cut)
	}
	reward.LastCalculatedEpoch = current
	return reward, nil
}

// UpdateStakerShare registers or adjusts a staker's share of the fee pool.
// Accrued epochs are settled under the old share before the new share takes
// effect so retroactive pools are not re-weighted.
func (e *Engine) UpdateStakerShare(caller, staker [20]byte, shareBps uint32) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	if shareBps > common.BpsDenominator {
		return ErrShareOverflow
	}
	e.state.Begin()
	defer e.state.End(&err)
	reward, err := e.StakerRewardOf(staker)
	if err != nil {
		return err
	}
	current := e.epochs.Current()
	if reward == nil {
		reward = (&StakerReward{LastCalculatedEpoch: current}).ensure()
	} else {
		reward, err = e.settle(reward, current)
		if err != nil {
			return err
		}
	}
	totalShare, err := e.TotalStakerShare()
	if err != nil {
		return err
	}
	newTotal := totalShare - reward.StakeShareBps + shareBps
	if newTotal > common.BpsDenominator {
		return ErrShareOverflow
	}
	reward.StakeShareBps = shareBps
	if err := e.state.KVPut(stakerKey(staker), reward); err != nil {
		return err
	}
	if err := e.state.KVPut(totalShareKey, newTotal); err != nil {
		return err
	}
	e.emit(newShareUpdatedEvent(staker, shareBps, newTotal))
	return nil
}

// ClaimStakerRewards settles outstanding epochs for the caller and pays the
// pending balance from the staker pool vault. The epoch walk is capped at 365
// iterations per call; long-idle stakers simply claim again.
func (e *Engine) ClaimStakerRewards(staker [20]byte) (payout *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.state.Begin()
	defer e.state.End(&err)
	reward, err := e.StakerRewardOf(staker)
	if err != nil {
		return nil, err
	}
	if reward == nil {
		return nil, ErrNothingToClaim
	}
	reward, err = e.settle(reward, e.epochs.Current())
	if err != nil {
		return nil, err
	}
	payout = common.CopyBig(reward.PendingRewards)
	if payout.Sign() == 0 {
		if err := e.state.KVPut(stakerKey(staker), reward); err != nil {
			return nil, err
		}
		return nil, ErrNothingToClaim
	}
	if err := e.transfers.Transfer(e.stakerPool, staker, bank.TokenSAGE, payout); err != nil {
		return nil, err
	}
	reward.PendingRewards = big.NewInt(0)
	reward.TotalClaimed.Add(reward.TotalClaimed, payout)
	if err := e.state.KVPut(stakerKey(staker), reward); err != nil {
		return nil, err
	}
	e.emit(newStakerClaimedEvent(staker, payout, reward.LastCalculatedEpoch))
	return payout, nil
}
