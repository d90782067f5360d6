package mining

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

// ModuleName identifies the issuance engine for pause guards and events.
const ModuleName = "mining"

const secondsPerDay = 86_400

var (
	errNilState  = errors.New("mining: state not configured")
	errNilMinter = errors.New("mining: minter not configured")
	errNilStake  = errors.New("mining: stake source not configured")

	configKey      = []byte("mining/config")
	distributedKey = []byte("mining/totalDistributed")
)

// Storage is the flat keyspace the engine persists into.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Begin()
	End(errp *error)
}

// Minter credits freshly issued SAGE to a worker.
type Minter interface {
	Mint(to [20]byte, token string, amount *big.Int) error
}

// StakeSource reads a worker's staked balance for tier classification. This
// is the only staking state the issuance engine consults.
type StakeSource interface {
	StakeOf(addr [20]byte) (*big.Int, error)
}

// Engine issues per-job mining rewards from the halvening schedule, clipped
// by the worker's daily cap and the lifetime pool.
type Engine struct {
	state      Storage
	minter     Minter
	stakes     StakeSource
	schedule   *Schedule
	emitter    events.Emitter
	pauses     common.PauseView
	owner      [20]byte
	authorized map[[20]byte]bool
	nowFn      func() uint64
}

// NewEngine creates an issuance engine with the built-in schedule and a
// no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		schedule:   DefaultSchedule(),
		emitter:    events.NoopEmitter{},
		authorized: make(map[[20]byte]bool),
		nowFn:      func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetMinter configures the issuance sink.
func (e *Engine) SetMinter(m Minter) { e.minter = m }

// SetStakeSource configures the staking collaborator queried for tiers.
func (e *Engine) SetStakeSource(s StakeSource) { e.stakes = s }

// SetSchedule overrides the issuance schedule. A nil schedule restores the
// built-in table.
func (e *Engine) SetSchedule(s *Schedule) {
	if s == nil {
		e.schedule = DefaultSchedule()
		return
	}
	e.schedule = s
}

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetOwner configures the parameter administrator.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetAuthorizedCaller grants or revokes job-recording rights. The owner is
// always authorized.
func (e *Engine) SetAuthorizedCaller(addr [20]byte, allowed bool) {
	if allowed {
		e.authorized[addr] = true
		return
	}
	delete(e.authorized, addr)
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

func (e *Engine) emit(evt *miningEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(*evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.minter == nil {
		return errNilMinter
	}
	if e.stakes == nil {
		return errNilStake
	}
	return nil
}

func workerKey(addr [20]byte) []byte {
	return []byte("mining/worker/" + hex.EncodeToString(addr[:]))
}

// Config returns the active issuance configuration, falling back to defaults.
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

// SetConfig replaces the issuance configuration. Only the owner may call.
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
	return e.state.KVPut(configKey, cfg)
}

// WorkerStatsOf returns the stored mining stats for a worker.
func (e *Engine) WorkerStatsOf(worker [20]byte) (*WorkerStats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stats := &WorkerStats{}
	ok, err := e.state.KVGet(workerKey(worker), stats)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&WorkerStats{}).ensure(), nil
	}
	return stats.ensure(), nil
}

// TotalDistributed reports lifetime issuance against the pool cap.
func (e *Engine) TotalDistributed() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total := big.NewInt(0)
	if _, err := e.state.KVGet(distributedKey, total); err != nil {
		return nil, err
	}
	return total, nil
}

// RemainingPool reports the unissued remainder of the lifetime pool.
func (e *Engine) RemainingPool() (*big.Int, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	distributed, err := e.TotalDistributed()
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(cfg.PoolCap, distributed)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	return remaining, nil
}

// RecordJobCompletion issues the mining reward for one completed job. A zero
// return with a nil error means the worker is capped or the pool is
// exhausted; the call still records the job. Clipping order: the daily cap
// first, the remaining pool outermost.
func (e *Engine) RecordJobCompletion(caller, worker [20]byte, jobID [32]byte, gpuTier GPUTier) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if caller != e.owner && !e.authorized[caller] {
		return nil, ErrUnauthorized
	}
	if !gpuTier.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGPUTier, gpuTier)
	}
	e.state.Begin()
	defer e.state.End(&err)
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	now := e.nowFn()
	base := e.schedule.RewardAt(cfg, now)
	reward := common.PercentOf(base, gpuTier.MultiplierBps())

	stats, err := e.WorkerStatsOf(worker)
	if err != nil {
		return nil, err
	}
	day := now / secondsPerDay
	if stats.Daily.Day != day {
		stats.Daily = DailyStats{Day: day, EarnedToday: big.NewInt(0)}
	}

	stake, err := e.stakes.StakeOf(worker)
	if err != nil {
		return nil, err
	}
	tier := cfg.ClassifyStake(stake)
	dailyCap := cfg.DailyCaps[tier]
	remainingToday := new(big.Int).Sub(dailyCap, stats.Daily.EarnedToday)
	if remainingToday.Sign() < 0 {
		remainingToday = big.NewInt(0)
	}
	reward = common.MinBig(reward, remainingToday)

	remainingPool, err := e.RemainingPool()
	if err != nil {
		return nil, err
	}
	reward = common.MinBig(reward, remainingPool)

	if reward.Sign() > 0 {
		if err := e.minter.Mint(worker, bank.TokenSAGE, reward); err != nil {
			return nil, err
		}
		distributed, err := e.TotalDistributed()
		if err != nil {
			return nil, err
		}
		distributed.Add(distributed, reward)
		if err := e.state.KVPut(distributedKey, distributed); err != nil {
			return nil, err
		}
	}

	stats.TotalJobs++
	stats.TotalEarned.Add(stats.TotalEarned, reward)
	stats.Daily.JobsCompleted++
	stats.Daily.EarnedToday.Add(stats.Daily.EarnedToday, reward)
	if stats.FirstJobAt == 0 {
		stats.FirstJobAt = now
	}
	stats.LastJobAt = now
	if err := e.state.KVPut(workerKey(worker), stats); err != nil {
		return nil, err
	}
	e.emit(newJobRecordedEvent(worker, jobID, gpuTier, tier, reward))
	return reward, nil
}
