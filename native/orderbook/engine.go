package orderbook

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"sagemarket/core/events"
	"sagemarket/native/bank"
	"sagemarket/native/common"
)

// ModuleName identifies the matching engine for pause guards and events.
const ModuleName = "orderbook"

var (
	errNilState    = errors.New("orderbook: state not configured")
	errNilTransfer = errors.New("orderbook: transfer engine not configured")

	paramsKey   = []byte("orderbook/params")
	pairListKey = []byte("orderbook/pairs")
	orderSeqKey = []byte("orderbook/orderSeq")
	tradeSeqKey = []byte("orderbook/tradeSeq")

	oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
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

// Engine is a price-time-priority limit orderbook. Locked order funds and
// collected trading fees are custodied by the vault address; every execution
// settles at the resting order's price.
type Engine struct {
	state     Storage
	transfers Transferor
	emitter   events.Emitter
	pauses    common.PauseView
	owner     [20]byte
	vault     [20]byte
	nowFn     func() int64

	buffering bool
	buffered  []bookEvent
}

// NewEngine creates a matching engine with a no-op emitter and wall-clock
// time.
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

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetOwner configures the market administrator.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetVault configures the address custodying locked funds and fees.
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

func (e *Engine) emit(evt *bookEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	if e.buffering {
		e.buffered = append(e.buffered, *evt)
		return
	}
	e.emitter.Emit(*evt)
}

// begin opens a write scope and holds back event emission until the call
// commits. A matching pass can cross several fills before failing; the feed
// must not carry trades from a call that rolled back.
func (e *Engine) begin() {
	e.state.Begin()
	e.buffering = true
	e.buffered = e.buffered[:0]
}

func (e *Engine) end(errp *error) {
	e.state.End(errp)
	e.buffering = false
	held := e.buffered
	e.buffered = nil
	if errp != nil && *errp != nil {
		return
	}
	for i := range held {
		e.emitter.Emit(held[i])
	}
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

func pairKey(id [32]byte) []byte {
	return []byte("orderbook/pair/" + hex.EncodeToString(id[:]))
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("orderbook/order/%020d", id))
}

func tradeKey(id uint64) []byte {
	return []byte(fmt.Sprintf("orderbook/trade/%020d", id))
}

func sideKey(pairID [32]byte, side Side) []byte {
	return []byte("orderbook/book/" + hex.EncodeToString(pairID[:]) + "/" + side.String())
}

func bestKey(pairID [32]byte) []byte {
	return []byte("orderbook/best/" + hex.EncodeToString(pairID[:]))
}

func openCountKey(addr [20]byte) []byte {
	return []byte("orderbook/openCount/" + hex.EncodeToString(addr[:]))
}

func collectedFeesKey(token string) []byte {
	return []byte("orderbook/collectedFees/" + token)
}

func analyticsKey(pairID [32]byte) []byte {
	return []byte("orderbook/analytics/" + hex.EncodeToString(pairID[:]))
}

// PairID derives the canonical pair identifier for a token pairing.
func PairID(baseToken, quoteToken string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte("pair|" + baseToken + "|" + quoteToken))
}

// quoteFor converts a base amount at an 18-decimal price into quote units.
func quoteFor(price, amount *big.Int) *big.Int {
	out := new(big.Int).Mul(price, amount)
	return out.Div(out, oneE18)
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
	if params.MaxOrderSize == nil {
		params.MaxOrderSize = big.NewInt(0)
	}
	return params, nil
}

// SetParams replaces the engine parameters. Only the owner may call.
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
	e.begin()
	defer e.end(&err)
	return e.state.KVPut(paramsKey, params)
}

// CreatePair registers a new market. Only the owner may call. Pair ids derive
// from the token pairing, so recreating an existing pair is rejected.
func (e *Engine) CreatePair(caller [20]byte, baseToken, quoteToken string, tickSize, minOrderSize *big.Int) (_ *Pair, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller != e.owner {
		return nil, ErrOnlyOwner
	}
	e.begin()
	defer e.end(&err)
	base, err := bank.NormalizeToken(baseToken)
	if err != nil {
		return nil, err
	}
	quote, err := bank.NormalizeToken(quoteToken)
	if err != nil {
		return nil, err
	}
	if base == quote {
		return nil, fmt.Errorf("orderbook: base and quote must differ")
	}
	if tickSize == nil || tickSize.Sign() <= 0 {
		return nil, fmt.Errorf("orderbook: tick size must be positive")
	}
	if minOrderSize == nil || minOrderSize.Sign() <= 0 {
		return nil, fmt.Errorf("orderbook: min order size must be positive")
	}
	id := PairID(base, quote)
	existing := Pair{}
	ok, err := e.state.KVGet(pairKey(id), &existing)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("orderbook: pair %s/%s already exists", base, quote)
	}
	pair := &Pair{
		ID:           id,
		BaseToken:    base,
		QuoteToken:   quote,
		TickSize:     common.CopyBig(tickSize),
		MinOrderSize: common.CopyBig(minOrderSize),
		Active:       true,
	}
	if err := e.state.KVPut(pairKey(id), pair); err != nil {
		return nil, err
	}
	var list [][32]byte
	if _, err := e.state.KVGet(pairListKey, &list); err != nil {
		return nil, err
	}
	list = append(list, id)
	if err := e.state.KVPut(pairListKey, list); err != nil {
		return nil, err
	}
	e.emit(newPairCreatedEvent(pair))
	return pair, nil
}

// SetPairActive toggles a market. Only the owner may call. Deactivation stops
// new placements; resting orders stay cancellable.
func (e *Engine) SetPairActive(caller [20]byte, pairID [32]byte, active bool) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	e.begin()
	defer e.end(&err)
	pair, err := e.Pair(pairID)
	if err != nil {
		return err
	}
	pair.Active = active
	return e.state.KVPut(pairKey(pairID), pair)
}

// Pair returns the stored market for an id.
func (e *Engine) Pair(pairID [32]byte) (*Pair, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pair := &Pair{}
	ok, err := e.state.KVGet(pairKey(pairID), pair)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPairNotFound
	}
	return pair, nil
}

// Pairs lists every registered market id in creation order.
func (e *Engine) Pairs() ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var list [][32]byte
	if _, err := e.state.KVGet(pairListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Order returns the stored order for an id.
func (e *Engine) Order(id uint64) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	order := &Order{}
	ok, err := e.state.KVGet(orderKey(id), order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.ensure(), nil
}

// Trade returns the stored trade for an id.
func (e *Engine) Trade(id uint64) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trade := &Trade{}
	ok, err := e.state.KVGet(tradeKey(id), trade)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("orderbook: trade %d not found", id)
	}
	return trade, nil
}

// BestPrices returns the cached top of book for a pair. Zero values mean the
// side is empty.
func (e *Engine) BestPrices(pairID [32]byte) (*BestPrices, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	best := &BestPrices{}
	if _, err := e.state.KVGet(bestKey(pairID), best); err != nil {
		return nil, err
	}
	return best.ensure(), nil
}

func (e *Engine) putBest(pairID [32]byte, best *BestPrices) error {
	return e.state.KVPut(bestKey(pairID), best)
}

// OpenOrderCount reports how many resting orders an address holds.
func (e *Engine) OpenOrderCount(addr [20]byte) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var count int
	if _, err := e.state.KVGet(openCountKey(addr), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) adjustOpenCount(addr [20]byte, delta int) error {
	count, err := e.OpenOrderCount(addr)
	if err != nil {
		return err
	}
	count += delta
	if count < 0 {
		count = 0
	}
	return e.state.KVPut(openCountKey(addr), count)
}

// CollectedFees reports the accumulated trading fees for a token.
func (e *Engine) CollectedFees(token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := bank.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	if _, err := e.state.KVGet(collectedFeesKey(normalized), total); err != nil {
		return nil, err
	}
	return total, nil
}

func (e *Engine) accrueFee(token string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	total, err := e.CollectedFees(token)
	if err != nil {
		return err
	}
	total.Add(total, amount)
	return e.state.KVPut(collectedFeesKey(token), total)
}

// WithdrawFees moves the accumulated fee balance for a token out of the
// vault. Only the owner may call.
func (e *Engine) WithdrawFees(caller [20]byte, token string, to [20]byte) (_ *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller != e.owner {
		return nil, ErrOnlyOwner
	}
	normalized, err := bank.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	e.begin()
	defer e.end(&err)
	total, err := e.CollectedFees(normalized)
	if err != nil {
		return nil, err
	}
	if total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.transfers.Transfer(e.vault, to, normalized, total); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(collectedFeesKey(normalized), big.NewInt(0)); err != nil {
		return nil, err
	}
	e.emit(newFeesWithdrawnEvent(normalized, total, to))
	return total, nil
}

func (e *Engine) nextSeq(key []byte) (uint64, error) {
	var seq uint64
	if _, err := e.state.KVGet(key, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := e.state.KVPut(key, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (e *Engine) sideList(pairID [32]byte, side Side) ([]uint64, error) {
	var ids []uint64
	if _, err := e.state.KVGet(sideKey(pairID, side), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) putSideList(pairID [32]byte, side Side, ids []uint64) error {
	return e.state.KVPut(sideKey(pairID, side), ids)
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
