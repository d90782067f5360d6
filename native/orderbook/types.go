package orderbook

import (
	"errors"
	"fmt"
	"math/big"
)

// Side distinguishes bids from asks.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// String renders the side for events and errors.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Opposite returns the matching side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType uint8

const (
	TypeLimit OrderType = iota
	TypeMarket
)

func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "limit"
	case TypeMarket:
		return "market"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// OrderStatus tracks an order through its one-way state machine. Filled,
// Cancelled and Expired are terminal.
type OrderStatus uint8

const (
	StatusOpen OrderStatus = iota
	StatusPartialFill
	StatusFilled
	StatusCancelled
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartialFill:
		return "partial_fill"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Resting reports whether the order still holds a place on the book.
func (s OrderStatus) Resting() bool {
	return s == StatusOpen || s == StatusPartialFill
}

// CanTransition reports whether moving from s to next is a legal step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusPartialFill || next == StatusFilled ||
			next == StatusCancelled || next == StatusExpired
	case StatusPartialFill:
		return next == StatusFilled || next == StatusCancelled
	default:
		return false
	}
}

// Pair describes a tradable market between two ledger tokens.
type Pair struct {
	ID           [32]byte `json:"id"`
	BaseToken    string   `json:"baseToken"`
	QuoteToken   string   `json:"quoteToken"`
	TickSize     *big.Int `json:"tickSize"`
	MinOrderSize *big.Int `json:"minOrderSize"`
	Active       bool     `json:"active"`
}

// Order is one resting or historical order. Remaining counts unfilled base
// units; buy orders keep Price*Remaining/1e18 quote locked, sell orders keep
// Remaining base locked.
type Order struct {
	ID        uint64      `json:"id"`
	Maker     [20]byte    `json:"maker"`
	PairID    [32]byte    `json:"pairId"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Price     *big.Int    `json:"price"`
	Amount    *big.Int    `json:"amount"`
	Remaining *big.Int    `json:"remaining"`
	Status    OrderStatus `json:"status"`
	CreatedAt int64       `json:"createdAt"`
	ExpiresAt int64       `json:"expiresAt"`
}

func (o *Order) ensure() *Order {
	if o == nil {
		return &Order{Price: big.NewInt(0), Amount: big.NewInt(0), Remaining: big.NewInt(0)}
	}
	if o.Price == nil {
		o.Price = big.NewInt(0)
	}
	if o.Amount == nil {
		o.Amount = big.NewInt(0)
	}
	if o.Remaining == nil {
		o.Remaining = big.NewInt(0)
	}
	return o
}

// expired reports whether the order carries an expiry in the past. Zero
// ExpiresAt means the order never expires.
func (o *Order) expired(now int64) bool {
	return o.ExpiresAt > 0 && now >= o.ExpiresAt
}

// Trade records one execution at the maker's price.
type Trade struct {
	ID           uint64   `json:"id"`
	PairID       [32]byte `json:"pairId"`
	MakerOrderID uint64   `json:"makerOrderId"`
	TakerOrderID uint64   `json:"takerOrderId"`
	Maker        [20]byte `json:"maker"`
	Taker        [20]byte `json:"taker"`
	TakerSide    Side     `json:"takerSide"`
	Price        *big.Int `json:"price"`
	Amount       *big.Int `json:"amount"`
	MakerFee     *big.Int `json:"makerFee"`
	TakerFee     *big.Int `json:"takerFee"`
	ExecutedAt   int64    `json:"executedAt"`
}

// Params tunes fees, expiry defaults and per-user limits.
type Params struct {
	MakerFeeBps       uint32   `json:"makerFeeBps"`
	TakerFeeBps       uint32   `json:"takerFeeBps"`
	DefaultExpirySecs int64    `json:"defaultExpirySecs"`
	MaxOrdersPerUser  int      `json:"maxOrdersPerUser"`
	MaxOrderSize      *big.Int `json:"maxOrderSize"`
}

// DefaultParams mirrors the launch fee schedule: 10 bps maker, 20 bps taker,
// day-long default expiry, 100 open orders per user.
func DefaultParams() Params {
	max := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000_000_000_000_000))
	return Params{
		MakerFeeBps:       10,
		TakerFeeBps:       20,
		DefaultExpirySecs: 86_400,
		MaxOrdersPerUser:  100,
		MaxOrderSize:      max,
	}
}

// Validate rejects parameter sets the matching engine cannot operate under.
func (p Params) Validate() error {
	if p.MakerFeeBps >= 10_000 || p.TakerFeeBps >= 10_000 {
		return fmt.Errorf("orderbook: fee bps must be below 10000")
	}
	if p.MaxOrdersPerUser <= 0 {
		return fmt.Errorf("orderbook: max orders per user must be positive")
	}
	if p.MaxOrderSize == nil || p.MaxOrderSize.Sign() <= 0 {
		return fmt.Errorf("orderbook: max order size must be positive")
	}
	return nil
}

// BestPrices caches the top of book per pair. Zero means the side is empty.
type BestPrices struct {
	Bid *big.Int `json:"bid"`
	Ask *big.Int `json:"ask"`
}

func (b *BestPrices) ensure() *BestPrices {
	if b == nil {
		return &BestPrices{Bid: big.NewInt(0), Ask: big.NewInt(0)}
	}
	if b.Bid == nil {
		b.Bid = big.NewInt(0)
	}
	if b.Ask == nil {
		b.Ask = big.NewInt(0)
	}
	return b
}

// PricePoint is one hourly analytics snapshot.
type PricePoint struct {
	Price     *big.Int `json:"price"`
	Timestamp int64    `json:"timestamp"`
}

// Analytics accumulates per-pair trade statistics: a TWAP accumulator, a
// rolling 24h volume/high/low window, and hourly price snapshots.
type Analytics struct {
	LastPrice      *big.Int     `json:"lastPrice"`
	TwapCumulative *big.Int     `json:"twapCumulative"`
	TwapStartAt    int64        `json:"twapStartAt"`
	TwapUpdatedAt  int64        `json:"twapUpdatedAt"`
	Volume24h      *big.Int     `json:"volume24h"`
	High24h        *big.Int     `json:"high24h"`
	Low24h         *big.Int     `json:"low24h"`
	WindowResetAt  int64        `json:"windowResetAt"`
	Snapshots      []PricePoint `json:"snapshots"`
	LastSnapshotAt int64        `json:"lastSnapshotAt"`
}

func (a *Analytics) ensure() *Analytics {
	if a == nil {
		a = &Analytics{}
	}
	if a.LastPrice == nil {
		a.LastPrice = big.NewInt(0)
	}
	if a.TwapCumulative == nil {
		a.TwapCumulative = big.NewInt(0)
	}
	if a.Volume24h == nil {
		a.Volume24h = big.NewInt(0)
	}
	if a.High24h == nil {
		a.High24h = big.NewInt(0)
	}
	if a.Low24h == nil {
		a.Low24h = big.NewInt(0)
	}
	return a
}

var (
	// ErrOnlyOwner rejects admin operations from non-owners.
	ErrOnlyOwner = errors.New("orderbook: only owner")
	// ErrPairNotFound is returned for unknown pair ids.
	ErrPairNotFound = errors.New("orderbook: pair not found")
	// ErrPairInactive rejects orders against a deactivated pair.
	ErrPairInactive = errors.New("orderbook: pair inactive")
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("orderbook: order not found")
	// ErrNotOrderOwner rejects cancellations from strangers.
	ErrNotOrderOwner = errors.New("orderbook: not order owner")
	// ErrOrderNotOpen rejects cancellation of settled orders.
	ErrOrderNotOpen = errors.New("orderbook: order is not open")
	// ErrAmountOutOfRange rejects sizes outside [min, max].
	ErrAmountOutOfRange = errors.New("orderbook: amount out of range")
	// ErrInvalidPrice rejects non-positive or off-tick prices.
	ErrInvalidPrice = errors.New("orderbook: price must be a positive tick multiple")
	// ErrTooManyOrders rejects placements beyond the per-user cap.
	ErrTooManyOrders = errors.New("orderbook: too many open orders")
	// ErrNoLiquidity aborts market orders against an empty book.
	ErrNoLiquidity = errors.New("orderbook: no liquidity")
)
