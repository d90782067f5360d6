package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"sagemarket/core/types"
)

// Supported token symbols. SAGE is the 18-decimal native token, USDC the
// 6-decimal quote token.
const (
	TokenSAGE = "SAGE"
	TokenUSDC = "USDC"
)

// DeadAddress is the sentinel burn destination. Tokens transferred here are
// permanently out of circulation; nothing ever spends from it.
var DeadAddress = [20]byte{0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad, 0xde, 0xad}

var (
	errNilState             = errors.New("bank: state not configured")
	ErrInsufficientBalance  = errors.New("bank: insufficient balance")
	ErrUnsupportedToken     = errors.New("bank: unsupported token")
	ErrNegativeTransfer     = errors.New("bank: negative transfer amount")
	ErrStakeBelowWithdrawal = errors.New("bank: stake below withdrawal")
)

// State is the narrow account access the transfer engine needs.
type State interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// NormalizeToken canonicalises a token symbol, rejecting unsupported values.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case TokenSAGE, TokenUSDC:
		return trimmed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedToken, symbol)
	}
}

// Engine moves token balances between accounts. Every settling module routes
// its transfers through here so insufficient-balance failures surface as one
// error shape.
type Engine struct {
	mu    sync.Mutex
	state State
}

// NewEngine constructs a transfer engine over the provided account state.
func NewEngine(state State) *Engine {
	return &Engine{state: state}
}

// Transfer moves amount of token from one account to another. A zero amount is
// a no-op; failures leave both accounts untouched.
func (e *Engine) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeTransfer
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	// A self-transfer must debit and credit the same loaded account; two
	// independent copies would let the last write mint the amount.
	toAcc := fromAcc
	if to != from {
		toAcc, err = e.state.GetAccount(to[:])
		if err != nil {
			return err
		}
	}
	fromAcc.EnsureBalances()
	toAcc.EnsureBalances()
	switch normalized {
	case TokenSAGE:
		if fromAcc.BalanceSAGE.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceSAGE = new(big.Int).Sub(fromAcc.BalanceSAGE, amount)
		toAcc.BalanceSAGE = new(big.Int).Add(toAcc.BalanceSAGE, amount)
	case TokenUSDC:
		if fromAcc.BalanceUSDC.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		fromAcc.BalanceUSDC = new(big.Int).Sub(fromAcc.BalanceUSDC, amount)
		toAcc.BalanceUSDC = new(big.Int).Add(toAcc.BalanceUSDC, amount)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	if to == from {
		return nil
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Mint credits freshly issued tokens to an account. Only the mining issuance
// engine uses this path; everything else conserves existing balances.
func (e *Engine) Mint(to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeTransfer
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	account, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	account.EnsureBalances()
	switch normalized {
	case TokenSAGE:
		account.BalanceSAGE = new(big.Int).Add(account.BalanceSAGE, amount)
	case TokenUSDC:
		account.BalanceUSDC = new(big.Int).Add(account.BalanceUSDC, amount)
	}
	return e.state.PutAccount(to[:], account)
}

// BalanceOf reports the current balance of token for addr.
func (e *Engine) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	account.EnsureBalances()
	switch normalized {
	case TokenUSDC:
		return new(big.Int).Set(account.BalanceUSDC), nil
	default:
		return new(big.Int).Set(account.BalanceSAGE), nil
	}
}

// StakeOf reports the staked amount for addr; the mining engine reads it for
// tier classification.
func (e *Engine) StakeOf(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	account.EnsureBalances()
	return new(big.Int).Set(account.Stake), nil
}

// SetStake overwrites the staked amount for addr. Exposed for operator tooling
// and tests; stake accounting itself is outside this engine.
func (e *Engine) SetStake(addr [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrStakeBelowWithdrawal
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.EnsureBalances()
	if amount == nil {
		account.Stake = big.NewInt(0)
	} else {
		account.Stake = new(big.Int).Set(amount)
	}
	return e.state.PutAccount(addr[:], account)
}
