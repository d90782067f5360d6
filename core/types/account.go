package types

import "math/big"

// Account tracks the token balances and staking position for a marketplace
// participant. SAGE balances use 18 decimals, USDC balances use 6.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceSAGE *big.Int `json:"balanceSAGE"`
	BalanceUSDC *big.Int `json:"balanceUSDC"`
	Stake       *big.Int `json:"stake"`
}

// EnsureBalances initialises any nil balance fields so callers can perform
// arithmetic without nil checks.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{BalanceSAGE: big.NewInt(0), BalanceUSDC: big.NewInt(0), Stake: big.NewInt(0)}
	}
	if a.BalanceSAGE == nil {
		a.BalanceSAGE = big.NewInt(0)
	}
	if a.BalanceUSDC == nil {
		a.BalanceUSDC = big.NewInt(0)
	}
	if a.Stake == nil {
		a.Stake = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting stored state.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{Nonce: a.Nonce}
	clone.BalanceSAGE = copyBig(a.BalanceSAGE)
	clone.BalanceUSDC = copyBig(a.BalanceUSDC)
	clone.Stake = copyBig(a.Stake)
	return clone
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
