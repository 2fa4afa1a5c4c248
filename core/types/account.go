package types

import "math/big"

// Account holds the ledger-side balances and metadata for one participant.
// BalanceWRK is the payment token balance, BalanceZWRK the staking-token
// balance, Stake the amount currently bonded via the staking module.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceWRK  *big.Int `json:"balanceWRK"`
	BalanceZWRK *big.Int `json:"balanceZWRK"`
	Stake       *big.Int `json:"stake"`
	Username    string   `json:"username"`
}

// EnsureBalances returns the account with all balance fields non-nil so
// callers never have to nil-check before arithmetic.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{BalanceWRK: big.NewInt(0), BalanceZWRK: big.NewInt(0), Stake: big.NewInt(0)}
	}
	if a.BalanceWRK == nil {
		a.BalanceWRK = big.NewInt(0)
	}
	if a.BalanceZWRK == nil {
		a.BalanceZWRK = big.NewInt(0)
	}
	if a.Stake == nil {
		a.Stake = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{
		Nonce:    a.Nonce,
		Username: a.Username,
	}
	clone.BalanceWRK = big.NewInt(0)
	clone.BalanceZWRK = big.NewInt(0)
	clone.Stake = big.NewInt(0)
	if a.BalanceWRK != nil {
		clone.BalanceWRK = new(big.Int).Set(a.BalanceWRK)
	}
	if a.BalanceZWRK != nil {
		clone.BalanceZWRK = new(big.Int).Set(a.BalanceZWRK)
	}
	if a.Stake != nil {
		clone.Stake = new(big.Int).Set(a.Stake)
	}
	return clone
}
