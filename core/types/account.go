package types

import "math/big"

// Account tracks the token balances held by a single address. Balances are
// keyed by token symbol (AGO, SMU, and any registered collateral asset) and
// denominated in 18-decimal wei.
type Account struct {
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance for the supplied symbol, defaulting to zero.
// The returned value is the stored instance; callers replace rather than
// mutate it.
func (a *Account) Balance(symbol string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if amount, ok := a.Balances[symbol]; ok && amount != nil {
		return amount
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the supplied symbol.
func (a *Account) SetBalance(symbol string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[symbol] = amount
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Balances: make(map[string]*big.Int, len(a.Balances))}
	for symbol, amount := range a.Balances {
		if amount == nil {
			amount = big.NewInt(0)
		}
		clone.Balances[symbol] = new(big.Int).Set(amount)
	}
	return clone
}
