package cpi

import (
	"errors"
	"math/big"
)

// ErrDivisionByZero is returned when an index or inflation computation would
// divide by a zero base. The engine surfaces it instead of a silent zero.
var ErrDivisionByZero = errors.New("cpi: division by zero")

var hundred = big.NewInt(100)

// Formula computes the price index and inflation rate from aggregate trade
// values. The active implementation is swappable by the administrative role,
// so alternative weightings can be installed without redeploying the ledger.
type Formula interface {
	// ComputeIndex returns currentTotal/baseTotal scaled by 100, truncating.
	ComputeIndex(currentTotal, baseTotal *big.Int) (*big.Int, error)
	// InflationRate returns the signed percentage change between two index
	// values. Deflation yields a negative result.
	InflationRate(newIndex, oldIndex *big.Int) (*big.Int, error)
}

// BaseHundredFormula is the default index formula: a period-over-period ratio
// scaled to 100, with signed inflation arithmetic.
type BaseHundredFormula struct{}

func (BaseHundredFormula) ComputeIndex(currentTotal, baseTotal *big.Int) (*big.Int, error) {
	if baseTotal == nil || baseTotal.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if currentTotal == nil {
		currentTotal = big.NewInt(0)
	}
	index := new(big.Int).Mul(currentTotal, hundred)
	return index.Quo(index, baseTotal), nil
}

func (BaseHundredFormula) InflationRate(newIndex, oldIndex *big.Int) (*big.Int, error) {
	if oldIndex == nil || oldIndex.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if newIndex == nil {
		newIndex = big.NewInt(0)
	}
	delta := new(big.Int).Sub(newIndex, oldIndex)
	delta.Mul(delta, hundred)
	return delta.Quo(delta, oldIndex), nil
}
