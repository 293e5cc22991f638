package cpi

import (
	"math/big"

	"agorachain/native/market"
)

// Window identifies the aggregation period for index queries.
type Window uint8

const (
	// WindowMonthly covers a rolling thirty-day period.
	WindowMonthly Window = iota
	// WindowYearly covers a rolling 365-day period.
	WindowYearly
)

const (
	secondsPerDay   = 24 * 60 * 60
	monthlySeconds  = 30 * secondsPerDay
	yearlySeconds   = 365 * secondsPerDay
)

// Valid reports whether the window value is supported.
func (w Window) Valid() bool {
	return w == WindowMonthly || w == WindowYearly
}

// Seconds returns the window length.
func (w Window) Seconds() uint64 {
	switch w {
	case WindowYearly:
		return yearlySeconds
	default:
		return monthlySeconds
	}
}

func (w Window) String() string {
	if w == WindowYearly {
		return "yearly"
	}
	return "monthly"
}

// Bucket holds the running trade-value totals for one fixed time slot.
// Totals fold in at execution time, so the history survives order
// cancellation and consumption.
type Bucket struct {
	Start      uint64
	Total      *big.Int
	ByCategory []*big.Int
}

// NewBucket returns a zeroed bucket for the slot starting at start.
func NewBucket(start uint64) *Bucket {
	byCategory := make([]*big.Int, market.CategoryCount)
	for i := range byCategory {
		byCategory[i] = big.NewInt(0)
	}
	return &Bucket{Start: start, Total: big.NewInt(0), ByCategory: byCategory}
}

func (b *Bucket) normalize() {
	if b.Total == nil {
		b.Total = big.NewInt(0)
	}
	if len(b.ByCategory) < int(market.CategoryCount) {
		padded := make([]*big.Int, market.CategoryCount)
		copy(padded, b.ByCategory)
		b.ByCategory = padded
	}
	for i, v := range b.ByCategory {
		if v == nil {
			b.ByCategory[i] = big.NewInt(0)
		}
	}
}

// Add folds value into the bucket totals.
func (b *Bucket) Add(category market.Category, value *big.Int) {
	if value == nil || value.Sign() <= 0 {
		return
	}
	b.normalize()
	b.Total = new(big.Int).Add(b.Total, value)
	if category.Valid() {
		idx := int(category)
		b.ByCategory[idx] = new(big.Int).Add(b.ByCategory[idx], value)
	}
}

// Snapshot retains a computed period index so a genuinely earlier period can
// be diffed against the current one.
type Snapshot struct {
	PeriodStart uint64
	Window      uint64
	Index       *big.Int
}
