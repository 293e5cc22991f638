package stable

import "math/big"

// StableSymbol is the collateral-backed token pegged to the marketplace price
// index.
const StableSymbol = "SMU"

var (
	basisPoints = big.NewInt(10_000)
	hundred     = big.NewInt(100)

	// precision scales health factors: one unit in fixed point means the
	// liability is exactly covered at the liquidation threshold.
	precision = mustBigInt("1000000000000000000")

	// MinHealthFactor is the gate below which mint/redeem are refused and
	// liquidation opens.
	MinHealthFactor = mustBigInt("1000000000000000000")

	// MaxHealthFactor is the value reported for liability-free positions.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// RiskParameters groups the governance controlled safety limits for the
// stable token.
type RiskParameters struct {
	// LiquidationThreshold is the share of collateral value counted toward
	// coverage, expressed as an integer percentage.
	LiquidationThreshold uint64
	// LiquidationBonus is the discount granted to liquidators, in basis
	// points of the seized collateral.
	LiquidationBonus uint64
	// MaxIndexDeviationBps bounds how far the marketplace-derived marking
	// factor may drift from the independent feed before operations fail
	// closed. Zero disables the cross-check.
	MaxIndexDeviationBps uint64
}

// DefaultRiskParameters returns the deployment defaults: 50% threshold, 10%
// liquidation bonus.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThreshold: 50,
		LiquidationBonus:     1000,
		MaxIndexDeviationBps: 2000,
	}
}

// Position summarises a user's stable-token standing for query surfaces.
type Position struct {
	Collateral   map[string]*big.Int
	Liability    *big.Int
	HealthFactor *big.Int
}
