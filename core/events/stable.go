package events

import (
	"math/big"

	"agorachain/core/types"
	"agorachain/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral is locked.
	TypeCollateralDeposited = "stable.collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral is released.
	TypeCollateralRedeemed = "stable.collateral.redeemed"
	// TypeStableMinted is emitted when stable tokens are minted against
	// collateral.
	TypeStableMinted = "stable.minted"
	// TypeStableBurned is emitted when stable liability is repaid.
	TypeStableBurned = "stable.burned"
	// TypeLiquidated is emitted when a third party liquidates an unhealthy
	// position.
	TypeLiquidated = "stable.liquidated"
	// TypeAirdropped is emitted for each recipient of an administrative
	// airdrop.
	TypeAirdropped = "stable.airdropped"
)

type CollateralDeposited struct {
	User   [20]byte
	Asset  string
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   crypto.MustNewAddress(crypto.AgoraPrefix, e.User[:]).String(),
			"asset":  e.Asset,
			"amount": amountString(e.Amount),
		},
	}
}

type CollateralRedeemed struct {
	User   [20]byte
	Asset  string
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"user":   crypto.MustNewAddress(crypto.AgoraPrefix, e.User[:]).String(),
			"asset":  e.Asset,
			"amount": amountString(e.Amount),
		},
	}
}

type StableMinted struct {
	User   [20]byte
	Amount *big.Int
}

func (StableMinted) EventType() string { return TypeStableMinted }

func (e StableMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeStableMinted,
		Attributes: map[string]string{
			"user":   crypto.MustNewAddress(crypto.AgoraPrefix, e.User[:]).String(),
			"amount": amountString(e.Amount),
		},
	}
}

type StableBurned struct {
	OnBehalfOf [20]byte
	Payer      [20]byte
	Amount     *big.Int
}

func (StableBurned) EventType() string { return TypeStableBurned }

func (e StableBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeStableBurned,
		Attributes: map[string]string{
			"onBehalfOf": crypto.MustNewAddress(crypto.AgoraPrefix, e.OnBehalfOf[:]).String(),
			"payer":      crypto.MustNewAddress(crypto.AgoraPrefix, e.Payer[:]).String(),
			"amount":     amountString(e.Amount),
		},
	}
}

type Liquidated struct {
	Liquidator [20]byte
	User       [20]byte
	Asset      string
	DebtCover  *big.Int
	Seized     *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator": crypto.MustNewAddress(crypto.AgoraPrefix, e.Liquidator[:]).String(),
			"user":       crypto.MustNewAddress(crypto.AgoraPrefix, e.User[:]).String(),
			"asset":      e.Asset,
			"debtCover":  amountString(e.DebtCover),
			"seized":     amountString(e.Seized),
		},
	}
}

type Airdropped struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (Airdropped) EventType() string { return TypeAirdropped }

func (e Airdropped) Event() *types.Event {
	return &types.Event{
		Type: TypeAirdropped,
		Attributes: map[string]string{
			"recipient": crypto.MustNewAddress(crypto.AgoraPrefix, e.Recipient[:]).String(),
			"amount":    amountString(e.Amount),
		},
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
