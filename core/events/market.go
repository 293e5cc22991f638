package events

import (
	"math/big"

	"agorachain/core/types"
	"agorachain/crypto"
)

const (
	// TypeOrderListed is emitted when a sell order enters an order book.
	TypeOrderListed = "market.order.listed"
	// TypeOrderCancelled is emitted when a seller withdraws a listing.
	TypeOrderCancelled = "market.order.cancelled"
	// TypeOrderFilled is emitted when a buy order executes.
	TypeOrderFilled = "market.order.filled"
)

type OrderListed struct {
	BookKey   string
	Seller    [20]byte
	Quantity  uint64
	UnitPrice *big.Int
	Category  string
}

func (OrderListed) EventType() string { return TypeOrderListed }

func (e OrderListed) Event() *types.Event {
	price := e.UnitPrice
	if price == nil {
		price = big.NewInt(0)
	}
	return &types.Event{
		Type: TypeOrderListed,
		Attributes: map[string]string{
			"bookKey":   e.BookKey,
			"seller":    crypto.MustNewAddress(crypto.AgoraPrefix, e.Seller[:]).String(),
			"quantity":  formatUint(e.Quantity),
			"unitPrice": price.String(),
			"category":  e.Category,
		},
	}
}

type OrderCancelled struct {
	BookKey string
	Seller  [20]byte
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCancelled,
		Attributes: map[string]string{
			"bookKey": e.BookKey,
			"seller":  crypto.MustNewAddress(crypto.AgoraPrefix, e.Seller[:]).String(),
		},
	}
}

type OrderFilled struct {
	ReceiptID string
	BookKey   string
	Seller    [20]byte
	Buyer     [20]byte
	Quantity  uint64
	Cost      *big.Int
	Fee       *big.Int
	Category  string
}

func (OrderFilled) EventType() string { return TypeOrderFilled }

func (e OrderFilled) Event() *types.Event {
	cost := e.Cost
	if cost == nil {
		cost = big.NewInt(0)
	}
	fee := e.Fee
	if fee == nil {
		fee = big.NewInt(0)
	}
	return &types.Event{
		Type: TypeOrderFilled,
		Attributes: map[string]string{
			"receiptId": e.ReceiptID,
			"bookKey":   e.BookKey,
			"seller":    crypto.MustNewAddress(crypto.AgoraPrefix, e.Seller[:]).String(),
			"buyer":     crypto.MustNewAddress(crypto.AgoraPrefix, e.Buyer[:]).String(),
			"quantity":  formatUint(e.Quantity),
			"cost":      cost.String(),
			"fee":       fee.String(),
			"category":  e.Category,
		},
	}
}
