package rpc

import (
	"math/big"
	"strings"

	"agorachain/crypto"
	"agorachain/native/cpi"
	"agorachain/native/market"
)

func parseAddress(raw string) (crypto.Address, *rpcError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, invalidParams("invalid address: " + err.Error())
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, *rpcError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid amount " + raw)
	}
	return amount, nil
}

func parseWindow(raw string) (cpi.Window, *rpcError) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "monthly":
		return cpi.WindowMonthly, nil
	case "yearly":
		return cpi.WindowYearly, nil
	}
	return 0, invalidParams("unknown window " + raw)
}

var categoryNames = func() map[string]market.Category {
	names := make(map[string]market.Category, market.CategoryCount)
	for c := market.Category(0); c.Valid(); c++ {
		names[c.String()] = c
	}
	return names
}()

func parseCategory(raw string) (market.Category, *rpcError) {
	category, ok := categoryNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, invalidParams("unknown category " + raw)
	}
	return category, nil
}

func bookOrDefault(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "default"
	}
	return trimmed
}

// orderJSON is the wire form of an active listing.
type orderJSON struct {
	Seller    string `json:"seller"`
	Quantity  uint64 `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Category  string `json:"category"`
	ListedAt  uint64 `json:"listedAt"`
}

func toOrderJSON(order market.SellOrder) orderJSON {
	price := order.UnitPrice
	if price == nil {
		price = big.NewInt(0)
	}
	return orderJSON{
		Seller:    crypto.MustNewAddress(crypto.AgoraPrefix, order.Seller[:]).String(),
		Quantity:  order.Quantity,
		UnitPrice: price.String(),
		Category:  order.Category.String(),
		ListedAt:  order.ListedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
