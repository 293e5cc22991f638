package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var supplyPrefix = []byte("supply:")

func supplyKey(symbol string) []byte {
	buf := make([]byte, 0, len(supplyPrefix)+len(symbol))
	buf = append(buf, supplyPrefix...)
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}

// TokenSupply loads the tracked circulating supply for the symbol, defaulting
// to zero.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(supplyKey(normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetTokenSupply stores the circulating supply for the symbol.
func (m *Manager) SetTokenSupply(symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative supply for %s", normalizeSymbol(symbol))
	}
	return m.KVPut(supplyKey(normalizeSymbol(symbol)), amount)
}
