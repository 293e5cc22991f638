package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	collateralPrefix     = []byte("stable:collateral:")
	collateralListPrefix = []byte("stable:collateral-assets:")
	liabilityPrefix      = []byte("stable:liability:")
)

func collateralKey(addr []byte, symbol string) []byte {
	buf := make([]byte, 0, len(collateralPrefix)+len(addr)+1+len(symbol))
	buf = append(buf, collateralPrefix...)
	buf = append(buf, addr...)
	buf = append(buf, ':')
	buf = append(buf, symbol...)
	return ethcrypto.Keccak256(buf)
}

func collateralListKey(addr []byte) []byte {
	buf := make([]byte, 0, len(collateralListPrefix)+len(addr))
	buf = append(buf, collateralListPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func liabilityKey(addr []byte) []byte {
	buf := make([]byte, 0, len(liabilityPrefix)+len(addr))
	buf = append(buf, liabilityPrefix...)
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

// Collateral loads the deposited amount of symbol for the address, defaulting
// to zero.
func (m *Manager) Collateral(addr []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(collateralKey(addr, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetCollateral stores the deposited amount of symbol for the address and
// keeps the per-address asset list current.
func (m *Manager) SetCollateral(addr []byte, symbol string, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative collateral for %s", normalized)
	}
	assets, err := m.CollateralAssets(addr)
	if err != nil {
		return err
	}
	seen := false
	for _, asset := range assets {
		if asset == normalized {
			seen = true
			break
		}
	}
	if !seen {
		assets = append(assets, normalized)
		sort.Strings(assets)
		if err := m.KVPut(collateralListKey(addr), assets); err != nil {
			return err
		}
	}
	return m.KVPut(collateralKey(addr, normalized), amount)
}

// CollateralAssets returns every symbol the address has ever deposited, in
// sorted order.
func (m *Manager) CollateralAssets(addr []byte) ([]string, error) {
	var assets []string
	if _, err := m.KVGet(collateralListKey(addr), &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Liability loads the outstanding minted amount for the address, defaulting
// to zero.
func (m *Manager) Liability(addr []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(liabilityKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetLiability stores the outstanding minted amount for the address.
func (m *Manager) SetLiability(addr []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative liability")
	}
	return m.KVPut(liabilityKey(addr), amount)
}
