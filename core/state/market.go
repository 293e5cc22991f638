package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agorachain/native/market"
)

var (
	orderBookPrefix = []byte("market:orderbook:")
	itemPrefix      = []byte("market:item:")
)

func orderBookKey(book string) []byte {
	buf := make([]byte, 0, len(orderBookPrefix)+len(book))
	buf = append(buf, orderBookPrefix...)
	buf = append(buf, book...)
	return ethcrypto.Keccak256(buf)
}

// OrderBook loads the order set stored under the book key. An absent book
// yields an empty set.
func (m *Manager) OrderBook(key string) (*market.OrderSet, error) {
	var orders []market.SellOrder
	ok, err := m.KVGet(orderBookKey(key), &orders)
	if err != nil {
		return nil, err
	}
	if !ok {
		return market.NewOrderSet(), nil
	}
	return market.NewOrderSetFromOrders(orders)
}

// PutOrderBook persists the order set under the book key. An empty set clears
// the stored entry.
func (m *Manager) PutOrderBook(key string, set *market.OrderSet) error {
	if set == nil || set.Len() == 0 {
		return m.KVDelete(orderBookKey(key))
	}
	return m.KVPut(orderBookKey(key), set.Orders())
}

func itemKey(book string, addr []byte) []byte {
	buf := make([]byte, 0, len(itemPrefix)+len(book)+1+len(addr))
	buf = append(buf, itemPrefix...)
	buf = append(buf, book...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

// ItemBalance loads the number of tokenized items the address holds in the
// book, defaulting to zero.
func (m *Manager) ItemBalance(book string, addr []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(itemKey(book, addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetItemBalance stores the item holding for (book, addr).
func (m *Manager) SetItemBalance(book string, addr []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative item balance in book %s", book)
	}
	return m.KVPut(itemKey(book, addr), amount)
}
