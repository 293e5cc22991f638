package market

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agorachain/core/events"
	"agorachain/crypto"
	nativecommon "agorachain/native/common"
)

type memBookState struct {
	books    map[string][]SellOrder
	balances map[string]*big.Int
}

func newMemBookState() *memBookState {
	return &memBookState{
		books:    make(map[string][]SellOrder),
		balances: make(map[string]*big.Int),
	}
}

func (s *memBookState) OrderBook(key string) (*OrderSet, error) {
	return NewOrderSetFromOrders(s.books[key])
}

func (s *memBookState) PutOrderBook(key string, set *OrderSet) error {
	s.books[key] = set.Orders()
	return nil
}

func balKey(addr []byte, symbol string) string { return string(addr) + ":" + symbol }

func (s *memBookState) Balance(addr []byte, symbol string) (*big.Int, error) {
	if amount, ok := s.balances[balKey(addr, symbol)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (s *memBookState) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	s.balances[balKey(addr, symbol)] = new(big.Int).Set(amount)
	return nil
}

type recordedTrade struct {
	category   Category
	executedAt uint64
	value      *big.Int
}

type memRecorder struct {
	trades []recordedTrade
}

func (r *memRecorder) RecordTrade(category Category, executedAt uint64, value *big.Int) error {
	r.trades = append(r.trades, recordedTrade{category: category, executedAt: executedAt, value: new(big.Int).Set(value)})
	return nil
}

type failingItems struct{}

func (failingItems) TransferItem(string, crypto.Address, crypto.Address, uint64) error {
	return errors.New("custody unavailable")
}

type pausedView struct{ paused bool }

func (p pausedView) IsPaused(string) bool { return p.paused }

func engineAddr(fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(crypto.AgoraPrefix, raw)
}

func newMarketEngine(state *memBookState, recorder *memRecorder) *Engine {
	engine := NewEngine(engineAddr(0xfe), 100)
	engine.SetState(state)
	engine.SetTradeRecorder(recorder)
	engine.SetNowFunc(func() uint64 { return 5000 })
	return engine
}

func TestListingRoundTrip(t *testing.T) {
	state := newMemBookState()
	engine := newMarketEngine(state, &memRecorder{})
	sellerAddr := engineAddr(1)

	order := SellOrder{Seller: seller(1), Quantity: 5, UnitPrice: big.NewInt(10), Category: CategoryHousing}
	require.NoError(t, engine.CreateSellOrder("default", order))

	listed, err := engine.Orders("default")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	// The engine clock stamps unset listing times.
	require.Equal(t, uint64(5000), listed[0].ListedAt)

	require.NoError(t, engine.CancelSellOrder("default", sellerAddr))
	listed, err = engine.Orders("default")
	require.NoError(t, err)
	require.Empty(t, listed)

	// Relist after cancellation.
	require.NoError(t, engine.CreateSellOrder("default", order))
}

func TestPauseBlocksListing(t *testing.T) {
	engine := newMarketEngine(newMemBookState(), &memRecorder{})
	engine.SetPauses(pausedView{paused: true})

	err := engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 1, UnitPrice: big.NewInt(1), Category: CategoryHousing})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestBuyOrderSettlesBalancesAndFee(t *testing.T) {
	state := newMemBookState()
	recorder := &memRecorder{}
	engine := newMarketEngine(state, recorder)
	sellerAddr := engineAddr(1)
	buyerAddr := engineAddr(2)

	require.NoError(t, state.SetBalance(buyerAddr.Bytes(), SettlementSymbol, big.NewInt(1000)))
	require.NoError(t, engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 10, UnitPrice: big.NewInt(20), Category: CategoryApparel}))

	receipt, err := engine.CreateBuyOrder("default", sellerAddr, buyerAddr, 5, big.NewInt(100))
	require.NoError(t, err)
	require.NotEmpty(t, receipt.ID)
	require.Equal(t, big.NewInt(100), receipt.Cost)
	require.Equal(t, big.NewInt(1), receipt.Fee)

	buyerBalance, _ := state.Balance(buyerAddr.Bytes(), SettlementSymbol)
	require.Equal(t, big.NewInt(900), buyerBalance)
	sellerBalance, _ := state.Balance(sellerAddr.Bytes(), SettlementSymbol)
	require.Equal(t, big.NewInt(99), sellerBalance)
	vaultBalance, _ := state.Balance(engineAddr(0xfe).Bytes(), SettlementSymbol)
	require.Equal(t, big.NewInt(1), vaultBalance)

	// Partial fill leaves the reduced listing in place.
	listed, err := engine.Orders("default")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, uint64(5), listed[0].Quantity)

	// The executed value reached the index recorder at execution time.
	require.Len(t, recorder.trades, 1)
	require.Equal(t, CategoryApparel, recorder.trades[0].category)
	require.Equal(t, uint64(5000), recorder.trades[0].executedAt)
	require.Equal(t, big.NewInt(100), recorder.trades[0].value)
}

func TestBuyOrderFullFillRemovesListing(t *testing.T) {
	state := newMemBookState()
	engine := newMarketEngine(state, &memRecorder{})
	buyerAddr := engineAddr(2)

	require.NoError(t, state.SetBalance(buyerAddr.Bytes(), SettlementSymbol, big.NewInt(1000)))
	require.NoError(t, engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 3, UnitPrice: big.NewInt(10), Category: CategoryHousing}))

	_, err := engine.CreateBuyOrder("default", engineAddr(1), buyerAddr, 3, big.NewInt(30))
	require.NoError(t, err)

	listed, err := engine.Orders("default")
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestBuyOrderValidation(t *testing.T) {
	state := newMemBookState()
	engine := newMarketEngine(state, &memRecorder{})
	sellerAddr := engineAddr(1)
	buyerAddr := engineAddr(2)

	require.NoError(t, state.SetBalance(buyerAddr.Bytes(), SettlementSymbol, big.NewInt(25)))
	require.NoError(t, engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 5, UnitPrice: big.NewInt(10), Category: CategoryHousing}))

	_, err := engine.CreateBuyOrder("default", engineAddr(9), buyerAddr, 1, big.NewInt(10))
	require.ErrorIs(t, err, ErrNotListed)

	_, err = engine.CreateBuyOrder("default", sellerAddr, buyerAddr, 6, big.NewInt(60))
	require.ErrorIs(t, err, ErrInsufficientQuantity)

	_, err = engine.CreateBuyOrder("default", sellerAddr, buyerAddr, 2, big.NewInt(19))
	require.ErrorIs(t, err, ErrInsufficientPayment)

	_, err = engine.CreateBuyOrder("default", sellerAddr, buyerAddr, 3, big.NewInt(30))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The failed attempts left the listing untouched.
	listed, err := engine.Orders("default")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, uint64(5), listed[0].Quantity)
	buyerBalance, _ := state.Balance(buyerAddr.Bytes(), SettlementSymbol)
	require.Equal(t, big.NewInt(25), buyerBalance)
}

func TestBuyOrderItemTransferFailureSurfaces(t *testing.T) {
	state := newMemBookState()
	engine := newMarketEngine(state, &memRecorder{})
	engine.SetItemTransferer(failingItems{})
	buyerAddr := engineAddr(2)

	require.NoError(t, state.SetBalance(buyerAddr.Bytes(), SettlementSymbol, big.NewInt(100)))
	require.NoError(t, engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 2, UnitPrice: big.NewInt(10), Category: CategoryHousing}))

	_, err := engine.CreateBuyOrder("default", engineAddr(1), buyerAddr, 2, big.NewInt(20))
	require.ErrorIs(t, err, ErrItemTransferFailed)
}

func TestBuyOrderEmitsFilledEvent(t *testing.T) {
	state := newMemBookState()
	engine := newMarketEngine(state, &memRecorder{})
	buyerAddr := engineAddr(2)

	var captured []events.Event
	engine.SetEmitter(emitterFunc(func(ev events.Event) { captured = append(captured, ev) }))

	require.NoError(t, state.SetBalance(buyerAddr.Bytes(), SettlementSymbol, big.NewInt(100)))
	require.NoError(t, engine.CreateSellOrder("default", SellOrder{Seller: seller(1), Quantity: 2, UnitPrice: big.NewInt(10), Category: CategoryUtilities}))
	_, err := engine.CreateBuyOrder("default", engineAddr(1), buyerAddr, 2, big.NewInt(20))
	require.NoError(t, err)

	var filled *events.OrderFilled
	for _, ev := range captured {
		if f, ok := ev.(events.OrderFilled); ok {
			filled = &f
		}
	}
	require.NotNil(t, filled)
	require.Equal(t, "utilities", filled.Category)
	require.Equal(t, big.NewInt(20), filled.Cost)
}

type emitterFunc func(events.Event)

func (f emitterFunc) Emit(ev events.Event) { f(ev) }
