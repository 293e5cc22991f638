package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"agorachain/core/events"
	"agorachain/crypto"
	nativecommon "agorachain/native/common"
)

var (
	errNilState    = errors.New("market engine: state not configured")
	errEmptyBook   = errors.New("market engine: order book key required")
	errNilPayment  = errors.New("market engine: payment must be positive")
	errNilRecorder = errors.New("market engine: trade recorder not configured")

	// ErrNotListed is returned when the targeted seller has no active order
	// in the book.
	ErrNotListed = ErrOrderNotFound
	// ErrInsufficientQuantity is returned when a buy order requests more
	// than the listing's remaining quantity.
	ErrInsufficientQuantity = errors.New("market engine: insufficient listed quantity")
	// ErrInsufficientPayment is returned when the supplied payment does not
	// cover the purchase cost.
	ErrInsufficientPayment = errors.New("market engine: payment below purchase cost")
	// ErrInsufficientFunds is returned when the buyer's settlement balance
	// cannot cover the purchase cost.
	ErrInsufficientFunds = errors.New("market engine: insufficient settlement balance")
	// ErrItemTransferFailed wraps failures reported by the external item
	// transfer collaborator. The ledger mutations of the operation are
	// rolled back by the caller.
	ErrItemTransferFailed = errors.New("market engine: item transfer failed")
)

const moduleName = "market"

// SettlementSymbol is the token marketplace purchases settle in.
const SettlementSymbol = "AGO"

var basisPoints = big.NewInt(10_000)

type engineState interface {
	OrderBook(key string) (*OrderSet, error)
	PutOrderBook(key string, set *OrderSet) error
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
}

// TradeRecorder folds executed trade value into the price-index bucket store.
type TradeRecorder interface {
	RecordTrade(category Category, executedAt uint64, value *big.Int) error
}

// ItemTransferer moves the tokenized marketplace item from seller to buyer. It
// is an external collaborator; a failure aborts the whole purchase.
type ItemTransferer interface {
	TransferItem(bookKey string, seller, buyer crypto.Address, quantity uint64) error
}

// Receipt summarises an executed buy order.
type Receipt struct {
	ID       string
	BookKey  string
	Seller   crypto.Address
	Buyer    crypto.Address
	Quantity uint64
	Cost     *big.Int
	Fee      *big.Int
}

// Engine orchestrates listing, cancellation and purchase flows for the
// marketplace order books.
type Engine struct {
	state    engineState
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	recorder TradeRecorder
	items    ItemTransferer
	feeBps   uint64
	feeVault crypto.Address
	nowFn    func() uint64
}

// NewEngine constructs a marketplace engine charging the supplied protocol fee
// (basis points) into the fee vault on every purchase.
func NewEngine(feeVault crypto.Address, feeBps uint64) *Engine {
	return &Engine{
		feeVault: feeVault,
		feeBps:   feeBps,
		emitter:  events.NoopEmitter{},
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the ledger state.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses installs the administrative pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter installs the event sink. A nil emitter resets to the no-op sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetTradeRecorder wires the price-index bucket sink fed on every purchase.
func (e *Engine) SetTradeRecorder(recorder TradeRecorder) {
	if e == nil {
		return
	}
	e.recorder = recorder
}

// SetItemTransferer wires the external collaborator that moves purchased
// items.
func (e *Engine) SetItemTransferer(items ItemTransferer) {
	if e == nil {
		return
	}
	e.items = items
}

// SetNowFunc overrides the clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) loadBook(key string) (*OrderSet, string, error) {
	if e == nil || e.state == nil {
		return nil, "", errNilState
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, "", errEmptyBook
	}
	book, err := e.state.OrderBook(trimmed)
	if err != nil {
		return nil, "", err
	}
	if book == nil {
		book = NewOrderSet()
	}
	return book, trimmed, nil
}

// CreateSellOrder validates and records a new listing. The listing timestamp
// is stamped by the engine clock when unset.
func (e *Engine) CreateSellOrder(bookKey string, order SellOrder) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	book, key, err := e.loadBook(bookKey)
	if err != nil {
		return err
	}
	if order.ListedAt == 0 {
		order.ListedAt = e.nowFn()
	}
	if err := book.Insert(order); err != nil {
		return err
	}
	if err := e.state.PutOrderBook(key, book); err != nil {
		return err
	}
	e.emitter.Emit(events.OrderListed{
		BookKey:   key,
		Seller:    order.Seller,
		Quantity:  order.Quantity,
		UnitPrice: order.UnitPrice,
		Category:  order.Category.String(),
	})
	return nil
}

// CancelSellOrder removes the seller's active listing.
func (e *Engine) CancelSellOrder(bookKey string, seller crypto.Address) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	book, key, err := e.loadBook(bookKey)
	if err != nil {
		return err
	}
	var sellerKey [20]byte
	copy(sellerKey[:], seller.Bytes())
	if err := book.Remove(sellerKey); err != nil {
		return err
	}
	if err := e.state.PutOrderBook(key, book); err != nil {
		return err
	}
	e.emitter.Emit(events.OrderCancelled{BookKey: key, Seller: sellerKey})
	return nil
}

// CreateBuyOrder purchases quantity units from the seller's listing. The buyer
// pays in the settlement token; the protocol fee accrues to the fee vault; the
// tokenized item moves through the external transfer collaborator after all
// internal balances are finalised.
func (e *Engine) CreateBuyOrder(bookKey string, seller, buyer crypto.Address, quantity uint64, payment *big.Int) (*Receipt, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, errZeroQuantity
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, errNilPayment
	}
	if e.recorder == nil {
		return nil, errNilRecorder
	}
	book, key, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	var sellerKey [20]byte
	copy(sellerKey[:], seller.Bytes())
	order, ok := book.BySeller(sellerKey)
	if !ok {
		return nil, ErrNotListed
	}
	if quantity > order.Quantity {
		return nil, ErrInsufficientQuantity
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(quantity), order.UnitPrice)
	if payment.Cmp(cost) < 0 {
		return nil, ErrInsufficientPayment
	}

	buyerBalance, err := e.state.Balance(buyer.Bytes(), SettlementSymbol)
	if err != nil {
		return nil, err
	}
	if buyerBalance.Cmp(cost) < 0 {
		return nil, ErrInsufficientFunds
	}

	fee := new(big.Int).Mul(cost, new(big.Int).SetUint64(e.feeBps))
	fee.Quo(fee, basisPoints)
	proceeds := new(big.Int).Sub(cost, fee)

	sellerBalance, err := e.state.Balance(seller.Bytes(), SettlementSymbol)
	if err != nil {
		return nil, err
	}
	vaultBalance, err := e.state.Balance(e.feeVault.Bytes(), SettlementSymbol)
	if err != nil {
		return nil, err
	}

	if err := e.state.SetBalance(buyer.Bytes(), SettlementSymbol, new(big.Int).Sub(buyerBalance, cost)); err != nil {
		return nil, err
	}
	if err := e.state.SetBalance(seller.Bytes(), SettlementSymbol, new(big.Int).Add(sellerBalance, proceeds)); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.state.SetBalance(e.feeVault.Bytes(), SettlementSymbol, new(big.Int).Add(vaultBalance, fee)); err != nil {
			return nil, err
		}
	}

	if quantity == order.Quantity {
		if err := book.Remove(sellerKey); err != nil {
			return nil, err
		}
	} else {
		reduced := order.Clone()
		reduced.Quantity = order.Quantity - quantity
		if err := book.Replace(reduced); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutOrderBook(key, book); err != nil {
		return nil, err
	}

	executedAt := e.nowFn()
	if err := e.recorder.RecordTrade(order.Category, executedAt, cost); err != nil {
		return nil, err
	}

	// Internal state is final; the external call runs last so a reentrant
	// caller observes consistent balances.
	if e.items != nil {
		if err := e.items.TransferItem(key, seller, buyer, quantity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrItemTransferFailed, err)
		}
	}

	receipt := &Receipt{
		ID:       newReceiptID(),
		BookKey:  key,
		Seller:   seller,
		Buyer:    buyer,
		Quantity: quantity,
		Cost:     cost,
		Fee:      fee,
	}
	var buyerKey [20]byte
	copy(buyerKey[:], buyer.Bytes())
	e.emitter.Emit(events.OrderFilled{
		ReceiptID: receipt.ID,
		BookKey:   key,
		Seller:    sellerKey,
		Buyer:     buyerKey,
		Quantity:  quantity,
		Cost:      cost,
		Fee:       fee,
		Category:  order.Category.String(),
	})
	return receipt, nil
}

// Orders returns a snapshot of the book's active listings.
func (e *Engine) Orders(bookKey string) ([]SellOrder, error) {
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.Orders(), nil
}

// OrdersByCategory returns the book's active listings in the category.
func (e *Engine) OrdersByCategory(bookKey string, category Category) ([]SellOrder, error) {
	if !category.Valid() {
		return nil, errBadCategory
	}
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.OrdersByCategory(category), nil
}

// TotalValue reports the book's aggregate listed value.
func (e *Engine) TotalValue(bookKey string) (*big.Int, error) {
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.TotalValue(), nil
}

// TotalValueByCategory reports the aggregate listed value in the category.
func (e *Engine) TotalValueByCategory(bookKey string, category Category) (*big.Int, error) {
	if !category.Valid() {
		return nil, errBadCategory
	}
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.TotalValueByCategory(category), nil
}

// ValueInRange reports the aggregate value of listings created in [from, to).
func (e *Engine) ValueInRange(bookKey string, from, to uint64) (*big.Int, error) {
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.ValueInRange(from, to), nil
}

// FloorPrice reports the lowest active ask in the book, nil when empty.
func (e *Engine) FloorPrice(bookKey string) (*big.Int, error) {
	book, _, err := e.loadBook(bookKey)
	if err != nil {
		return nil, err
	}
	return book.FloorPrice(), nil
}
