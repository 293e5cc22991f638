package market

import (
	"errors"
	"math/big"
)

var (
	errNilSeller     = errors.New("market: seller address required")
	errZeroQuantity  = errors.New("market: quantity must be positive")
	errZeroUnitPrice = errors.New("market: unit price must be positive")
	errBadCategory   = errors.New("market: category outside taxonomy")

	// ErrDuplicateOrder is returned when a seller already holds an active
	// order in the set.
	ErrDuplicateOrder = errors.New("market: seller already listed")
	// ErrOrderNotFound is returned when the targeted order is absent,
	// typically because it was consumed elsewhere. Callers re-fetch before
	// retrying.
	ErrOrderNotFound = errors.New("market: order not found")
)

// OrderSet holds the active sell orders for one order-book key: at most one
// order per seller, O(1) insert and removal via swap-and-pop. Sequence
// positions carry no ordering guarantee; consumers that need ordering must
// sort the snapshot themselves.
type OrderSet struct {
	orders []SellOrder
	index  map[[20]byte]int
}

// NewOrderSet returns an empty set.
func NewOrderSet() *OrderSet {
	return &OrderSet{index: make(map[[20]byte]int)}
}

// NewOrderSetFromOrders rebuilds a set (and its seller index) from a stored
// order sequence.
func NewOrderSetFromOrders(orders []SellOrder) (*OrderSet, error) {
	set := NewOrderSet()
	for _, order := range orders {
		if err := set.Insert(order); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func validateOrder(order SellOrder) error {
	if order.Seller == ([20]byte{}) {
		return errNilSeller
	}
	if order.Quantity == 0 {
		return errZeroQuantity
	}
	if order.UnitPrice == nil || order.UnitPrice.Sign() <= 0 {
		return errZeroUnitPrice
	}
	if !order.Category.Valid() {
		return errBadCategory
	}
	return nil
}

// Insert appends the order and records its index. Malformed orders and
// duplicate sellers are rejected before any mutation.
func (s *OrderSet) Insert(order SellOrder) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	if _, exists := s.index[order.Seller]; exists {
		return ErrDuplicateOrder
	}
	s.orders = append(s.orders, order.Clone())
	s.index[order.Seller] = len(s.orders) - 1
	return nil
}

// Remove deletes the seller's order via swap-and-pop: the last sequence
// element moves into the freed slot and its index entry is rewritten, then the
// sequence shrinks by one.
func (s *OrderSet) Remove(seller [20]byte) error {
	pos, exists := s.index[seller]
	if !exists {
		return ErrOrderNotFound
	}
	last := len(s.orders) - 1
	if pos != last {
		moved := s.orders[last]
		s.orders[pos] = moved
		s.index[moved.Seller] = pos
	}
	s.orders = s.orders[:last]
	delete(s.index, seller)
	return nil
}

// Replace overwrites the seller's stored order in place, keeping its slot.
func (s *OrderSet) Replace(order SellOrder) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	pos, exists := s.index[order.Seller]
	if !exists {
		return ErrOrderNotFound
	}
	s.orders[pos] = order.Clone()
	return nil
}

// Len reports the number of active orders.
func (s *OrderSet) Len() int {
	return len(s.orders)
}

// Has reports whether the seller holds an active order.
func (s *OrderSet) Has(seller [20]byte) bool {
	_, exists := s.index[seller]
	return exists
}

// BySeller returns the seller's active order. The boolean distinguishes an
// absent seller from the order occupying slot zero.
func (s *OrderSet) BySeller(seller [20]byte) (SellOrder, bool) {
	pos, exists := s.index[seller]
	if !exists {
		return SellOrder{}, false
	}
	return s.orders[pos].Clone(), true
}

// BySellerAndCategory returns the seller's order only when it matches the
// category.
func (s *OrderSet) BySellerAndCategory(seller [20]byte, category Category) (SellOrder, bool) {
	order, ok := s.BySeller(seller)
	if !ok || order.Category != category {
		return SellOrder{}, false
	}
	return order, true
}

// Orders returns a snapshot of every active order.
func (s *OrderSet) Orders() []SellOrder {
	snapshot := make([]SellOrder, 0, len(s.orders))
	for _, order := range s.orders {
		snapshot = append(snapshot, order.Clone())
	}
	return snapshot
}

// OrdersByCategory returns a snapshot of the active orders in the category.
func (s *OrderSet) OrdersByCategory(category Category) []SellOrder {
	snapshot := make([]SellOrder, 0)
	for _, order := range s.orders {
		if order.Category == category {
			snapshot = append(snapshot, order.Clone())
		}
	}
	return snapshot
}

// TotalValue sums quantity times unit price over all active orders.
func (s *OrderSet) TotalValue() *big.Int {
	total := big.NewInt(0)
	for _, order := range s.orders {
		total.Add(total, order.Value())
	}
	return total
}

// TotalValueByCategory sums quantity times unit price over the category.
func (s *OrderSet) TotalValueByCategory(category Category) *big.Int {
	total := big.NewInt(0)
	for _, order := range s.orders {
		if order.Category == category {
			total.Add(total, order.Value())
		}
	}
	return total
}

// ValueInRange sums quantity times unit price over orders listed inside the
// half-open window [from, to).
func (s *OrderSet) ValueInRange(from, to uint64) *big.Int {
	total := big.NewInt(0)
	for _, order := range s.orders {
		if order.ListedAt >= from && order.ListedAt < to {
			total.Add(total, order.Value())
		}
	}
	return total
}

// FloorPrice returns the lowest active ask, or nil when the set is empty.
func (s *OrderSet) FloorPrice() *big.Int {
	var floor *big.Int
	for _, order := range s.orders {
		if order.UnitPrice == nil {
			continue
		}
		if floor == nil || order.UnitPrice.Cmp(floor) < 0 {
			floor = new(big.Int).Set(order.UnitPrice)
		}
	}
	return floor
}
