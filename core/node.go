package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"agorachain/core/events"
	"agorachain/core/state"
	"agorachain/core/types"
	"agorachain/crypto"
	"agorachain/native/cpi"
	"agorachain/native/market"
	"agorachain/native/oracle"
	"agorachain/native/stable"
	"agorachain/observability"
	"agorachain/storage"
)

// RoleAdmin guards the administrative surface: pauses, token registration,
// formula swaps and airdrops.
const RoleAdmin = "admin"

// DefaultBook is the order book used when a request names none.
const DefaultBook = "default"

const maxRetainedEvents = 1024

var (
	// ErrNotAdmin is returned when a caller without the administrative role
	// reaches a gated operation.
	ErrNotAdmin = errors.New("node: caller lacks admin role")
	// ErrInsufficientBalance is returned by ledger moves that would
	// overdraw the source account.
	ErrInsufficientBalance = errors.New("node: insufficient balance")
	// ErrInsufficientItems is returned when a seller does not hold the
	// items a purchase would deliver.
	ErrInsufficientItems = errors.New("node: insufficient item holdings")
)

// Config carries the ledger parameters the node is constructed with.
type Config struct {
	FeeVault        crypto.Address
	CollateralVault crypto.Address
	MarketFeeBps    uint64
	Risk            stable.RiskParameters
	IndexWindow     cpi.Window
	BucketWidth     uint64
	Logger          *slog.Logger
}

// Node owns the ledger state and the native engines. All mutating operations
// run under a single writer lock and inside a state snapshot, so a failure at
// any step rolls the whole operation back.
type Node struct {
	mu       sync.Mutex
	state    *state.Manager
	market   *market.Engine
	cpi      *cpi.Engine
	stable   *stable.Engine
	logger   *slog.Logger
	metrics  *ledgerMetricsSink
	feeVault crypto.Address

	events []types.Event
}

type ledgerMetricsSink struct {
	metrics interface {
		RecordTrade(category string, value *big.Int)
		RecordLiquidation()
		SetStableSupply(supply *big.Int)
		SetPriceIndex(window string, index *big.Int)
	}
}

// NewNode wires the engines over the supplied database.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)

	node := &Node{
		state:    manager,
		logger:   logger,
		metrics:  &ledgerMetricsSink{metrics: observability.LedgerMetrics()},
		feeVault: cfg.FeeVault,
	}

	marketEngine := market.NewEngine(cfg.FeeVault, cfg.MarketFeeBps)
	marketEngine.SetState(manager)
	marketEngine.SetPauses(manager)
	marketEngine.SetEmitter(nodeEmitter{node: node})

	cpiEngine := cpi.NewEngine()
	cpiEngine.SetState(manager)
	if cfg.BucketWidth != 0 {
		if err := cpiEngine.SetBucketWidth(cfg.BucketWidth); err != nil {
			return nil, err
		}
	}
	marketEngine.SetTradeRecorder(cpiEngine)

	stableEngine := stable.NewEngine(cfg.CollateralVault, cfg.Risk)
	stableEngine.SetState(manager)
	stableEngine.SetPauses(manager)
	stableEngine.SetEmitter(nodeEmitter{node: node})
	stableEngine.SetIndexSource(cpiEngine)
	stableEngine.SetWindow(cfg.IndexWindow)

	mover := &ledgerMover{manager: manager}
	stableEngine.SetTokenMover(mover)
	marketEngine.SetItemTransferer(mover)

	node.market = marketEngine
	node.cpi = cpiEngine
	node.stable = stableEngine
	return node, nil
}

// SetIndexFeedPair overrides the currency pair queried on the index feed.
func (n *Node) SetIndexFeedPair(base, quote string) {
	n.stable.SetFeedPair(base, quote)
}

// SetIndexFeed installs the independent price feed gating stable operations.
func (n *Node) SetIndexFeed(feed oracle.PriceOracle) {
	n.stable.SetFeed(feed)
}

// State exposes the underlying manager for genesis seeding.
func (n *Node) State() *state.Manager { return n.state }

// withWrite serialises mutating operations and snapshots the state so a
// failed operation leaves no partial writes behind.
func (n *Node) withWrite(op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	snap := n.state.Snapshot()
	mark := len(n.events)
	if err := fn(); err != nil {
		n.state.RevertToSnapshot(snap)
		n.events = n.events[:mark]
		n.logger.Warn("ledger operation rejected", "op", op, "error", err)
		return err
	}
	n.state.Commit()
	return nil
}

func (n *Node) withRead(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// nodeEmitter funnels engine events into the node's retained event log and
// the metrics registry. Events appended inside a failed operation are
// truncated by withWrite.
type nodeEmitter struct {
	node *Node
}

func (e nodeEmitter) Emit(ev events.Event) {
	n := e.node
	if typed, ok := ev.(interface{ Event() *types.Event }); ok {
		n.events = append(n.events, *typed.Event())
		if len(n.events) > maxRetainedEvents {
			n.events = n.events[len(n.events)-maxRetainedEvents:]
		}
	}
	switch evt := ev.(type) {
	case events.OrderFilled:
		n.metrics.recordTrade(evt.Category, evt.Cost)
	case events.Liquidated:
		n.metrics.recordLiquidation()
	}
}

func (s *ledgerMetricsSink) recordTrade(category string, value *big.Int) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.RecordTrade(category, value)
}

func (s *ledgerMetricsSink) recordLiquidation() {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.RecordLiquidation()
}

func (s *ledgerMetricsSink) setStableSupply(supply *big.Int) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.SetStableSupply(supply)
}

func (s *ledgerMetricsSink) setPriceIndex(window string, index *big.Int) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.SetPriceIndex(window, index)
}

// ledgerMover implements the engines' external collaborators over the ledger
// balances: token transfers, stable mint/burn with supply tracking, and
// tokenized item custody.
type ledgerMover struct {
	manager *state.Manager
}

func (l *ledgerMover) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	fromBalance, err := l.manager.Balance(from.Bytes(), symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.manager.Balance(to.Bytes(), symbol)
	if err != nil {
		return err
	}
	if err := l.manager.SetBalance(from.Bytes(), symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.manager.SetBalance(to.Bytes(), symbol, new(big.Int).Add(toBalance, amount))
}

func (l *ledgerMover) Mint(symbol string, to crypto.Address, amount *big.Int) error {
	balance, err := l.manager.Balance(to.Bytes(), symbol)
	if err != nil {
		return err
	}
	if err := l.manager.SetBalance(to.Bytes(), symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	supply, err := l.manager.TokenSupply(symbol)
	if err != nil {
		return err
	}
	return l.manager.SetTokenSupply(symbol, new(big.Int).Add(supply, amount))
}

func (l *ledgerMover) Burn(symbol string, from crypto.Address, amount *big.Int) error {
	balance, err := l.manager.Balance(from.Bytes(), symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.manager.SetBalance(from.Bytes(), symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	supply, err := l.manager.TokenSupply(symbol)
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(supply, amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	return l.manager.SetTokenSupply(symbol, next)
}

func (l *ledgerMover) TransferItem(bookKey string, seller, buyer crypto.Address, quantity uint64) error {
	qty := new(big.Int).SetUint64(quantity)
	held, err := l.manager.ItemBalance(bookKey, seller.Bytes())
	if err != nil {
		return err
	}
	if held.Cmp(qty) < 0 {
		return ErrInsufficientItems
	}
	buyerHeld, err := l.manager.ItemBalance(bookKey, buyer.Bytes())
	if err != nil {
		return err
	}
	if err := l.manager.SetItemBalance(bookKey, seller.Bytes(), new(big.Int).Sub(held, qty)); err != nil {
		return err
	}
	return l.manager.SetItemBalance(bookKey, buyer.Bytes(), new(big.Int).Add(buyerHeld, qty))
}

// --- Marketplace surface ---

// MarketCreateSellOrder lists quantity units at unitPrice in the seller's name.
func (n *Node) MarketCreateSellOrder(bookKey string, seller crypto.Address, quantity uint64, unitPrice *big.Int, category market.Category) error {
	var sellerKey [20]byte
	copy(sellerKey[:], seller.Bytes())
	order := market.SellOrder{
		Seller:    sellerKey,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Category:  category,
	}
	return n.withWrite("market_createSellOrder", func() error {
		return n.market.CreateSellOrder(bookKey, order)
	})
}

// MarketCancelSellOrder removes the seller's active listing.
func (n *Node) MarketCancelSellOrder(bookKey string, seller crypto.Address) error {
	return n.withWrite("market_cancelSellOrder", func() error {
		return n.market.CancelSellOrder(bookKey, seller)
	})
}

// MarketCreateBuyOrder purchases quantity units from the seller's listing.
func (n *Node) MarketCreateBuyOrder(bookKey string, seller, buyer crypto.Address, quantity uint64, payment *big.Int) (*market.Receipt, error) {
	var receipt *market.Receipt
	err := n.withWrite("market_createBuyOrder", func() error {
		var opErr error
		receipt, opErr = n.market.CreateBuyOrder(bookKey, seller, buyer, quantity, payment)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// MarketOrders returns the book's active listings.
func (n *Node) MarketOrders(bookKey string) ([]market.SellOrder, error) {
	var orders []market.SellOrder
	err := n.withRead(func() error {
		var opErr error
		orders, opErr = n.market.Orders(bookKey)
		return opErr
	})
	return orders, err
}

// MarketOrdersByCategory returns the book's active listings in the category.
func (n *Node) MarketOrdersByCategory(bookKey string, category market.Category) ([]market.SellOrder, error) {
	var orders []market.SellOrder
	err := n.withRead(func() error {
		var opErr error
		orders, opErr = n.market.OrdersByCategory(bookKey, category)
		return opErr
	})
	return orders, err
}

// MarketTotalValue reports the book's aggregate listed value.
func (n *Node) MarketTotalValue(bookKey string) (*big.Int, error) {
	var total *big.Int
	err := n.withRead(func() error {
		var opErr error
		total, opErr = n.market.TotalValue(bookKey)
		return opErr
	})
	return total, err
}

// MarketTotalValueByCategory reports the book's aggregate listed value in the
// category.
func (n *Node) MarketTotalValueByCategory(bookKey string, category market.Category) (*big.Int, error) {
	var total *big.Int
	err := n.withRead(func() error {
		var opErr error
		total, opErr = n.market.TotalValueByCategory(bookKey, category)
		return opErr
	})
	return total, err
}

// MarketValueInRange reports the aggregate value of the book's listings
// created in [from, to).
func (n *Node) MarketValueInRange(bookKey string, from, to uint64) (*big.Int, error) {
	var total *big.Int
	err := n.withRead(func() error {
		var opErr error
		total, opErr = n.market.ValueInRange(bookKey, from, to)
		return opErr
	})
	return total, err
}

// MarketFloorPrice reports the book's lowest active ask, nil when empty.
func (n *Node) MarketFloorPrice(bookKey string) (*big.Int, error) {
	var floor *big.Int
	err := n.withRead(func() error {
		var opErr error
		floor, opErr = n.market.FloorPrice(bookKey)
		return opErr
	})
	return floor, err
}

// --- Price index surface ---

// CPIPeriodIndex computes and retains the current period index for the window.
func (n *Node) CPIPeriodIndex(window cpi.Window) (*big.Int, error) {
	var index *big.Int
	err := n.withWrite("cpi_periodIndex", func() error {
		var opErr error
		index, opErr = n.cpi.PeriodIndex(window)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	n.metrics.setPriceIndex(window.String(), index)
	return index, nil
}

// CPIPeriodInflationRate reports the signed period-over-period inflation rate.
func (n *Node) CPIPeriodInflationRate(window cpi.Window) (*big.Int, error) {
	var rate *big.Int
	err := n.withRead(func() error {
		var opErr error
		rate, opErr = n.cpi.PeriodInflationRate(window)
		return opErr
	})
	return rate, err
}

// --- Stable token surface ---

// StableDepositCollateral locks collateral for the user.
func (n *Node) StableDepositCollateral(user crypto.Address, symbol string, amount *big.Int) error {
	return n.withWrite("stable_depositCollateral", func() error {
		return n.stable.DepositCollateral(user, symbol, amount)
	})
}

// StableRedeemCollateral releases collateral back to the user.
func (n *Node) StableRedeemCollateral(user crypto.Address, symbol string, amount *big.Int) error {
	return n.withWrite("stable_redeemCollateral", func() error {
		return n.stable.RedeemCollateral(user, symbol, amount)
	})
}

// StableMint issues stable tokens against the user's collateral.
func (n *Node) StableMint(user crypto.Address, amount *big.Int) error {
	err := n.withWrite("stable_mint", func() error {
		return n.stable.Mint(user, amount)
	})
	if err != nil {
		return err
	}
	n.reportStableSupply()
	return nil
}

// StableBurn repays onBehalfOf's liability with tokens pulled from payer.
func (n *Node) StableBurn(amount *big.Int, onBehalfOf, payer crypto.Address) error {
	err := n.withWrite("stable_burn", func() error {
		return n.stable.Burn(amount, onBehalfOf, payer)
	})
	if err != nil {
		return err
	}
	n.reportStableSupply()
	return nil
}

// StableDepositAndMint runs a deposit followed by a mint as one atomic
// composite.
func (n *Node) StableDepositAndMint(user crypto.Address, symbol string, depositAmount, mintAmount *big.Int) error {
	err := n.withWrite("stable_depositAndMint", func() error {
		return n.stable.DepositAndMint(user, symbol, depositAmount, mintAmount)
	})
	if err != nil {
		return err
	}
	n.reportStableSupply()
	return nil
}

// StableRedeemCollateralForStable burns stable tokens and redeems collateral
// as one atomic composite.
func (n *Node) StableRedeemCollateralForStable(user crypto.Address, symbol string, collateralAmount, burnAmount *big.Int) error {
	err := n.withWrite("stable_redeemCollateralForStable", func() error {
		return n.stable.RedeemCollateralForStable(user, symbol, collateralAmount, burnAmount)
	})
	if err != nil {
		return err
	}
	n.reportStableSupply()
	return nil
}

// StableLiquidate liquidates part of an unhealthy position.
func (n *Node) StableLiquidate(symbol string, liquidator, user crypto.Address, debtToCover *big.Int) (*big.Int, *big.Int, error) {
	var repaid, seized *big.Int
	err := n.withWrite("stable_liquidate", func() error {
		var opErr error
		repaid, seized, opErr = n.stable.Liquidate(symbol, liquidator, user, debtToCover)
		return opErr
	})
	if err != nil {
		return nil, nil, err
	}
	n.reportStableSupply()
	return repaid, seized, nil
}

// StablePosition reports the user's collateral, liability and health factor.
func (n *Node) StablePosition(user crypto.Address) (*stable.Position, error) {
	var position *stable.Position
	err := n.withRead(func() error {
		var opErr error
		position, opErr = n.stable.Position(user)
		return opErr
	})
	return position, err
}

// StableHealthFactor reports the user's health factor.
func (n *Node) StableHealthFactor(user crypto.Address) (*big.Int, error) {
	var hf *big.Int
	err := n.withRead(func() error {
		var opErr error
		hf, opErr = n.stable.HealthFactor(user)
		return opErr
	})
	return hf, err
}

// StableSupply reports the outstanding stable token supply.
func (n *Node) StableSupply() (*big.Int, error) {
	var supply *big.Int
	err := n.withRead(func() error {
		var opErr error
		supply, opErr = n.state.TokenSupply(stable.StableSymbol)
		return opErr
	})
	return supply, err
}

func (n *Node) reportStableSupply() {
	supply, err := n.StableSupply()
	if err != nil {
		return
	}
	n.metrics.setStableSupply(supply)
}

// --- Administrative surface ---

func (n *Node) requireAdmin(caller crypto.Address) error {
	if !n.state.HasRole(RoleAdmin, caller.Bytes()) {
		return ErrNotAdmin
	}
	return nil
}

// AdminSetPaused toggles a native module's pause switch.
func (n *Node) AdminSetPaused(caller crypto.Address, module string, paused bool) error {
	return n.withWrite("admin_setPaused", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		if err := n.state.SetPaused(module, paused); err != nil {
			return err
		}
		n.logger.Info("module pause toggled", "module", module, "paused", paused)
		return nil
	})
}

// AdminRegisterToken records a new token symbol.
func (n *Node) AdminRegisterToken(caller crypto.Address, symbol, name string, decimals uint8, collateralAllowed bool) error {
	return n.withWrite("admin_registerToken", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		return n.state.RegisterToken(symbol, name, decimals, collateralAllowed)
	})
}

// AdminGrantRole adds the grantee to the role's member set.
func (n *Node) AdminGrantRole(caller crypto.Address, role string, grantee crypto.Address) error {
	return n.withWrite("admin_grantRole", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		return n.state.SetRole(role, grantee.Bytes())
	})
}

// AdminAirdrop mints stable tokens to each recipient without a health check.
func (n *Node) AdminAirdrop(caller crypto.Address, recipients []crypto.Address, amounts []*big.Int) error {
	err := n.withWrite("admin_airdrop", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		return n.stable.Airdrop(recipients, amounts)
	})
	if err != nil {
		return err
	}
	n.reportStableSupply()
	return nil
}

// AdminSetIndexFormula swaps the active price-index formula.
func (n *Node) AdminSetIndexFormula(caller crypto.Address, formula cpi.Formula) error {
	return n.withWrite("admin_setIndexFormula", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		return n.cpi.SetFormula(formula)
	})
}

// AdminCreditItems grants tokenized item custody to an address, backing
// listings bridged from off-ledger inventory.
func (n *Node) AdminCreditItems(caller crypto.Address, bookKey string, holder crypto.Address, quantity uint64) error {
	return n.withWrite("admin_creditItems", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		held, err := n.state.ItemBalance(bookKey, holder.Bytes())
		if err != nil {
			return err
		}
		qty := new(big.Int).SetUint64(quantity)
		return n.state.SetItemBalance(bookKey, holder.Bytes(), new(big.Int).Add(held, qty))
	})
}

// AdminMintSettlement issues settlement tokens, seeding balances at genesis
// and on bridge deposits.
func (n *Node) AdminMintSettlement(caller crypto.Address, to crypto.Address, amount *big.Int) error {
	return n.withWrite("admin_mintSettlement", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("node: mint amount must be positive")
		}
		mover := &ledgerMover{manager: n.state}
		return mover.Mint(market.SettlementSymbol, to, amount)
	})
}

// AdminWithdrawFees moves accrued marketplace fees out of the fee vault.
func (n *Node) AdminWithdrawFees(caller crypto.Address, to crypto.Address, amount *big.Int) error {
	return n.withWrite("admin_withdrawFees", func() error {
		if err := n.requireAdmin(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("node: withdraw amount must be positive")
		}
		mover := &ledgerMover{manager: n.state}
		return mover.Transfer(market.SettlementSymbol, n.feeVault, to, amount)
	})
}

// --- Query surface ---

// Balance reports the address's balance in the symbol.
func (n *Node) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	var balance *big.Int
	err := n.withRead(func() error {
		var opErr error
		balance, opErr = n.state.Balance(addr.Bytes(), symbol)
		return opErr
	})
	return balance, err
}

// Account assembles the address's balances across every registered token.
func (n *Node) Account(addr crypto.Address) (*types.Account, error) {
	account := types.NewAccount()
	err := n.withRead(func() error {
		symbols, opErr := n.state.TokenList()
		if opErr != nil {
			return opErr
		}
		for _, symbol := range symbols {
			balance, opErr := n.state.Balance(addr.Bytes(), symbol)
			if opErr != nil {
				return opErr
			}
			account.SetBalance(symbol, balance)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ItemBalance reports the address's item holdings in the book.
func (n *Node) ItemBalance(bookKey string, addr crypto.Address) (*big.Int, error) {
	var held *big.Int
	err := n.withRead(func() error {
		var opErr error
		held, opErr = n.state.ItemBalance(bookKey, addr.Bytes())
		return opErr
	})
	return held, err
}

// TokenList reports the registered token symbols.
func (n *Node) TokenList() ([]string, error) {
	var list []string
	err := n.withRead(func() error {
		var opErr error
		list, opErr = n.state.TokenList()
		return opErr
	})
	return list, err
}

// IsPaused reports a module's pause switch.
func (n *Node) IsPaused(module string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.IsPaused(module)
}

// Events returns the retained event log, newest last.
func (n *Node) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}
