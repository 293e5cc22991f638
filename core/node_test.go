package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agorachain/core/events"
	"agorachain/crypto"
	"agorachain/native/common"
	"agorachain/native/market"
	"agorachain/native/stable"
	"agorachain/storage"
)

func testAddress(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(crypto.AgoraPrefix, raw)
}

func newTestNode(t *testing.T) (*Node, crypto.Address) {
	t.Helper()
	node, err := NewNode(storage.NewMemDB(), Config{
		FeeVault:        testAddress(t, 0xfe),
		CollateralVault: testAddress(t, 0xcc),
		MarketFeeBps:    100,
		Risk:            stable.DefaultRiskParameters(),
	})
	require.NoError(t, err)

	admin := testAddress(t, 0xad)
	require.NoError(t, node.State().SetRole(RoleAdmin, admin.Bytes()))
	node.State().Commit()
	require.NoError(t, node.AdminRegisterToken(admin, "AGO", "Agora", 18, true))
	return node, admin
}

func TestAdminSurfaceRequiresRole(t *testing.T) {
	node, _ := newTestNode(t)
	outsider := testAddress(t, 1)

	require.ErrorIs(t, node.AdminSetPaused(outsider, "market", true), ErrNotAdmin)
	require.ErrorIs(t, node.AdminRegisterToken(outsider, "SMU", "Stable", 18, false), ErrNotAdmin)
	require.ErrorIs(t, node.AdminAirdrop(outsider, []crypto.Address{outsider}, []*big.Int{big.NewInt(1)}), ErrNotAdmin)
}

func TestPauseBlocksMarketOperations(t *testing.T) {
	node, admin := newTestNode(t)
	seller := testAddress(t, 1)

	require.NoError(t, node.AdminSetPaused(admin, "market", true))
	err := node.MarketCreateSellOrder(DefaultBook, seller, 1, big.NewInt(10), market.CategoryHousing)
	require.ErrorIs(t, err, common.ErrModulePaused)

	require.NoError(t, node.AdminSetPaused(admin, "market", false))
	require.NoError(t, node.AdminCreditItems(admin, DefaultBook, seller, 1))
	require.NoError(t, node.MarketCreateSellOrder(DefaultBook, seller, 1, big.NewInt(10), market.CategoryHousing))
}

func TestBuyOrderEndToEnd(t *testing.T) {
	node, admin := newTestNode(t)
	seller := testAddress(t, 1)
	buyer := testAddress(t, 2)

	require.NoError(t, node.AdminCreditItems(admin, DefaultBook, seller, 10))
	require.NoError(t, node.AdminMintSettlement(admin, buyer, big.NewInt(1000)))
	require.NoError(t, node.MarketCreateSellOrder(DefaultBook, seller, 10, big.NewInt(20), market.CategoryApparel))

	receipt, err := node.MarketCreateBuyOrder(DefaultBook, seller, buyer, 5, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), receipt.Cost)
	// 1% protocol fee.
	require.Equal(t, big.NewInt(1), receipt.Fee)
	require.Equal(t, uint64(5), receipt.Quantity)

	buyerBalance, err := node.Balance(buyer, market.SettlementSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(900), buyerBalance)
	sellerBalance, err := node.Balance(seller, market.SettlementSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(99), sellerBalance)
	feeHeld, err := node.Balance(testAddress(t, 0xfe), market.SettlementSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), feeHeld)

	items, err := node.ItemBalance(DefaultBook, buyer)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), items)

	orders, err := node.MarketOrders(DefaultBook)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, uint64(5), orders[0].Quantity)

	filled := false
	for _, ev := range node.Events() {
		if ev.Type == events.TypeOrderFilled {
			filled = true
		}
	}
	require.True(t, filled)

	// Accrued fees leave the vault only through the admin surface.
	treasury := testAddress(t, 3)
	require.ErrorIs(t, node.AdminWithdrawFees(buyer, treasury, big.NewInt(1)), ErrNotAdmin)
	require.Error(t, node.AdminWithdrawFees(admin, treasury, big.NewInt(2)))
	require.NoError(t, node.AdminWithdrawFees(admin, treasury, big.NewInt(1)))
	treasuryBalance, err := node.Balance(treasury, market.SettlementSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), treasuryBalance)
}

func TestMarketAggregationQueries(t *testing.T) {
	node, admin := newTestNode(t)
	housing := testAddress(t, 1)
	apparel := testAddress(t, 2)

	require.NoError(t, node.AdminCreditItems(admin, DefaultBook, housing, 10))
	require.NoError(t, node.AdminCreditItems(admin, DefaultBook, apparel, 10))
	require.NoError(t, node.MarketCreateSellOrder(DefaultBook, housing, 10, big.NewInt(15), market.CategoryHousing))
	require.NoError(t, node.MarketCreateSellOrder(DefaultBook, apparel, 4, big.NewInt(5), market.CategoryApparel))

	total, err := node.MarketTotalValue(DefaultBook)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(170), total)

	byCategory, err := node.MarketTotalValueByCategory(DefaultBook, market.CategoryHousing)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(150), byCategory)

	floor, err := node.MarketFloorPrice(DefaultBook)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), floor)

	// Both listings were stamped with the wall clock; a window covering all of
	// time sees everything, an empty early window sees nothing.
	all, err := node.MarketValueInRange(DefaultBook, 0, ^uint64(0))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(170), all)
	none, err := node.MarketValueInRange(DefaultBook, 0, 1)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), none)
}

func TestBuyOrderRollsBackWhenItemsMissing(t *testing.T) {
	node, admin := newTestNode(t)
	seller := testAddress(t, 1)
	buyer := testAddress(t, 2)

	// Seller lists without holding custody of the items.
	require.NoError(t, node.AdminMintSettlement(admin, buyer, big.NewInt(1000)))
	require.NoError(t, node.MarketCreateSellOrder(DefaultBook, seller, 5, big.NewInt(10), market.CategoryTransport))

	_, err := node.MarketCreateBuyOrder(DefaultBook, seller, buyer, 5, big.NewInt(50))
	require.ErrorIs(t, err, market.ErrItemTransferFailed)

	// Every ledger mutation of the failed purchase was rolled back.
	buyerBalance, err := node.Balance(buyer, market.SettlementSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), buyerBalance)
	orders, err := node.MarketOrders(DefaultBook)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, uint64(5), orders[0].Quantity)
	total, err := node.MarketTotalValue(DefaultBook)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(50), total)
}

func TestStableLifecycle(t *testing.T) {
	node, admin := newTestNode(t)
	user := testAddress(t, 1)

	require.NoError(t, node.AdminMintSettlement(admin, user, big.NewInt(500)))
	require.NoError(t, node.StableDepositAndMint(user, "AGO", big.NewInt(500), big.NewInt(250)))

	smu, err := node.Balance(user, stable.StableSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(250), smu)
	supply, err := node.StableSupply()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(250), supply)
	vaultHeld, err := node.Balance(testAddress(t, 0xcc), "AGO")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), vaultHeld)

	// Minting past the threshold fails and leaves the liability untouched.
	err = node.StableMint(user, big.NewInt(1))
	require.ErrorIs(t, err, stable.ErrBreaksHealthFactor)
	position, err := node.StablePosition(user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(250), position.Liability)

	require.NoError(t, node.StableRedeemCollateralForStable(user, "AGO", big.NewInt(500), big.NewInt(250)))
	supply, err = node.StableSupply()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), supply)
	back, err := node.Balance(user, "AGO")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), back)
}

func TestAirdropMintsWithoutCollateral(t *testing.T) {
	node, admin := newTestNode(t)
	a := testAddress(t, 1)
	b := testAddress(t, 2)

	require.NoError(t, node.AdminAirdrop(admin, []crypto.Address{a, b}, []*big.Int{big.NewInt(5), big.NewInt(7)}))

	balance, err := node.Balance(a, stable.StableSymbol)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), balance)
	supply, err := node.StableSupply()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12), supply)
}
