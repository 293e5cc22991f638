package stable

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agorachain/crypto"
	"agorachain/native/cpi"
	"agorachain/native/oracle"
)

type memState struct {
	collateral map[string]map[string]*big.Int
	assets     map[string][]string
	liability  map[string]*big.Int
	allowed    map[string]bool
}

func newMemState(allowed ...string) *memState {
	s := &memState{
		collateral: make(map[string]map[string]*big.Int),
		assets:     make(map[string][]string),
		liability:  make(map[string]*big.Int),
		allowed:    make(map[string]bool),
	}
	for _, symbol := range allowed {
		s.allowed[symbol] = true
	}
	return s
}

func (s *memState) Collateral(addr []byte, symbol string) (*big.Int, error) {
	if amounts, ok := s.collateral[string(addr)]; ok {
		if amount, ok := amounts[symbol]; ok {
			return new(big.Int).Set(amount), nil
		}
	}
	return big.NewInt(0), nil
}

func (s *memState) SetCollateral(addr []byte, symbol string, amount *big.Int) error {
	key := string(addr)
	amounts, ok := s.collateral[key]
	if !ok {
		amounts = make(map[string]*big.Int)
		s.collateral[key] = amounts
	}
	if _, seen := amounts[symbol]; !seen {
		s.assets[key] = append(s.assets[key], symbol)
	}
	amounts[symbol] = new(big.Int).Set(amount)
	return nil
}

func (s *memState) CollateralAssets(addr []byte) ([]string, error) {
	return append([]string(nil), s.assets[string(addr)]...), nil
}

func (s *memState) Liability(addr []byte) (*big.Int, error) {
	if amount, ok := s.liability[string(addr)]; ok {
		return new(big.Int).Set(amount), nil
	}
	return big.NewInt(0), nil
}

func (s *memState) SetLiability(addr []byte, amount *big.Int) error {
	s.liability[string(addr)] = new(big.Int).Set(amount)
	return nil
}

func (s *memState) IsCollateralAllowed(symbol string) bool { return s.allowed[symbol] }

type moverCall struct {
	op     string
	symbol string
	from   crypto.Address
	to     crypto.Address
	amount *big.Int
}

type recordingMover struct {
	calls  []moverCall
	failOp string
}

func (m *recordingMover) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	if m.failOp == "transfer" {
		return errors.New("transfer rejected")
	}
	m.calls = append(m.calls, moverCall{op: "transfer", symbol: symbol, from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *recordingMover) Mint(symbol string, to crypto.Address, amount *big.Int) error {
	if m.failOp == "mint" {
		return errors.New("mint rejected")
	}
	m.calls = append(m.calls, moverCall{op: "mint", symbol: symbol, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *recordingMover) Burn(symbol string, from crypto.Address, amount *big.Int) error {
	if m.failOp == "burn" {
		return errors.New("burn rejected")
	}
	m.calls = append(m.calls, moverCall{op: "burn", symbol: symbol, from: from, amount: new(big.Int).Set(amount)})
	return nil
}

type stubIndex struct {
	idx  *big.Int
	infl *big.Int
	err  error
}

func (s stubIndex) PeriodIndex(cpi.Window) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.idx), nil
}

func (s stubIndex) PeriodInflationRate(cpi.Window) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.infl), nil
}

type fixedFeed struct {
	rate *big.Rat
	err  error
}

func (f fixedFeed) GetRate(base, quote string) (oracle.PriceQuote, error) {
	if f.err != nil {
		return oracle.PriceQuote{}, f.err
	}
	return oracle.PriceQuote{Rate: new(big.Rat).Set(f.rate), Timestamp: time.Now(), Source: "fixed"}, nil
}

func testAddr(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(crypto.AgoraPrefix, raw)
}

func newTestEngine(t *testing.T, state *memState, mover *recordingMover, index IndexSource) *Engine {
	t.Helper()
	engine := NewEngine(testAddr(t, 0xee), DefaultRiskParameters())
	engine.SetState(state)
	engine.SetTokenMover(mover)
	engine.SetIndexSource(index)
	return engine
}

// Before any trade history exists the index computation has no base period;
// collateral is then marked at face value.
func bootstrapIndex() IndexSource { return stubIndex{err: cpi.ErrDivisionByZero} }

func TestDepositCollateralRejectsUnknownToken(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())

	err := engine.DepositCollateral(testAddr(t, 1), "DOGE", big.NewInt(10))
	require.ErrorIs(t, err, ErrTokenNotAllowed)
	require.Empty(t, mover.calls)
}

func TestDepositCollateralMovesAssetToVault(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, engine.DepositCollateral(user, "AGO", big.NewInt(500)))

	held, err := state.Collateral(user.Bytes(), "AGO")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), held)
	require.Len(t, mover.calls, 1)
	require.Equal(t, "transfer", mover.calls[0].op)
	require.Equal(t, engine.vault.String(), mover.calls[0].to.String())
}

func TestZeroLiabilityHealthFactorIsMax(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())

	hf, err := engine.HealthFactor(testAddr(t, 1))
	require.NoError(t, err)
	require.Equal(t, 0, hf.Cmp(MaxHealthFactor))
}

func TestMintRespectsCollateralLimit(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, engine.DepositCollateral(user, "AGO", big.NewInt(500)))

	// 50% threshold over 500 of collateral supports exactly 250 of debt.
	require.NoError(t, engine.Mint(user, big.NewInt(250)))

	err := engine.Mint(user, big.NewInt(1))
	require.ErrorIs(t, err, ErrBreaksHealthFactor)
	var breaks *BreaksHealthFactorError
	require.ErrorAs(t, err, &breaks)
	require.True(t, breaks.HealthFactor.Cmp(MinHealthFactor) < 0)

	// Only the first mint reached the token layer.
	mints := 0
	for _, call := range mover.calls {
		if call.op == "mint" {
			mints++
			require.Equal(t, StableSymbol, call.symbol)
			require.Equal(t, big.NewInt(250), call.amount)
		}
	}
	require.Equal(t, 1, mints)
}

func TestCollateralValueAppliesIndexAndInflation(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, stubIndex{idx: big.NewInt(10), infl: big.NewInt(5)})
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(1000)))

	// 1000 * (100+10) * (100+5) / 10000 = 1155
	value, err := engine.CollateralValue(user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1155), value)
}

func TestBurnExceedingLiabilityFails(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(100)))

	err := engine.Burn(big.NewInt(101), user, user)
	require.ErrorIs(t, err, ErrInsufficientLiability)
	require.Empty(t, mover.calls)

	liability, err := state.Liability(user.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), liability)
}

func TestBurnReducesLiabilityAndDestroysTokens(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)
	payer := testAddr(t, 2)

	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(100)))
	require.NoError(t, engine.Burn(big.NewInt(40), user, payer))

	liability, err := state.Liability(user.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60), liability)
	require.Len(t, mover.calls, 1)
	require.Equal(t, "burn", mover.calls[0].op)
	require.Equal(t, payer.String(), mover.calls[0].from.String())
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(1000)))
	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(100)))

	_, _, err := engine.Liquidate("AGO", testAddr(t, 2), user, big.NewInt(50))
	require.ErrorIs(t, err, ErrHealthFactorOk)
}

func TestLiquidatePartialSeizesWithBonus(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)
	liquidator := testAddr(t, 2)

	// 100 collateral at 50% threshold supports 50 of debt; 80 outstanding
	// puts the health factor at 0.625.
	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(100)))
	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(80)))

	repay, seized, err := engine.Liquidate("AGO", liquidator, user, big.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(40), repay)
	// 40 of collateral value plus the 10% bonus.
	require.Equal(t, big.NewInt(44), seized)

	liability, err := state.Liability(user.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(40), liability)
	held, err := state.Collateral(user.Bytes(), "AGO")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(56), held)

	require.Len(t, mover.calls, 2)
	require.Equal(t, "burn", mover.calls[0].op)
	require.Equal(t, liquidator.String(), mover.calls[0].from.String())
	require.Equal(t, "transfer", mover.calls[1].op)
	require.Equal(t, liquidator.String(), mover.calls[1].to.String())
}

func TestLiquidateRepayCappedAtLiability(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(100)))
	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(80)))

	repay, _, err := engine.Liquidate("AGO", testAddr(t, 2), user, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(80), repay)
}

func TestStaleFeedBlocksMint(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	engine.SetFeed(fixedFeed{err: oracle.ErrNoFreshQuote})
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(500)))

	err := engine.Mint(user, big.NewInt(10))
	require.ErrorIs(t, err, oracle.ErrNoFreshQuote)
}

func TestFeedDeviationBlocksMint(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	// Marking factor is 1.0; a feed at 2.0 is 5000 bps off, past the
	// default 2000 bps bound.
	engine.SetFeed(fixedFeed{rate: big.NewRat(2, 1)})
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(500)))

	err := engine.Mint(user, big.NewInt(10))
	require.ErrorIs(t, err, ErrIndexDeviation)
}

func TestFeedWithinBoundAllowsMint(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	engine.SetFeed(fixedFeed{rate: big.NewRat(101, 100)})
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(500)))
	require.NoError(t, engine.Mint(user, big.NewInt(10)))
}

func TestAirdropSkipsHealthCheck(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	a := testAddr(t, 1)
	b := testAddr(t, 2)

	err := engine.Airdrop([]crypto.Address{a, b}, []*big.Int{big.NewInt(5), big.NewInt(7)})
	require.NoError(t, err)

	liability, err := state.Liability(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), liability)
	liability, err = state.Liability(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), liability)
	require.Len(t, mover.calls, 2)
}

func TestAirdropLengthMismatch(t *testing.T) {
	engine := newTestEngine(t, newMemState("AGO"), &recordingMover{}, bootstrapIndex())

	err := engine.Airdrop([]crypto.Address{testAddr(t, 1)}, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestRedeemBlockedWhenUnhealthy(t *testing.T) {
	state := newMemState("AGO")
	engine := newTestEngine(t, state, &recordingMover{}, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, state.SetCollateral(user.Bytes(), "AGO", big.NewInt(500)))
	require.NoError(t, state.SetLiability(user.Bytes(), big.NewInt(250)))

	err := engine.RedeemCollateral(user, "AGO", big.NewInt(100))
	require.ErrorIs(t, err, ErrBreaksHealthFactor)
}

func TestDepositAndMintComposite(t *testing.T) {
	state := newMemState("AGO")
	mover := &recordingMover{}
	engine := newTestEngine(t, state, mover, bootstrapIndex())
	user := testAddr(t, 1)

	require.NoError(t, engine.DepositAndMint(user, "AGO", big.NewInt(500), big.NewInt(200)))

	liability, err := state.Liability(user.Bytes())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), liability)
}
