package stable

import (
	"errors"
	"fmt"
	"math/big"

	"agorachain/core/events"
	"agorachain/crypto"
	nativecommon "agorachain/native/common"
	"agorachain/native/cpi"
	"agorachain/native/oracle"
)

var (
	errNilState  = errors.New("stable engine: state not configured")
	errNilMover  = errors.New("stable engine: token mover not configured")
	errNilIndex  = errors.New("stable engine: index source not configured")
	errValueless = errors.New("stable engine: collateral value is zero")

	// ErrInvalidAmount rejects nil or non-positive amounts before any
	// mutation.
	ErrInvalidAmount = errors.New("stable engine: amount must be positive")
	// ErrTokenNotAllowed rejects collateral symbols outside the allow-list.
	ErrTokenNotAllowed = errors.New("stable engine: token not accepted as collateral")
	// ErrInsufficientCollateral is returned when a redeem or seizure exceeds
	// the deposited amount.
	ErrInsufficientCollateral = errors.New("stable engine: insufficient collateral balance")
	// ErrInsufficientLiability is returned when a burn exceeds the
	// outstanding minted amount. Checked before any mutation.
	ErrInsufficientLiability = errors.New("stable engine: burn exceeds outstanding liability")
	// ErrTransferFailed wraps collateral transfer failures reported by the
	// external asset-transfer collaborator.
	ErrTransferFailed = errors.New("stable engine: asset transfer failed")
	// ErrMintFailed wraps downstream stable-token mint failures.
	ErrMintFailed = errors.New("stable engine: stable token mint failed")
	// ErrBurnFailed wraps downstream stable-token pull/burn failures.
	ErrBurnFailed = errors.New("stable engine: stable token burn failed")
	// ErrHealthFactorOk is returned when liquidation targets a healthy
	// position.
	ErrHealthFactorOk = errors.New("stable engine: position not liquidatable")
	// ErrHealthFactorNotImproved is returned when a liquidation would leave
	// the borrower worse off.
	ErrHealthFactorNotImproved = errors.New("stable engine: liquidation does not improve health factor")
	// ErrReentrantCall rejects nested execution while an external call is
	// outstanding.
	ErrReentrantCall = errors.New("stable engine: reentrant call")
	// ErrIndexDeviation is returned when the marketplace-derived marking
	// factor drifts too far from the independent price feed.
	ErrIndexDeviation = errors.New("stable engine: index deviates from independent feed")
	// ErrLengthMismatch rejects airdrop calls with unequal slice lengths.
	ErrLengthMismatch = errors.New("stable engine: recipients and amounts length mismatch")
	// ErrBreaksHealthFactor is the sentinel wrapped by
	// BreaksHealthFactorError.
	ErrBreaksHealthFactor = errors.New("stable engine: health factor below minimum")
)

// BreaksHealthFactorError carries the computed health factor alongside the
// ErrBreaksHealthFactor sentinel.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	if e == nil || e.HealthFactor == nil {
		return ErrBreaksHealthFactor.Error()
	}
	return fmt.Sprintf("%s (health factor %s)", ErrBreaksHealthFactor.Error(), e.HealthFactor)
}

func (e *BreaksHealthFactorError) Unwrap() error { return ErrBreaksHealthFactor }

const moduleName = "stable"

type engineState interface {
	Collateral(addr []byte, symbol string) (*big.Int, error)
	SetCollateral(addr []byte, symbol string, amount *big.Int) error
	CollateralAssets(addr []byte) ([]string, error)
	Liability(addr []byte) (*big.Int, error)
	SetLiability(addr []byte, amount *big.Int) error
	IsCollateralAllowed(symbol string) bool
}

// IndexSource supplies the marketplace-derived price statistics used to mark
// collateral.
type IndexSource interface {
	PeriodIndex(window cpi.Window) (*big.Int, error)
	PeriodInflationRate(window cpi.Window) (*big.Int, error)
}

// TokenMover is the external asset-transfer collaborator. Transfer moves a
// collateral asset between accounts; Mint and Burn create and destroy stable
// tokens. All internal ledger mutations are finalised before any of these run.
type TokenMover interface {
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
	Mint(symbol string, to crypto.Address, amount *big.Int) error
	Burn(symbol string, from crypto.Address, amount *big.Int) error
}

// Engine orchestrates collateral custody, stable-token issuance and
// liquidation. Collateral is marked against the marketplace-derived price
// index; the optional independent feed gates operations when the two diverge.
type Engine struct {
	state   engineState
	mover   TokenMover
	index   IndexSource
	feed    oracle.PriceOracle
	params  RiskParameters
	pauses  nativecommon.PauseView
	emitter events.Emitter
	vault   crypto.Address
	window  cpi.Window

	feedBase  string
	feedQuote string

	entered bool
}

// NewEngine constructs a stable-token engine holding collateral in the vault
// address.
func NewEngine(vault crypto.Address, params RiskParameters) *Engine {
	return &Engine{
		vault:     vault,
		params:    params,
		emitter:   events.NoopEmitter{},
		window:    cpi.WindowMonthly,
		feedBase:  "ACPI",
		feedQuote: "USD",
	}
}

// SetState wires the engine to the ledger state.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenMover wires the external asset-transfer collaborator.
func (e *Engine) SetTokenMover(mover TokenMover) {
	if e == nil {
		return
	}
	e.mover = mover
}

// SetIndexSource wires the price-index engine.
func (e *Engine) SetIndexSource(index IndexSource) {
	if e == nil {
		return
	}
	e.index = index
}

// SetFeed installs the independent price feed used to cross-check the
// marketplace-derived marking. A nil feed disables the check.
func (e *Engine) SetFeed(feed oracle.PriceOracle) {
	if e == nil {
		return
	}
	e.feed = feed
}

// SetFeedPair overrides the currency pair queried on the independent feed.
func (e *Engine) SetFeedPair(base, quote string) {
	if e == nil {
		return
	}
	e.feedBase = base
	e.feedQuote = quote
}

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

// SetWindow selects the index window used for collateral marking.
func (e *Engine) SetWindow(window cpi.Window) {
	if e == nil || !window.Valid() {
		return
	}
	e.window = window
}

func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() { e.entered = false }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.mover == nil {
		return errNilMover
	}
	if e.index == nil {
		return errNilIndex
	}
	return nil
}

// indexFactors resolves the current period index and inflation rate. Before
// enough bucket history exists the index computation divides by zero; the
// marking then falls back to the unadjusted collateral amount.
func (e *Engine) indexFactors() (*big.Int, *big.Int, error) {
	idx, err := e.index.PeriodIndex(e.window)
	if err != nil {
		if errors.Is(err, cpi.ErrDivisionByZero) {
			return big.NewInt(0), big.NewInt(0), nil
		}
		return nil, nil, err
	}
	infl, err := e.index.PeriodInflationRate(e.window)
	if err != nil {
		if errors.Is(err, cpi.ErrDivisionByZero) {
			infl = big.NewInt(0)
		} else {
			return nil, nil, err
		}
	}
	return idx, infl, nil
}

// markingFactor returns the numerator of the collateral marking factor over a
// fixed 10000 denominator: (100+index)(100+inflation), with the inflation leg
// clamped so deflation below -100% cannot turn value negative.
func (e *Engine) markingFactor() (*big.Int, error) {
	idx, infl, err := e.indexFactors()
	if err != nil {
		return nil, err
	}
	idxLeg := new(big.Int).Add(hundred, idx)
	inflLeg := new(big.Int).Add(hundred, infl)
	if inflLeg.Sign() < 0 {
		inflLeg = big.NewInt(0)
	}
	return new(big.Int).Mul(idxLeg, inflLeg), nil
}

// checkFeedDeviation fails closed when the independent feed is stale or when
// the marketplace-derived marking factor drifts beyond the configured bound.
func (e *Engine) checkFeedDeviation(factorNum *big.Int) error {
	if e.feed == nil || e.params.MaxIndexDeviationBps == 0 {
		return nil
	}
	quote, err := e.feed.GetRate(e.feedBase, e.feedQuote)
	if err != nil {
		// Stale or unavailable feed data refuses service by design.
		return fmt.Errorf("stable engine: index feed: %w", err)
	}
	factor := new(big.Rat).SetFrac(factorNum, basisPoints)
	diff := new(big.Rat).Sub(factor, quote.Rate)
	diff.Abs(diff)
	// deviationBps = |factor - rate| / rate * 10000
	deviation := diff.Mul(diff, new(big.Rat).SetInt(basisPoints))
	deviation.Quo(deviation, quote.Rate)
	bound := new(big.Rat).SetUint64(e.params.MaxIndexDeviationBps)
	if deviation.Cmp(bound) > 0 {
		return ErrIndexDeviation
	}
	return nil
}

// CollateralValue sums the user's deposited assets marked by the current
// index and inflation factors.
func (e *Engine) CollateralValue(user crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	factorNum, err := e.markingFactor()
	if err != nil {
		return nil, err
	}
	return e.collateralValueWithFactor(user, factorNum)
}

func (e *Engine) collateralValueWithFactor(user crypto.Address, factorNum *big.Int) (*big.Int, error) {
	assets, err := e.state.CollateralAssets(user.Bytes())
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, symbol := range assets {
		amount, err := e.state.Collateral(user.Bytes(), symbol)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		value := new(big.Int).Mul(amount, factorNum)
		value.Quo(value, basisPoints)
		total.Add(total, value)
	}
	return total, nil
}

// HealthFactor reports how over-collateralised the user's liability is. A
// liability-free position returns MaxHealthFactor.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	factorNum, err := e.markingFactor()
	if err != nil {
		return nil, err
	}
	return e.healthFactorWithFactor(user, factorNum)
}

func (e *Engine) healthFactorWithFactor(user crypto.Address, factorNum *big.Int) (*big.Int, error) {
	liability, err := e.state.Liability(user.Bytes())
	if err != nil {
		return nil, err
	}
	if liability.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}
	value, err := e.collateralValueWithFactor(user, factorNum)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(value, new(big.Int).SetUint64(e.params.LiquidationThreshold))
	adjusted.Quo(adjusted, hundred)
	adjusted.Mul(adjusted, precision)
	return adjusted.Quo(adjusted, liability), nil
}

// RequireHealthy fails with a BreaksHealthFactorError when the user's health
// factor sits below the minimum.
func (e *Engine) RequireHealthy(user crypto.Address) error {
	factorNum, err := e.markingFactor()
	if err != nil {
		return err
	}
	return e.requireHealthyWithFactor(user, factorNum)
}

func (e *Engine) requireHealthyWithFactor(user crypto.Address, factorNum *big.Int) error {
	hf, err := e.healthFactorWithFactor(user, factorNum)
	if err != nil {
		return err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: hf}
	}
	return nil
}

// DepositCollateral locks amount of the recognised asset for the user. The
// collateral credit is finalised before the external pull so a reentrant call
// observes consistent state; the caller unwinds the credit when the pull
// fails.
func (e *Engine) DepositCollateral(user crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.state.IsCollateralAllowed(symbol) {
		return ErrTokenNotAllowed
	}
	current, err := e.state.Collateral(user.Bytes(), symbol)
	if err != nil {
		return err
	}
	if err := e.state.SetCollateral(user.Bytes(), symbol, new(big.Int).Add(current, amount)); err != nil {
		return err
	}
	if err := e.mover.Transfer(symbol, user, e.vault, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	var userKey [20]byte
	copy(userKey[:], user.Bytes())
	e.emitter.Emit(events.CollateralDeposited{User: userKey, Asset: symbol, Amount: amount})
	return nil
}

// RedeemCollateral releases amount of the asset back to the user. The
// resulting health factor is re-validated before the transfer runs; a broken
// factor fails the whole operation.
func (e *Engine) RedeemCollateral(user crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.state.IsCollateralAllowed(symbol) {
		return ErrTokenNotAllowed
	}
	factorNum, err := e.markingFactor()
	if err != nil {
		return err
	}
	if err := e.checkFeedDeviation(factorNum); err != nil {
		return err
	}
	current, err := e.state.Collateral(user.Bytes(), symbol)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	if err := e.state.SetCollateral(user.Bytes(), symbol, new(big.Int).Sub(current, amount)); err != nil {
		return err
	}
	if err := e.requireHealthyWithFactor(user, factorNum); err != nil {
		return err
	}
	if err := e.mover.Transfer(symbol, e.vault, user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	var userKey [20]byte
	copy(userKey[:], user.Bytes())
	e.emitter.Emit(events.CollateralRedeemed{User: userKey, Asset: symbol, Amount: amount})
	return nil
}

// Mint raises the user's liability, validates the resulting health factor and
// only then invokes the downstream mint.
func (e *Engine) Mint(user crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.mint(user, amount)
}

func (e *Engine) mint(user crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	factorNum, err := e.markingFactor()
	if err != nil {
		return err
	}
	if err := e.checkFeedDeviation(factorNum); err != nil {
		return err
	}
	liability, err := e.state.Liability(user.Bytes())
	if err != nil {
		return err
	}
	if err := e.state.SetLiability(user.Bytes(), new(big.Int).Add(liability, amount)); err != nil {
		return err
	}
	if err := e.requireHealthyWithFactor(user, factorNum); err != nil {
		return err
	}
	if err := e.mover.Mint(StableSymbol, user, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	var userKey [20]byte
	copy(userKey[:], user.Bytes())
	e.emitter.Emit(events.StableMinted{User: userKey, Amount: amount})
	return nil
}

// Burn lowers onBehalfOf's liability and destroys amount of stable tokens
// pulled from payer. A burn exceeding the outstanding liability fails before
// any mutation.
func (e *Engine) Burn(amount *big.Int, onBehalfOf, payer crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.burn(amount, onBehalfOf, payer)
}

func (e *Engine) burn(amount *big.Int, onBehalfOf, payer crypto.Address) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	liability, err := e.state.Liability(onBehalfOf.Bytes())
	if err != nil {
		return err
	}
	if liability.Cmp(amount) < 0 {
		return ErrInsufficientLiability
	}
	if err := e.state.SetLiability(onBehalfOf.Bytes(), new(big.Int).Sub(liability, amount)); err != nil {
		return err
	}
	if err := e.mover.Burn(StableSymbol, payer, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	var behalfKey, payerKey [20]byte
	copy(behalfKey[:], onBehalfOf.Bytes())
	copy(payerKey[:], payer.Bytes())
	e.emitter.Emit(events.StableBurned{OnBehalfOf: behalfKey, Payer: payerKey, Amount: amount})
	return nil
}

// DepositAndMint sequences a collateral deposit and a mint; any failing step
// fails the composite with nothing persisted.
func (e *Engine) DepositAndMint(user crypto.Address, symbol string, depositAmount, mintAmount *big.Int) error {
	if err := e.DepositCollateral(user, symbol, depositAmount); err != nil {
		return err
	}
	return e.Mint(user, mintAmount)
}

// RedeemCollateralForStable burns the user's stable tokens and then redeems
// collateral, as one composite.
func (e *Engine) RedeemCollateralForStable(user crypto.Address, symbol string, collateralAmount, burnAmount *big.Int) error {
	if err := e.Burn(burnAmount, user, user); err != nil {
		return err
	}
	return e.RedeemCollateral(user, symbol, collateralAmount)
}

// Airdrop mints stable tokens to each recipient, raising their liabilities
// without a health-factor check: airdrops are protocol-subsidised
// distribution, not user-collateralised debt, so they bypass the safety gate.
func (e *Engine) Airdrop(recipients []crypto.Address, amounts []*big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if len(recipients) != len(amounts) {
		return ErrLengthMismatch
	}
	for _, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
	}
	for i, recipient := range recipients {
		liability, err := e.state.Liability(recipient.Bytes())
		if err != nil {
			return err
		}
		if err := e.state.SetLiability(recipient.Bytes(), new(big.Int).Add(liability, amounts[i])); err != nil {
			return err
		}
	}
	for i, recipient := range recipients {
		if err := e.mover.Mint(StableSymbol, recipient, amounts[i]); err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		var key [20]byte
		copy(key[:], recipient.Bytes())
		e.emitter.Emit(events.Airdropped{Recipient: key, Amount: amounts[i]})
	}
	return nil
}

// Liquidate lets a third party repay up to debtToCover of an unhealthy user's
// liability in exchange for the equivalent collateral value plus the
// liquidation bonus. Partial liquidation is supported; the borrower's health
// factor must not end worse than it began.
func (e *Engine) Liquidate(symbol string, liquidator, user crypto.Address, debtToCover *big.Int) (*big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !e.state.IsCollateralAllowed(symbol) {
		return nil, nil, ErrTokenNotAllowed
	}

	factorNum, err := e.markingFactor()
	if err != nil {
		return nil, nil, err
	}
	if err := e.checkFeedDeviation(factorNum); err != nil {
		return nil, nil, err
	}

	hfBefore, err := e.healthFactorWithFactor(user, factorNum)
	if err != nil {
		return nil, nil, err
	}
	if hfBefore.Cmp(MinHealthFactor) >= 0 {
		return nil, nil, ErrHealthFactorOk
	}
	if factorNum.Sign() == 0 {
		return nil, nil, errValueless
	}

	liability, err := e.state.Liability(user.Bytes())
	if err != nil {
		return nil, nil, err
	}
	repay := new(big.Int).Set(debtToCover)
	if repay.Cmp(liability) > 0 {
		repay.Set(liability)
	}

	// Collateral amount carrying value equal to the repaid debt, plus the
	// liquidation bonus.
	seize := new(big.Int).Mul(repay, basisPoints)
	seize.Quo(seize, factorNum)
	bonus := new(big.Int).SetUint64(10_000 + e.params.LiquidationBonus)
	seize.Mul(seize, bonus)
	seize.Quo(seize, basisPoints)

	held, err := e.state.Collateral(user.Bytes(), symbol)
	if err != nil {
		return nil, nil, err
	}
	if seize.Cmp(held) > 0 {
		seize.Set(held)
	}
	if seize.Sign() == 0 {
		return nil, nil, ErrInsufficientCollateral
	}

	if err := e.state.SetLiability(user.Bytes(), new(big.Int).Sub(liability, repay)); err != nil {
		return nil, nil, err
	}
	if err := e.state.SetCollateral(user.Bytes(), symbol, new(big.Int).Sub(held, seize)); err != nil {
		return nil, nil, err
	}

	hfAfter, err := e.healthFactorWithFactor(user, factorNum)
	if err != nil {
		return nil, nil, err
	}
	if hfAfter.Cmp(hfBefore) < 0 {
		return nil, nil, ErrHealthFactorNotImproved
	}

	// Internal state is final; external calls run last.
	if err := e.mover.Burn(StableSymbol, liquidator, repay); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := e.mover.Transfer(symbol, e.vault, liquidator, seize); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	var liquidatorKey, userKey [20]byte
	copy(liquidatorKey[:], liquidator.Bytes())
	copy(userKey[:], user.Bytes())
	e.emitter.Emit(events.Liquidated{
		Liquidator: liquidatorKey,
		User:       userKey,
		Asset:      symbol,
		DebtCover:  repay,
		Seized:     seize,
	})
	return repay, seize, nil
}

// Position assembles the user's collateral balances, liability and health
// factor for query surfaces.
func (e *Engine) Position(user crypto.Address) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	assets, err := e.state.CollateralAssets(user.Bytes())
	if err != nil {
		return nil, err
	}
	collateral := make(map[string]*big.Int, len(assets))
	for _, symbol := range assets {
		amount, err := e.state.Collateral(user.Bytes(), symbol)
		if err != nil {
			return nil, err
		}
		collateral[symbol] = amount
	}
	liability, err := e.state.Liability(user.Bytes())
	if err != nil {
		return nil, err
	}
	hf, err := e.HealthFactor(user)
	if err != nil {
		return nil, err
	}
	return &Position{Collateral: collateral, Liability: liability, HealthFactor: hf}, nil
}
