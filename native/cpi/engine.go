package cpi

import (
	"errors"
	"math/big"
	"time"

	"agorachain/native/market"
)

var (
	errNilState   = errors.New("cpi engine: state not configured")
	errNilFormula = errors.New("cpi engine: formula not configured")
	errBadWindow  = errors.New("cpi engine: unsupported window")
	errBadWidth   = errors.New("cpi engine: bucket width must divide the window")
)

// DefaultBucketWidth is one day; both supported windows divide evenly.
const DefaultBucketWidth = secondsPerDay

type engineState interface {
	Bucket(start uint64) (*Bucket, error)
	PutBucket(bucket *Bucket) error
	IndexSnapshot(window, periodStart uint64) (*Snapshot, error)
	PutIndexSnapshot(snapshot *Snapshot) error
}

// Engine derives the consumer-price-style index and inflation rate from the
// bucketed trade-value history. Collateral is ultimately marked against this
// index, and the index is computed from the same marketplace whose volume the
// protocol's own participants generate; wash trading can therefore steer the
// valuation. Deployments mitigate this by cross-checking against an
// independent price feed (see the stable engine's deviation gate).
type Engine struct {
	state       engineState
	formula     Formula
	bucketWidth uint64
	nowFn       func() uint64
}

// NewEngine constructs the index engine with the default formula and bucket
// width.
func NewEngine() *Engine {
	return &Engine{
		formula:     BaseHundredFormula{},
		bucketWidth: DefaultBucketWidth,
		nowFn:       func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the ledger state.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFormula installs the active index formula. Only the administrative role
// may reach this through the node surface.
func (e *Engine) SetFormula(formula Formula) error {
	if e == nil {
		return errNilState
	}
	if formula == nil {
		return errNilFormula
	}
	e.formula = formula
	return nil
}

// SetBucketWidth overrides the bucket width. The width must divide both
// supported windows.
func (e *Engine) SetBucketWidth(width uint64) error {
	if e == nil {
		return errNilState
	}
	if width == 0 || monthlySeconds%width != 0 || yearlySeconds%width != 0 {
		return errBadWidth
	}
	e.bucketWidth = width
	return nil
}

// SetNowFunc overrides the clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) alignDown(ts uint64) uint64 {
	return ts - ts%e.bucketWidth
}

// RecordTrade folds an executed trade's value into the bucket covering its
// execution time. It implements market.TradeRecorder.
func (e *Engine) RecordTrade(category market.Category, executedAt uint64, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if value == nil || value.Sign() <= 0 {
		return nil
	}
	start := e.alignDown(executedAt)
	bucket, err := e.state.Bucket(start)
	if err != nil {
		return err
	}
	if bucket == nil {
		bucket = NewBucket(start)
	}
	bucket.Add(category, value)
	return e.state.PutBucket(bucket)
}

// rangeTotal sums bucket totals whose slot start falls in [from, to).
func (e *Engine) rangeTotal(from, to uint64) (*big.Int, error) {
	total := big.NewInt(0)
	for start := e.alignDown(from); start < to; start += e.bucketWidth {
		if start < from {
			continue
		}
		bucket, err := e.state.Bucket(start)
		if err != nil {
			return nil, err
		}
		if bucket == nil || bucket.Total == nil {
			continue
		}
		total.Add(total, bucket.Total)
	}
	return total, nil
}

// periodIndexAt computes the index for the period ending at end: the bucket
// sum over [end-window, end) against the sum over [end-2*window, end-window).
func (e *Engine) periodIndexAt(end, window uint64) (*big.Int, error) {
	current, err := e.rangeTotal(end-window, end)
	if err != nil {
		return nil, err
	}
	var base *big.Int
	if end >= 2*window {
		base, err = e.rangeTotal(end-2*window, end-window)
		if err != nil {
			return nil, err
		}
	} else {
		base = big.NewInt(0)
	}
	return e.formula.ComputeIndex(current, base)
}

// PeriodIndex computes the index for the current period and retains it as the
// period's snapshot for later inflation queries.
func (e *Engine) PeriodIndex(window Window) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !window.Valid() {
		return nil, errBadWindow
	}
	seconds := window.Seconds()
	end := e.alignDown(e.nowFn())
	index, err := e.periodIndexAt(end, seconds)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{PeriodStart: end - seconds, Window: seconds, Index: new(big.Int).Set(index)}
	if err := e.state.PutIndexSnapshot(snapshot); err != nil {
		return nil, err
	}
	return index, nil
}

// priorPeriodIndex resolves the index of the period immediately before the
// one ending at end, preferring the retained snapshot and recomputing from
// the bucket history when no snapshot was stored.
func (e *Engine) priorPeriodIndex(end, window uint64) (*big.Int, error) {
	priorStart := end - 2*window
	snapshot, err := e.state.IndexSnapshot(window, priorStart)
	if err != nil {
		return nil, err
	}
	if snapshot != nil && snapshot.Index != nil {
		return new(big.Int).Set(snapshot.Index), nil
	}
	return e.periodIndexAt(end-window, window)
}

// PeriodInflationRate diffs the current period's index against the genuinely
// prior period's index. The result is signed; deflation is negative.
func (e *Engine) PeriodInflationRate(window Window) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !window.Valid() {
		return nil, errBadWindow
	}
	seconds := window.Seconds()
	end := e.alignDown(e.nowFn())
	current, err := e.periodIndexAt(end, seconds)
	if err != nil {
		return nil, err
	}
	prior, err := e.priorPeriodIndex(end, seconds)
	if err != nil {
		return nil, err
	}
	return e.formula.InflationRate(current, prior)
}
