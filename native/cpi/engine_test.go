package cpi

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"agorachain/native/market"
)

type memCPIState struct {
	buckets   map[uint64]*Bucket
	snapshots map[[2]uint64]*Snapshot
}

func newMemCPIState() *memCPIState {
	return &memCPIState{
		buckets:   make(map[uint64]*Bucket),
		snapshots: make(map[[2]uint64]*Snapshot),
	}
}

func (s *memCPIState) Bucket(start uint64) (*Bucket, error) {
	bucket, ok := s.buckets[start]
	if !ok {
		return nil, nil
	}
	clone := *bucket
	return &clone, nil
}

func (s *memCPIState) PutBucket(bucket *Bucket) error {
	clone := *bucket
	s.buckets[bucket.Start] = &clone
	return nil
}

func (s *memCPIState) IndexSnapshot(window, periodStart uint64) (*Snapshot, error) {
	snapshot, ok := s.snapshots[[2]uint64{window, periodStart}]
	if !ok {
		return nil, nil
	}
	clone := *snapshot
	return &clone, nil
}

func (s *memCPIState) PutIndexSnapshot(snapshot *Snapshot) error {
	clone := *snapshot
	s.snapshots[[2]uint64{snapshot.Window, snapshot.PeriodStart}] = &clone
	return nil
}

const monthly = uint64(30 * 24 * 60 * 60)

func newCPIEngine(state *memCPIState, now uint64) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() uint64 { return now })
	return engine
}

func TestComputeIndexZeroBase(t *testing.T) {
	formula := BaseHundredFormula{}

	_, err := formula.ComputeIndex(big.NewInt(500), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)
	_, err = formula.ComputeIndex(big.NewInt(0), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	index, err := formula.ComputeIndex(big.NewInt(300), big.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(150), index)
}

func TestInflationRateIsSigned(t *testing.T) {
	formula := BaseHundredFormula{}

	rate, err := formula.InflationRate(big.NewInt(80), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(-20), rate)

	rate, err = formula.InflationRate(big.NewInt(125), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25), rate)

	_, err = formula.InflationRate(big.NewInt(1), big.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestRecordTradeFoldsIntoSlotBucket(t *testing.T) {
	state := newMemCPIState()
	engine := newCPIEngine(state, 0)

	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(200)))
	require.NoError(t, engine.RecordTrade(market.CategoryApparel, 2000, big.NewInt(50)))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, DefaultBucketWidth+1, big.NewInt(75)))

	// Both same-day trades share the slot starting at zero.
	bucket, err := state.Bucket(0)
	require.NoError(t, err)
	require.NotNil(t, bucket)
	require.Equal(t, big.NewInt(250), bucket.Total)
	require.Equal(t, big.NewInt(200), bucket.ByCategory[market.CategoryHousing])
	require.Equal(t, big.NewInt(50), bucket.ByCategory[market.CategoryApparel])

	next, err := state.Bucket(DefaultBucketWidth)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, big.NewInt(75), next.Total)
}

func TestRecordTradeIgnoresNonPositiveValue(t *testing.T) {
	state := newMemCPIState()
	engine := newCPIEngine(state, 0)

	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, nil))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(0)))
	require.Empty(t, state.buckets)
}

func TestPeriodIndexComparesAdjacentPeriods(t *testing.T) {
	state := newMemCPIState()
	now := 2 * monthly
	engine := newCPIEngine(state, now)

	// Base period [0, monthly): 200. Current period [monthly, 2*monthly): 300.
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(200)))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, monthly+1000, big.NewInt(300)))

	index, err := engine.PeriodIndex(WindowMonthly)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(150), index)

	// The computed index was retained for later inflation queries.
	snapshot, err := state.IndexSnapshot(monthly, now-monthly)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, big.NewInt(150), snapshot.Index)
}

func TestPeriodIndexFailsWithoutBaseHistory(t *testing.T) {
	state := newMemCPIState()
	engine := newCPIEngine(state, monthly)

	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(200)))

	_, err := engine.PeriodIndex(WindowMonthly)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestInflationPrefersRetainedSnapshot(t *testing.T) {
	state := newMemCPIState()
	now := 2 * monthly
	engine := newCPIEngine(state, now)

	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(200)))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, monthly+1000, big.NewInt(300)))

	// The prior period's own index cannot be recomputed (no base before it),
	// so the rate must come from the retained snapshot.
	require.NoError(t, state.PutIndexSnapshot(&Snapshot{PeriodStart: 0, Window: monthly, Index: big.NewInt(120)}))

	rate, err := engine.PeriodInflationRate(WindowMonthly)
	require.NoError(t, err)
	// (150 - 120) * 100 / 120
	require.Equal(t, big.NewInt(25), rate)
}

func TestInflationRecomputesWhenNoSnapshot(t *testing.T) {
	state := newMemCPIState()
	now := 3 * monthly
	engine := newCPIEngine(state, now)

	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 1000, big.NewInt(200)))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, monthly+1000, big.NewInt(300)))
	require.NoError(t, engine.RecordTrade(market.CategoryHousing, 2*monthly+1000, big.NewInt(400)))

	rate, err := engine.PeriodInflationRate(WindowMonthly)
	require.NoError(t, err)
	// Current index 400*100/300 = 133; prior index 300*100/200 = 150;
	// (133-150)*100/150 truncates to -11.
	require.Equal(t, big.NewInt(-11), rate)
}

func TestSetBucketWidthMustDivideWindows(t *testing.T) {
	engine := NewEngine()

	require.NoError(t, engine.SetBucketWidth(43200))
	require.NoError(t, engine.SetBucketWidth(86400))
	require.Error(t, engine.SetBucketWidth(0))
	require.Error(t, engine.SetBucketWidth(100000))
}

func TestSetFormulaRejectsNil(t *testing.T) {
	engine := NewEngine()
	require.Error(t, engine.SetFormula(nil))
	require.NoError(t, engine.SetFormula(BaseHundredFormula{}))
}
