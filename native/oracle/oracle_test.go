package oracle

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualOracleRoundTrip(t *testing.T) {
	manual := NewManualOracle()
	ts := time.Now()
	manual.Set("acpi", "usd", big.NewRat(105, 100), ts)

	quote, err := manual.GetRate("ACPI", "USD")
	require.NoError(t, err)
	require.Equal(t, "manual", quote.Source)
	require.Zero(t, quote.Rate.Cmp(big.NewRat(105, 100)))

	// The returned quote is a copy.
	quote.Rate.SetInt64(9)
	again, err := manual.GetRate("ACPI", "USD")
	require.NoError(t, err)
	require.Zero(t, again.Rate.Cmp(big.NewRat(105, 100)))

	_, err = manual.GetRate("ACPI", "EUR")
	require.Error(t, err)
}

func TestManualOracleSetDecimal(t *testing.T) {
	manual := NewManualOracle()
	require.NoError(t, manual.SetDecimal("ACPI", "USD", "1.05", time.Now()))
	require.Error(t, manual.SetDecimal("ACPI", "USD", "", time.Now()))
	require.Error(t, manual.SetDecimal("ACPI", "USD", "not-a-number", time.Now()))
	require.Error(t, manual.SetDecimal("ACPI", "USD", "-2", time.Now()))

	quote, err := manual.GetRate("ACPI", "USD")
	require.NoError(t, err)
	require.Zero(t, quote.Rate.Cmp(big.NewRat(21, 20)))
}

func TestAggregatorRespectsPriority(t *testing.T) {
	agg := NewAggregator([]string{"primary", "secondary"}, time.Hour)

	primary := NewManualOracle()
	primary.Set("ACPI", "USD", big.NewRat(1, 1), time.Now())
	secondary := NewManualOracle()
	secondary.Set("ACPI", "USD", big.NewRat(2, 1), time.Now())

	agg.Register("primary", primary)
	agg.Register("secondary", secondary)

	quote, err := agg.GetRate("ACPI", "USD")
	require.NoError(t, err)
	require.Equal(t, "manual", quote.Source)
	require.Zero(t, quote.Rate.Cmp(big.NewRat(1, 1)))
}

func TestAggregatorSkipsStaleAndInvalidFeeds(t *testing.T) {
	agg := NewAggregator([]string{"stale", "broken", "good"}, time.Hour)

	stale := NewManualOracle()
	stale.Set("ACPI", "USD", big.NewRat(1, 1), time.Now().Add(-2*time.Hour))
	broken := NewManualOracle() // no quote registered at all
	good := NewManualOracle()
	good.Set("ACPI", "USD", big.NewRat(3, 2), time.Now())

	agg.Register("stale", stale)
	agg.Register("broken", broken)
	agg.Register("good", good)

	quote, err := agg.GetRate("ACPI", "USD")
	require.NoError(t, err)
	require.Zero(t, quote.Rate.Cmp(big.NewRat(3, 2)))
}

func TestAggregatorFailsClosedWhenEverythingIsStale(t *testing.T) {
	agg := NewAggregator([]string{"only"}, time.Hour)
	only := NewManualOracle()
	only.Set("ACPI", "USD", big.NewRat(1, 1), time.Now().Add(-2*time.Hour))
	agg.Register("only", only)

	_, err := agg.GetRate("ACPI", "USD")
	require.ErrorIs(t, err, ErrNoFreshQuote)
}

func TestAggregatorWithNoFeeds(t *testing.T) {
	agg := NewAggregator(nil, time.Minute)
	_, err := agg.GetRate("ACPI", "USD")
	require.ErrorIs(t, err, ErrNoFreshQuote)

	_, err = agg.GetRate("", "USD")
	require.Error(t, err)
}

type stubDoer struct {
	status  int
	body    string
	err     error
	lastURL string
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.lastURL = req.URL.String()
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func TestHTTPOracleParsesQuote(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"rate":"1.25","timestamp":1700000000}`}
	feed := NewHTTPOracle(doer, "https://feeds.example/quote", "Example")

	quote, err := feed.GetRate("acpi", "usd")
	require.NoError(t, err)
	require.Equal(t, "example", quote.Source)
	require.Zero(t, quote.Rate.Cmp(big.NewRat(5, 4)))
	require.Equal(t, time.Unix(1700000000, 0), quote.Timestamp)
	require.Contains(t, doer.lastURL, "from=ACPI")
	require.Contains(t, doer.lastURL, "to=USD")
}

func TestHTTPOracleRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		err    error
	}{
		{name: "transport error", err: fmt.Errorf("connection refused")},
		{name: "server error", status: http.StatusBadGateway, body: "upstream down"},
		{name: "malformed json", status: http.StatusOK, body: "{"},
		{name: "empty rate", status: http.StatusOK, body: `{"rate":"","timestamp":1}`},
		{name: "negative rate", status: http.StatusOK, body: `{"rate":"-1","timestamp":1}`},
		{name: "garbage rate", status: http.StatusOK, body: `{"rate":"abc","timestamp":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			feed := NewHTTPOracle(&stubDoer{status: tc.status, body: tc.body, err: tc.err}, "https://feeds.example/quote", "stub")
			_, err := feed.GetRate("ACPI", "USD")
			require.Error(t, err)
		})
	}
}

func TestHTTPOracleRequiresEndpoint(t *testing.T) {
	feed := NewHTTPOracle(nil, "   ", "stub")
	_, err := feed.GetRate("ACPI", "USD")
	require.Error(t, err)
}
