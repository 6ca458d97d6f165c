package coord

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	coreerrors "github.com/adalundhe/coornet/core/errors"
	"github.com/adalundhe/coornet/core/shares"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type row struct {
	url     string
	account string
	offset  int
}

func buildTable(rows ...row) shares.Table {
	table := make(shares.Table, len(rows))
	for i, r := range rows {
		table[i] = shares.Share{
			ID:          string(rune('A'+i/26)) + string(rune('a'+i%26)),
			ExpandedURL: r.url,
			AccountID:   r.account,
			Date:        t0.Add(time.Duration(r.offset) * time.Second),
		}
	}
	return table
}

func estimatorTable() shares.Table {
	return buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 10}, row{"u1", "c", 20}, row{"u1", "d", 30},
		row{"u2", "a", 0}, row{"u2", "b", 100}, row{"u2", "c", 200},
		row{"u3", "a", 0}, row{"u3", "b", 5},
		row{"u4", "a", 0}, row{"u4", "b", 1000},
		row{"u5", "z", 7},
	)
}

// =============================================================================
// Quantiles
// =============================================================================

func TestQuantile(t *testing.T) {
	values := []float64{1000, 5, 100, 10}
	assert.InDelta(t, 55.0, Quantile(values, 0.5), 1e-9)
	assert.InDelta(t, 6.5, Quantile(values, 0.1), 1e-9)
	assert.Equal(t, 5.0, Quantile(values, 0))
	assert.Equal(t, 1000.0, Quantile(values, 1))
	assert.Equal(t, 3.0, Quantile([]float64{3}, 0.9))
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
	assert.Equal(t, []float64{1000, 5, 100, 10}, values, "input must not be reordered")
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{5, 20})
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 12.5, s.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(112.5), s.StdDev, 1e-9)
	assert.Equal(t, 5.0, s.Min)
	assert.Equal(t, 20.0, s.Max)
	assert.InDelta(t, 12.5, s.Median, 1e-9)

	single := Describe([]float64{4})
	assert.True(t, math.IsNaN(single.StdDev))
}

// =============================================================================
// Interval estimation
// =============================================================================

func TestEstimateInterval(t *testing.T) {
	opts := EstimateOptions{Q: 0.5, P: 0.5, Logger: quietLogger()}
	summary, interval, err := EstimateInterval(estimatorTable(), opts)
	require.NoError(t, err)

	// Second shares: u1=10 u2=100 u3=5 u4=1000; the 0.5-quantile is 55, so
	// u1 and u3 remain. They pass half their shares at 20s and 5s.
	assert.InDelta(t, 12.5, interval, 1e-9)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 5.0, summary.Min)
	assert.Equal(t, 20.0, summary.Max)
}

func TestEstimateIntervalDefaults(t *testing.T) {
	opts := DefaultEstimateOptions()
	opts.Logger = quietLogger()
	summary, interval, err := EstimateInterval(estimatorTable(), opts)
	require.NoError(t, err)
	assert.Equal(t, 5.0, interval)
	assert.Equal(t, 1, summary.Count)
}

func TestEstimateIntervalZeroBecomesOne(t *testing.T) {
	table := buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 0},
		row{"u2", "a", 3}, row{"u2", "b", 3},
	)
	_, interval, err := EstimateInterval(table, EstimateOptions{Q: 0.5, P: 0.5, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 1.0, interval)
}

func TestEstimateIntervalAtLeastOneSecond(t *testing.T) {
	table := estimatorTable()
	for _, q := range []float64{0.05, 0.3, 0.6, 0.95} {
		for _, p := range []float64{0.05, 0.5, 0.99} {
			_, interval, err := EstimateInterval(table, EstimateOptions{Q: q, P: p, Logger: quietLogger()})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, interval, 1.0, "q=%v p=%v", q, p)
		}
	}
}

func TestEstimateIntervalInvalidParameters(t *testing.T) {
	tests := []struct {
		name  string
		q, p  float64
		field string
	}{
		{"p zero", 0.1, 0, "p"},
		{"p one", 0.1, 1, "p"},
		{"q above one", 1.5, 0.5, "q"},
		{"q negative", -0.1, 0.5, "q"},
		{"p nan", 0.1, math.NaN(), "p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := EstimateInterval(estimatorTable(), EstimateOptions{Q: tt.q, P: tt.p, Logger: quietLogger()})
			require.Error(t, err)
			assert.True(t, coreerrors.IsInvalidParameter(err))

			var e *coreerrors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestEstimateIntervalInsufficientData(t *testing.T) {
	t.Run("no co-shared urls", func(t *testing.T) {
		table := buildTable(row{"u1", "a", 0}, row{"u2", "b", 1})
		_, _, err := EstimateInterval(table, EstimateOptions{Q: 0.1, P: 0.5, Logger: quietLogger()})
		assert.True(t, coreerrors.IsInsufficientData(err))
	})

	t.Run("keep original only", func(t *testing.T) {
		table := estimatorTable()
		table[0].IsOrig = true
		_, _, err := EstimateInterval(table, EstimateOptions{Q: 0.1, P: 0.5, KeepOriginalOnly: true, Logger: quietLogger()})
		assert.True(t, coreerrors.IsInsufficientData(err))
	})
}

func TestEstimateIntervalSchemaError(t *testing.T) {
	table := estimatorTable()
	table[2].AccountID = ""
	_, _, err := EstimateInterval(table, EstimateOptions{Q: 0.1, P: 0.5, Logger: quietLogger()})
	assert.True(t, coreerrors.IsSchema(err))
}

// =============================================================================
// Fixed-bin clustering
// =============================================================================

func TestBinCountAndIndex(t *testing.T) {
	n := binCount(100, 5)
	assert.Equal(t, 21, n)
	assert.Equal(t, 0, binIndex(0, 100, n))
	assert.Equal(t, 0, binIndex(2, 100, n))
	assert.Equal(t, 20, binIndex(100, 100, n))
	assert.Equal(t, 1, binCount(0, 5))
	assert.Equal(t, 1, binCount(2, 10))
	assert.Equal(t, 3, binCount(11, 5))
	assert.Equal(t, 0, binIndex(0, 0, 1))
}

func TestClusterFixedBins(t *testing.T) {
	table := buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 1}, row{"u1", "c", 2}, row{"u1", "a", 100},
	)
	events, err := Cluster(table, 5, ClusterOptions{Strategy: FixedBin, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "u1", e.URL)
	assert.Equal(t, 3, e.Count)
	assert.Equal(t, []string{"a", "b", "c"}, e.Accounts)
	assert.Equal(t, binKey(t0), e.Key)
	require.Len(t, e.Timestamps, 3)
	assert.Equal(t, t0.Add(2*time.Second), e.Timestamps[2])
}

func TestClusterFixedBinsSkipsSingleAccountUrls(t *testing.T) {
	table := buildTable(row{"u1", "a", 0}, row{"u1", "a", 1}, row{"u2", "b", 0})
	events, err := Cluster(table, 10, ClusterOptions{Strategy: FixedBin, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClusterFixedBinsSimultaneousShares(t *testing.T) {
	table := buildTable(row{"u1", "a", 0}, row{"u1", "b", 0})
	events, err := Cluster(table, 1, ClusterOptions{Strategy: FixedBin, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Count)
}

// =============================================================================
// Gap-chain clustering
// =============================================================================

func TestChainFlags(t *testing.T) {
	validDelta, validBefore := chainFlags([]int64{0, 2, 4, 54}, 5)
	assert.Equal(t, []bool{false, true, true, false}, validDelta)
	assert.Equal(t, []bool{true, true, false, false}, validBefore)
}

func TestClusterByGap(t *testing.T) {
	table := buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 2}, row{"u1", "c", 4}, row{"u1", "d", 54},
	)
	events, err := Cluster(table, 5, ClusterOptions{Strategy: GapChain, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Count)
	assert.Equal(t, []string{"a", "b", "c"}, events[0].Accounts)
	assert.Equal(t, chainKey, events[0].Key)
}

func TestClusterByGapDropsLoneLeadingShare(t *testing.T) {
	table := buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 60}, row{"u1", "c", 62}, row{"u1", "d", 200}, row{"u1", "e", 203},
	)
	events, err := Cluster(table, 5, ClusterOptions{Strategy: GapChain, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"b", "c", "d", "e"}, events[0].Accounts, "two bursts merge into one event per url")
}

func TestClusterByGapCapturesLongBurst(t *testing.T) {
	// Gaps of 4s over 16s: a fixed 5s grid splits the burst, chaining does not.
	table := buildTable(
		row{"u1", "a", 0}, row{"u1", "b", 4}, row{"u1", "c", 8}, row{"u1", "d", 12}, row{"u1", "e", 16},
	)
	events, err := Cluster(table, 5, ClusterOptions{Strategy: GapChain, Logger: quietLogger()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Count)
}

// =============================================================================
// Cluster driver
// =============================================================================

func TestClusterInvalidInterval(t *testing.T) {
	table := estimatorTable()
	for _, interval := range []float64{0, -3, math.NaN(), math.Inf(1)} {
		_, err := Cluster(table, interval, ClusterOptions{Logger: quietLogger()})
		assert.True(t, coreerrors.IsInvalidParameter(err), "interval %v", interval)
	}
}

func TestClusterUnknownStrategy(t *testing.T) {
	_, err := Cluster(estimatorTable(), 5, ClusterOptions{Strategy: Strategy(9), Logger: quietLogger()})
	assert.True(t, coreerrors.IsInvalidParameter(err))
}

func TestClusterWorkersDoNotChangeOutput(t *testing.T) {
	table := estimatorTable()
	for _, s := range []Strategy{FixedBin, GapChain} {
		seq, err := Cluster(table, 30, ClusterOptions{Strategy: s, Workers: 1, Logger: quietLogger()})
		require.NoError(t, err)
		par, err := Cluster(table, 30, ClusterOptions{Strategy: s, Workers: 4, Logger: quietLogger()})
		require.NoError(t, err)
		assert.Equal(t, seq, par, s.String())
	}
}

func TestParseStrategyAndMarkMode(t *testing.T) {
	s, err := ParseStrategy("gap_chain")
	require.NoError(t, err)
	assert.Equal(t, GapChain, s)
	_, err = ParseStrategy("bins")
	assert.True(t, coreerrors.IsInvalidParameter(err))

	m, err := ParseMarkMode("TUPLE")
	require.NoError(t, err)
	assert.Equal(t, MarkTuple, m)
	_, err = ParseMarkMode("exact")
	assert.Error(t, err)
}

// =============================================================================
// Marking
// =============================================================================

func TestMarkModes(t *testing.T) {
	table := buildTable(
		row{"u1", "a", 0},
		row{"u1", "b", 1},
		row{"u1", "a", 1}, // every field appears in the event, the triple does not
		row{"u2", "b", 1},
	)
	events := []Event{{
		URL:        "u1",
		Count:      2,
		Accounts:   []string{"a", "b"},
		Timestamps: []time.Time{t0, t0.Add(time.Second)},
	}}

	valueSet := Mark(table, events, MarkValueSet)
	assert.Equal(t, []bool{true, true, true, false}, coordinatedFlags(valueSet))

	tuple := Mark(table, events, MarkTuple)
	assert.Equal(t, []bool{true, true, false, false}, coordinatedFlags(tuple))

	for _, s := range table {
		assert.False(t, s.IsCoordinated, "input table must not be mutated")
	}
}

func TestMarkWithoutEvents(t *testing.T) {
	table := estimatorTable()
	table[0].IsCoordinated = true
	out := Mark(table, nil, MarkValueSet)
	assert.False(t, out[0].IsCoordinated)
	assert.True(t, table[0].IsCoordinated)
}

func coordinatedFlags(table shares.Table) []bool {
	flags := make([]bool, len(table))
	for i, s := range table {
		flags[i] = s.IsCoordinated
	}
	return flags
}

func TestHasCoShares(t *testing.T) {
	assert.True(t, HasCoShares(estimatorTable()))
	assert.False(t, HasCoShares(buildTable(row{"u1", "a", 0}, row{"u2", "a", 0})))
}
