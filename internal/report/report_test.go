package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/model"
	"signal-engine/internal/schema"
)

func addTrade(a *Accumulator, strategy string, pnlPct float64, openTs, closeTs int64) {
	a.Add(strategy, &model.SignalRow{
		StrategyName:   strategy,
		PendingAt:      openTs,
		CloseTimestamp: closeTs,
	}, &model.PnL{PnlPercentage: pnlPct})
}

func TestStatsBasics(t *testing.T) {
	a := New()
	day := int64(24 * 3600 * 1000)
	addTrade(a, "s", 2, 0, day)
	addTrade(a, "s", -1, day, 2*day)
	addTrade(a, "s", 3, 2*day, 3*day)

	st := a.Stats("s")
	assert.Equal(t, 3, st.Trades)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 200.0/3, st.WinRate, 1e-9)
	assert.InDelta(t, 4, st.TotalPnl, 1e-9)
	assert.InDelta(t, 4.0/3, st.AvgPnl, 1e-9)
	assert.InDelta(t, 5, st.ProfitFactor, 1e-9)
	assert.InDelta(t, 1, st.MaxDrawdown, 1e-9)
	assert.False(t, math.IsNaN(st.SharpeRatio))
}

func TestMaxDrawdownPeakToTrough(t *testing.T) {
	a := New()
	for i, p := range []float64{5, -2, -3, 4} {
		addTrade(a, "s", p, int64(i)*1000, int64(i+1)*1000)
	}
	// Equity: 5, 3, 0, 4. Peak 5, trough 0.
	assert.InDelta(t, 5, a.Stats("s").MaxDrawdown, 1e-9)
}

func TestEmptySeriesIsNaN(t *testing.T) {
	a := New()
	st := a.Stats("ghost")
	assert.Equal(t, 0, st.Trades)
	assert.True(t, math.IsNaN(st.SharpeRatio))
	assert.True(t, math.IsNaN(a.Metric("ghost", schema.MetricTotalPnl)))
}

func TestMetricSelection(t *testing.T) {
	a := New()
	day := int64(24 * 3600 * 1000)
	addTrade(a, "s", 2, 0, day)
	addTrade(a, "s", -1, day, 2*day)

	assert.InDelta(t, 1, a.Metric("s", schema.MetricTotalPnl), 1e-9)
	assert.InDelta(t, 50, a.Metric("s", schema.MetricWinRate), 1e-9)
	assert.InDelta(t, 0.5, a.Metric("s", schema.MetricAvgPnl), 1e-9)
	assert.InDelta(t, 1, a.Metric("s", schema.MetricMaxDrawdown), 1e-9)
	assert.True(t, math.IsNaN(a.Metric("s", "unknown")))
}

func TestClearAndClearAll(t *testing.T) {
	a := New()
	addTrade(a, "a", 1, 0, 1000)
	addTrade(a, "b", 1, 0, 1000)

	a.Clear("a")
	assert.Equal(t, 0, a.Stats("a").Trades)
	assert.Equal(t, 1, a.Stats("b").Trades)

	a.ClearAll()
	assert.Empty(t, a.Strategies())
}

func TestMarkdownTable(t *testing.T) {
	a := New()
	addTrade(a, "s", 2, 0, 1000)
	md := a.Markdown()
	require.Contains(t, md, "| Strategy |")
	assert.Contains(t, md, "| s | 1 |")
}
