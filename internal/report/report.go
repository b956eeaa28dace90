// Package report accumulates closed signals into per-strategy statistics.
// The walker reads single metrics from it; the demo binaries render the
// markdown table.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/schema"
)

const msPerYear = 365.25 * 24 * 3600 * 1000

// Stats is the aggregated view over one strategy's closed signals.
type Stats struct {
	Strategy              string
	Trades                int
	Wins                  int
	Losses                int
	WinRate               float64 // percent
	TotalPnl              float64 // percent, summed
	AvgPnl                float64 // percent
	ProfitFactor          float64
	MaxDrawdown           float64 // percent, positive magnitude
	SharpeRatio           float64
	CertaintyRatio        float64
	AnnualizedSharpeRatio float64
	ExpectedYearlyReturns float64 // percent
}

type series struct {
	pnls      []float64
	firstOpen int64
	lastClose int64
}

// Accumulator collects closed signals, keyed by strategy name.
type Accumulator struct {
	mu sync.Mutex
	ss map[string]*series
}

func New() *Accumulator {
	return &Accumulator{ss: make(map[string]*series)}
}

// Subscribe feeds the accumulator from closed-signal events. The returned
// function unsubscribes.
func (a *Accumulator) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(events.TopicSignal, func(ev events.Event) {
		se, ok := ev.Data.(events.SignalEvent)
		if !ok || se.Action != model.TickClosed || se.PnL == nil {
			return
		}
		a.Add(se.StrategyName, se.Signal, se.PnL)
	})
}

// Add records one closed signal.
func (a *Accumulator) Add(strategyName string, row *model.SignalRow, p *model.PnL) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.ss[strategyName]
	if !ok {
		s = &series{}
		a.ss[strategyName] = s
	}
	s.pnls = append(s.pnls, p.PnlPercentage)
	if s.firstOpen == 0 || row.PendingAt < s.firstOpen {
		s.firstOpen = row.PendingAt
	}
	if row.CloseTimestamp > s.lastClose {
		s.lastClose = row.CloseTimestamp
	}
}

// Clear drops the series for one strategy.
func (a *Accumulator) Clear(strategyName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ss, strategyName)
}

// ClearAll drops every series.
func (a *Accumulator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ss = make(map[string]*series)
}

// Stats computes the aggregate for one strategy. A strategy with no closed
// signals yields a zero-trade Stats with NaN ratios.
func (a *Accumulator) Stats(strategyName string) Stats {
	a.mu.Lock()
	s, ok := a.ss[strategyName]
	var pnls []float64
	var firstOpen, lastClose int64
	if ok {
		pnls = append(pnls, s.pnls...)
		firstOpen, lastClose = s.firstOpen, s.lastClose
	}
	a.mu.Unlock()

	st := Stats{Strategy: strategyName, Trades: len(pnls)}
	if len(pnls) == 0 {
		st.SharpeRatio = math.NaN()
		st.CertaintyRatio = math.NaN()
		st.AnnualizedSharpeRatio = math.NaN()
		st.ExpectedYearlyReturns = math.NaN()
		st.ProfitFactor = math.NaN()
		return st
	}

	var grossProfit, grossLoss float64
	for _, p := range pnls {
		st.TotalPnl += p
		if p > 0 {
			st.Wins++
			grossProfit += p
		} else {
			st.Losses++
			grossLoss += -p
		}
	}
	st.WinRate = float64(st.Wins) / float64(st.Trades) * 100
	st.AvgPnl = st.TotalPnl / float64(st.Trades)

	if grossLoss == 0 {
		if grossProfit > 0 {
			st.ProfitFactor = math.Inf(1)
		}
	} else {
		st.ProfitFactor = grossProfit / grossLoss
	}

	st.MaxDrawdown = maxDrawdown(pnls)
	st.SharpeRatio = sharpe(pnls, st.AvgPnl)

	if st.MaxDrawdown == 0 {
		if st.TotalPnl > 0 {
			st.CertaintyRatio = math.Inf(1)
		}
	} else {
		st.CertaintyRatio = st.TotalPnl / st.MaxDrawdown
	}

	span := float64(lastClose - firstOpen)
	if span > 0 {
		tradesPerYear := float64(st.Trades) / (span / msPerYear)
		st.AnnualizedSharpeRatio = st.SharpeRatio * math.Sqrt(tradesPerYear)
		st.ExpectedYearlyReturns = st.AvgPnl * tradesPerYear
	} else {
		st.AnnualizedSharpeRatio = math.NaN()
		st.ExpectedYearlyReturns = math.NaN()
	}
	return st
}

// Metric returns one named metric from the strategy's stats. Unknown metric
// names and empty series yield NaN.
func (a *Accumulator) Metric(strategyName, metric string) float64 {
	st := a.Stats(strategyName)
	if st.Trades == 0 {
		return math.NaN()
	}
	switch metric {
	case schema.MetricSharpeRatio:
		return st.SharpeRatio
	case schema.MetricWinRate:
		return st.WinRate
	case schema.MetricTotalPnl:
		return st.TotalPnl
	case schema.MetricAvgPnl:
		return st.AvgPnl
	case schema.MetricMaxDrawdown:
		return st.MaxDrawdown
	case schema.MetricCertaintyRatio:
		return st.CertaintyRatio
	case schema.MetricAnnualizedSharpeRatio:
		return st.AnnualizedSharpeRatio
	case schema.MetricExpectedYearlyReturns:
		return st.ExpectedYearlyReturns
	}
	return math.NaN()
}

// Strategies lists the strategy names with recorded signals, sorted.
func (a *Accumulator) Strategies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.ss))
	for name := range a.ss {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Markdown renders the per-strategy table.
func (a *Accumulator) Markdown() string {
	var b strings.Builder
	b.WriteString("| Strategy | Trades | Win rate | Total PnL | Avg PnL | Profit factor | Max DD | Sharpe |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, name := range a.Strategies() {
		st := a.Stats(name)
		fmt.Fprintf(&b, "| %s | %d | %.1f%% | %.2f%% | %.2f%% | %.2f | %.2f%% | %.2f |\n",
			st.Strategy, st.Trades, st.WinRate, st.TotalPnl, st.AvgPnl,
			st.ProfitFactor, st.MaxDrawdown, st.SharpeRatio)
	}
	return b.String()
}

// maxDrawdown is the largest peak-to-trough drop of the cumulative PnL
// curve, as a positive percent.
func maxDrawdown(pnls []float64) float64 {
	var equity, peak, dd float64
	for _, p := range pnls {
		equity += p
		if equity > peak {
			peak = equity
		}
		if d := peak - equity; d > dd {
			dd = d
		}
	}
	return dd
}

// sharpe is mean over population standard deviation of per-trade PnL.
func sharpe(pnls []float64, mean float64) float64 {
	if len(pnls) < 2 {
		return math.NaN()
	}
	var variance float64
	for _, p := range pnls {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pnls))
	if variance == 0 {
		return math.NaN()
	}
	return mean / math.Sqrt(variance)
}
