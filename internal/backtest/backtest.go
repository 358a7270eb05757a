// Package backtest simulates daily strategy returns from a weight panel with
// linear transaction costs.
package backtest

import (
	"math"

	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

// Simulator replays a weight panel against realised asset returns.
type Simulator struct {
	bpsPerTrade float64
}

// NewSimulator creates a Simulator charging bpsPerTrade basis points per unit
// of turnover.
func NewSimulator(bpsPerTrade float64) *Simulator {
	return &Simulator{bpsPerTrade: bpsPerTrade}
}

// Run returns one row per weight date. Missing weights are treated as 0 and
// the weight before the first date is 0, so the first row's turnover is the
// initial gross exposure.
//
//	gross(t)    = sum_a w(t-1, a) * r(t, a)
//	turnover(t) = sum_a |w(t, a) - w(t-1, a)|
//	cost(t)     = turnover(t) * bps / 10000
//	net(t)      = gross(t) - cost(t)
//
// Returns missing for a (date, asset) contribute 0.
func (s *Simulator) Run(weights, returns *panel.Matrix) []domain.BacktestRow {
	w := weights.FillMissing(0)
	dates := w.Dates()
	rows := make([]domain.BacktestRow, len(dates))

	cols := make([]int, w.Cols())
	for j, a := range w.Assets() {
		cols[j] = returns.AssetIndex(a)
	}
	prev := make([]float64, w.Cols())
	for i, d := range dates {
		retRow := returns.DateIndex(d)
		gross, turnover := 0.0, 0.0
		for j := range prev {
			cur := w.Value(i, j)
			turnover += math.Abs(cur - prev[j])
			if retRow >= 0 && cols[j] >= 0 {
				if r, ok := returns.At(retRow, cols[j]); ok {
					gross += prev[j] * r
				}
			}
			prev[j] = cur
		}
		cost := turnover * s.bpsPerTrade / 1e4
		rows[i] = domain.BacktestRow{
			Date:        d,
			StrategyRet: gross - cost,
			Turnover:    turnover,
			TradingCost: cost,
		}
	}
	return rows
}

// Returns extracts the net strategy return series.
func Returns(rows []domain.BacktestRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.StrategyRet
	}
	return out
}

// Summary aggregates a simulated run.
type Summary struct {
	Days        int
	TotalReturn float64
	TotalCost   float64
	AvgTurnover float64
	ActiveDays  int
}

// Summarize compounds the net returns and totals costs and turnover. A day is
// active when it has non-zero turnover.
func Summarize(rows []domain.BacktestRow) Summary {
	s := Summary{Days: len(rows)}
	growth := 1.0
	for _, r := range rows {
		growth *= 1 + r.StrategyRet
		s.TotalCost += r.TradingCost
		s.AvgTurnover += r.Turnover
		if r.Turnover != 0 {
			s.ActiveDays++
		}
	}
	s.TotalReturn = growth - 1
	if s.Days > 0 {
		s.AvgTurnover /= float64(s.Days)
	}
	return s
}
