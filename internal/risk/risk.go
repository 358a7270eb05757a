// Package risk applies the portfolio-level overlays that run after weight
// construction: volatility targeting and a drawdown circuit-breaker.
package risk

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/panel"
)

const (
	// TradingDays annualises daily statistics.
	TradingDays = 252
	// MaxVolScale bounds the volatility-target multiplier.
	MaxVolScale = 5.0
)

// RiskManager runs the configured overlays in order: volatility target,
// then drawdown limit.
type RiskManager struct {
	cfg config.RiskConfig
	log *slog.Logger
}

// NewRiskManager creates a RiskManager for the given thresholds.
//
//   - VolEstWindowDays: trailing window for realised volatility.
//   - TargetVolAnnual: annualised volatility target (e.g. 0.15).
//   - MaxDrawdown: drawdown fraction beyond which positions are flattened.
func NewRiskManager(cfg config.RiskConfig, log *slog.Logger) *RiskManager {
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{cfg: cfg, log: log.With("component", "risk")}
}

// Apply returns the weights after every enabled overlay. Neither input is
// modified.
func (rm *RiskManager) Apply(weights, returns *panel.Matrix) *panel.Matrix {
	out := weights
	if rm.cfg.EnableVolTarget {
		out = TargetVolatility(out, returns, rm.cfg.VolEstWindowDays, rm.cfg.TargetVolAnnual)
	}
	if rm.cfg.EnableDrawdownLimit {
		var flat int
		out, flat = LimitDrawdown(out, returns, rm.cfg.MaxDrawdown)
		if flat > 0 {
			rm.log.Info("drawdown limit flattened positions", "dates", flat, "max_drawdown", rm.cfg.MaxDrawdown)
		}
	}
	return out
}

// DailyFromAnnual converts an annualised volatility to a daily one.
func DailyFromAnnual(annual float64) float64 {
	return annual / math.Sqrt(TradingDays)
}

// PortfolioReturns returns, for each weight date t, the sum over assets of
// weight(t-1) * return(t). The first date earns 0. Missing weights and
// missing returns contribute nothing.
func PortfolioReturns(weights, returns *panel.Matrix) []float64 {
	dates := weights.Dates()
	out := make([]float64, len(dates))

	cols := make([]int, weights.Cols())
	for j, a := range weights.Assets() {
		cols[j] = returns.AssetIndex(a)
	}
	for i := 1; i < len(dates); i++ {
		row := returns.DateIndex(dates[i])
		if row < 0 {
			continue
		}
		sum := 0.0
		for j, c := range cols {
			if c < 0 {
				continue
			}
			w, okW := weights.At(i-1, j)
			r, okR := returns.At(row, c)
			if okW && okR {
				sum += w * r
			}
		}
		out[i] = sum
	}
	return out
}

// TargetVolatility scales each date's weights by target/realised, where
// realised is the sample stdev of the trailing window of lagged portfolio
// returns. The scale is capped at MaxVolScale and is 1 when the window is
// incomplete or realised volatility is zero.
func TargetVolatility(weights, returns *panel.Matrix, window int, targetAnnual float64) *panel.Matrix {
	port := PortfolioReturns(weights, returns)
	target := DailyFromAnnual(targetAnnual)

	out := weights.Clone()
	for i := range port {
		scale := 1.0
		if window > 1 && i+1 >= window {
			vol := stat.StdDev(port[i+1-window:i+1], nil)
			if vol > 0 {
				scale = math.Min(target/vol, MaxVolScale)
			}
		}
		for j := 0; j < out.Cols(); j++ {
			if v, ok := out.At(i, j); ok {
				out.Set(i, j, v*scale)
			}
		}
	}
	return out
}

// Drawdowns returns 1 - growth/peak for the compounded series rets.
func Drawdowns(rets []float64) []float64 {
	dd := make([]float64, len(rets))
	growth, peak := 1.0, math.Inf(-1)
	for i, r := range rets {
		growth *= 1 + r
		peak = math.Max(peak, growth)
		dd[i] = 1 - growth/peak
	}
	return dd
}

// LimitDrawdown zeroes every asset on dates whose trailing drawdown strictly
// exceeds maxDrawdown. The result has no missing cells. It also returns the
// number of flattened dates. There is no re-entry rule: each date is judged
// on its own drawdown.
func LimitDrawdown(weights, returns *panel.Matrix, maxDrawdown float64) (*panel.Matrix, int) {
	out := weights.FillMissing(0)
	dd := Drawdowns(PortfolioReturns(out, returns))

	flat := 0
	for i, d := range dd {
		if d <= maxDrawdown {
			continue
		}
		flat++
		for j := 0; j < out.Cols(); j++ {
			out.Set(i, j, 0)
		}
	}
	return out, flat
}
