// Package metrics computes summary performance statistics for a daily
// strategy return series.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDays annualises daily statistics.
const TradingDays = 252

// Metrics is the flat performance summary written to metrics.json.
type Metrics struct {
	AnnReturn   float64 `json:"ann_return"`
	AnnVol      float64 `json:"ann_vol"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TStatMean   float64 `json:"t_stat_mean"`
	NumDays     int     `json:"num_days"`
}

// Compute summarises returns. Non-finite values are dropped first; an empty
// series yields the zero Metrics.
//
// AnnVol uses the population stdev, TStatMean the sample stdev. Sharpe is 0
// when AnnVol is exactly 0 and TStatMean is 0 with fewer than two days or a
// zero sample stdev. MaxDrawdown is reported as a positive fraction.
func Compute(returns []float64) Metrics {
	rets := make([]float64, 0, len(returns))
	for _, r := range returns {
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			rets = append(rets, r)
		}
	}
	n := len(rets)
	if n == 0 {
		return Metrics{}
	}

	mean, popSD := stat.PopMeanStdDev(rets, nil)
	m := Metrics{
		AnnReturn:   mean * TradingDays,
		AnnVol:      popSD * math.Sqrt(TradingDays),
		MaxDrawdown: MaxDrawdown(rets),
		NumDays:     n,
	}
	if m.AnnVol != 0 {
		m.Sharpe = m.AnnReturn / m.AnnVol
	}
	if n > 1 {
		if sd := stat.StdDev(rets, nil); sd != 0 {
			m.TStatMean = mean / (sd / math.Sqrt(float64(n)))
		}
	}
	return m
}

// MaxDrawdown returns the largest peak-to-trough decline of the compounded
// series, measured from the first compounded value.
func MaxDrawdown(rets []float64) float64 {
	growth, peak, worst := 1.0, math.Inf(-1), 0.0
	for _, r := range rets {
		growth *= 1 + r
		peak = math.Max(peak, growth)
		worst = math.Min(worst, growth/peak-1)
	}
	return math.Abs(worst)
}

// Field is one labelled value of a report.
type Field struct {
	Key   string
	Value float64
}

// Report returns the metrics as an ordered key/value list.
func (m Metrics) Report() []Field {
	return []Field{
		{"ann_return", m.AnnReturn},
		{"ann_vol", m.AnnVol},
		{"sharpe", m.Sharpe},
		{"max_drawdown", m.MaxDrawdown},
		{"t_stat_mean", m.TStatMean},
		{"num_days", float64(m.NumDays)},
	}
}
