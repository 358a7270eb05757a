// Package features engineers the per-(date, asset) factor vectors consumed
// by the model: momentum over several lookbacks, realised volatility, and a
// relative-volume liquidity proxy, each winsorized and z-scored across the
// cross-section of every date.
package features

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

// Engineer computes factor rows from daily bars. It returns the rows sorted
// by (date, asset) and the feature names in vector order.
func Engineer(bars []domain.Bar, cfg config.FeatureConfig) ([]domain.FactorRow, []string) {
	closes := panel.CloseMatrix(bars)
	volumes := panel.VolumeMatrix(bars)
	daily := closes.PctChange(1)

	var (
		names   []string
		factors []*panel.Matrix
	)
	for _, lb := range cfg.MomentumLookbacks {
		names = append(names, fmt.Sprintf("mom_%d", lb))
		factors = append(factors, closes.PctChange(lb))
	}
	names = append(names, fmt.Sprintf("vol_%d", cfg.VolatilityWindow))
	factors = append(factors, rollingStdDev(daily, cfg.VolatilityWindow))
	names = append(names, "vol_z")
	factors = append(factors, relativeVolume(volumes, cfg.VolumeZScoreWindow))

	// Keep only (date, asset) cells where every factor is present.
	dates, assets := closes.Dates(), closes.Assets()
	var rows []domain.FactorRow
	for i, d := range dates {
		for j, a := range assets {
			vec := make([]float64, len(factors))
			complete := true
			for k, f := range factors {
				v, ok := f.At(i, j)
				if !ok {
					complete = false
					break
				}
				vec[k] = v
			}
			if complete {
				rows = append(rows, domain.FactorRow{Date: d, Asset: a, Features: vec})
			}
		}
	}

	normalizeByDate(rows, len(names), cfg.WinsorizeLimit)
	return rows, names
}

// normalizeByDate winsorizes then z-scores every feature within each date's
// cross-section. rows must be grouped by date.
func normalizeByDate(rows []domain.FactorRow, width int, limit float64) {
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].Date.Equal(rows[start].Date) {
			end++
		}
		group := rows[start:end]
		col := make([]float64, len(group))
		for k := 0; k < width; k++ {
			for i, r := range group {
				col[i] = r.Features[k]
			}
			Winsorize(col, limit)
			ZScore(col)
			for i := range group {
				group[i].Features[k] = col[i]
			}
		}
		start = end
	}
}

// Winsorize clips xs in place to its [limit, 1-limit] empirical quantiles.
func Winsorize(xs []float64, limit float64) {
	if len(xs) == 0 || limit <= 0 {
		return
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	lo := stat.Quantile(limit, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(1-limit, stat.LinInterp, sorted, nil)
	for i, x := range xs {
		xs[i] = math.Min(math.Max(x, lo), hi)
	}
}

// ZScore standardises xs in place with the population standard deviation.
// A zero-variance group becomes all zeros.
func ZScore(xs []float64) {
	if len(xs) == 0 {
		return
	}
	mu, sd := stat.PopMeanStdDev(xs, nil)
	for i, x := range xs {
		if sd == 0 || math.IsNaN(sd) {
			xs[i] = 0
			continue
		}
		xs[i] = (x - mu) / sd
	}
}

// rollingStdDev is the sample standard deviation over the trailing window,
// present only when every value in the window is present.
func rollingStdDev(m *panel.Matrix, window int) *panel.Matrix {
	return rolling(m, window, func(w []float64) float64 { return stat.StdDev(w, nil) })
}

// relativeVolume is volume / trailing mean volume - 1.
func relativeVolume(m *panel.Matrix, window int) *panel.Matrix {
	means := rolling(m, window, func(w []float64) float64 { return stat.Mean(w, nil) })
	out := panel.NewMatrix(m.Dates(), m.Assets())
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			v, ok1 := m.At(i, j)
			mu, ok2 := means.At(i, j)
			if ok1 && ok2 && mu != 0 {
				out.Set(i, j, v/mu-1)
			}
		}
	}
	return out
}

func rolling(m *panel.Matrix, window int, fn func([]float64) float64) *panel.Matrix {
	out := panel.NewMatrix(m.Dates(), m.Assets())
	buf := make([]float64, window)
	for j := 0; j < m.Cols(); j++ {
		vals, ok := m.Column(j)
		for i := window - 1; i < len(vals); i++ {
			complete := true
			for k := 0; k < window; k++ {
				if !ok[i-window+1+k] {
					complete = false
					break
				}
				buf[k] = vals[i-window+1+k]
			}
			if complete {
				out.Set(i, j, fn(buf))
			}
		}
	}
	return out
}
