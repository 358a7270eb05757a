package panel

import (
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/hk220394/finance-emh/internal/domain"
)

// ErrNoOverlap is returned when two inputs that must be joined share no
// date. It signals a data-shape mismatch rather than an empty result.
var ErrNoOverlap = errors.New("panel: inputs share no dates")

type key struct {
	date  time.Time
	asset string
}

// CompareKey orders records by (date, asset).
func CompareKey(d1 time.Time, a1 string, d2 time.Time, a2 string) int {
	if c := d1.Compare(d2); c != 0 {
		return c
	}
	return strings.Compare(a1, a2)
}

// Join inner-joins factor and label rows on (date, asset). Rows with a
// non-finite feature or label are dropped. The result is sorted by
// (date, asset).
func Join(factors []domain.FactorRow, labels []domain.LabelRow) ([]domain.Sample, error) {
	labelDates := make(map[time.Time]struct{}, len(labels))
	byKey := make(map[key]float64, len(labels))
	for _, l := range labels {
		labelDates[l.Date] = struct{}{}
		byKey[key{l.Date, l.Asset}] = l.Label
	}

	overlap := false
	var out []domain.Sample
	for _, f := range factors {
		if _, ok := labelDates[f.Date]; ok {
			overlap = true
		}
		y, ok := byKey[key{f.Date, f.Asset}]
		if !ok || !finite(y) || !allFinite(f.Features) {
			continue
		}
		out = append(out, domain.Sample{
			Date:     f.Date,
			Asset:    f.Asset,
			Features: f.Features,
			Label:    y,
		})
	}
	if !overlap && len(factors) > 0 && len(labels) > 0 {
		return nil, ErrNoOverlap
	}

	slices.SortFunc(out, func(a, b domain.Sample) int {
		return CompareKey(a.Date, a.Asset, b.Date, b.Asset)
	})
	return out, nil
}

// AlignBenchmark restricts both the asset bars and the benchmark series to
// their shared dates. Non-matching dates are dropped on either side.
func AlignBenchmark(assets, bench []domain.Bar) ([]domain.Bar, []domain.Bar, error) {
	assetDates := make(map[time.Time]struct{})
	for _, b := range assets {
		assetDates[b.Timestamp] = struct{}{}
	}
	benchDates := make(map[time.Time]struct{}, len(bench))
	var alignedBench []domain.Bar
	for _, b := range bench {
		if _, ok := assetDates[b.Timestamp]; ok {
			benchDates[b.Timestamp] = struct{}{}
			alignedBench = append(alignedBench, b)
		}
	}
	if len(benchDates) == 0 {
		return nil, nil, ErrNoOverlap
	}

	alignedAssets := make([]domain.Bar, 0, len(assets))
	for _, b := range assets {
		if _, ok := benchDates[b.Timestamp]; ok {
			alignedAssets = append(alignedAssets, b)
		}
	}
	slices.SortFunc(alignedBench, func(a, b domain.Bar) int { return a.Timestamp.Compare(b.Timestamp) })
	return alignedAssets, alignedBench, nil
}

// Dates returns the distinct dates of samples in ascending order.
func Dates(samples []domain.Sample) []time.Time {
	set := make(map[time.Time]struct{})
	for _, s := range samples {
		set[s.Date] = struct{}{}
	}
	return sortedDates(set)
}

// SeriesByDate indexes a single-symbol bar series by date.
func SeriesByDate(bars []domain.Bar) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(bars))
	for _, b := range bars {
		out[b.Timestamp] = b.Close
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
