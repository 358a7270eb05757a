// Package panel holds the date×asset data structures used throughout the
// pipeline and the explicit join operations that align them.
//
// Missing observations are tracked with a validity mask instead of NaN: a
// cell is either present with a finite value or absent. Memory for a Matrix
// is O(dates × assets).
package panel

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/hk220394/finance-emh/internal/domain"
)

// Matrix is a dense date×asset grid. Dates are strictly increasing; assets
// are sorted.
type Matrix struct {
	dates  []time.Time
	assets []string
	index  map[string]int
	vals   [][]float64
	ok     [][]bool
}

// NewMatrix allocates an empty (all-missing) matrix over the given axes.
// Dates must be sorted ascending and assets sorted and unique.
func NewMatrix(dates []time.Time, assets []string) *Matrix {
	m := &Matrix{
		dates:  dates,
		assets: assets,
		index:  make(map[string]int, len(assets)),
		vals:   make([][]float64, len(dates)),
		ok:     make([][]bool, len(dates)),
	}
	for j, a := range assets {
		m.index[a] = j
	}
	for i := range dates {
		m.vals[i] = make([]float64, len(assets))
		m.ok[i] = make([]bool, len(assets))
	}
	return m
}

// Dates returns the row axis.
func (m *Matrix) Dates() []time.Time { return m.dates }

// Assets returns the column axis.
func (m *Matrix) Assets() []string { return m.assets }

// Rows returns the number of dates.
func (m *Matrix) Rows() int { return len(m.dates) }

// Cols returns the number of assets.
func (m *Matrix) Cols() int { return len(m.assets) }

// At returns the value at (i, j) and whether it is present.
func (m *Matrix) At(i, j int) (float64, bool) {
	return m.vals[i][j], m.ok[i][j]
}

// Value returns the value at (i, j), or 0 when missing.
func (m *Matrix) Value(i, j int) float64 {
	if !m.ok[i][j] {
		return 0
	}
	return m.vals[i][j]
}

// Set stores v at (i, j). Non-finite values mark the cell missing.
func (m *Matrix) Set(i, j int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		m.ok[i][j] = false
		m.vals[i][j] = 0
		return
	}
	m.vals[i][j] = v
	m.ok[i][j] = true
}

// AssetIndex returns the column of asset, or -1.
func (m *Matrix) AssetIndex(asset string) int {
	if j, ok := m.index[asset]; ok {
		return j
	}
	return -1
}

// DateIndex returns the row of date, or -1.
func (m *Matrix) DateIndex(date time.Time) int {
	i := sort.Search(len(m.dates), func(k int) bool { return !m.dates[k].Before(date) })
	if i < len(m.dates) && m.dates[i].Equal(date) {
		return i
	}
	return -1
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := NewMatrix(m.dates, m.assets)
	for i := range m.vals {
		copy(c.vals[i], m.vals[i])
		copy(c.ok[i], m.ok[i])
	}
	return c
}

// FillMissing returns a copy with every missing cell set to v.
func (m *Matrix) FillMissing(v float64) *Matrix {
	c := m.Clone()
	for i := range c.ok {
		for j := range c.ok[i] {
			if !c.ok[i][j] {
				c.vals[i][j] = v
				c.ok[i][j] = true
			}
		}
	}
	return c
}

// PctChange returns (x[t] / x[t-lag]) - 1 per asset. Cells without both
// endpoints, or with a zero base, are missing.
func (m *Matrix) PctChange(lag int) *Matrix {
	out := NewMatrix(m.dates, m.assets)
	for i := lag; i < len(m.dates); i++ {
		for j := range m.assets {
			cur, ok1 := m.At(i, j)
			prev, ok2 := m.At(i-lag, j)
			if ok1 && ok2 && prev != 0 {
				out.Set(i, j, cur/prev-1)
			}
		}
	}
	return out
}

// Column returns the values of column j with their validity flags.
func (m *Matrix) Column(j int) ([]float64, []bool) {
	vals := make([]float64, len(m.dates))
	ok := make([]bool, len(m.dates))
	for i := range m.dates {
		vals[i], ok[i] = m.vals[i][j], m.ok[i][j]
	}
	return vals, ok
}

// Weights flattens the present cells into weight records ordered by
// (date, asset).
func (m *Matrix) Weights() []domain.Weight {
	var out []domain.Weight
	for i, d := range m.dates {
		for j, a := range m.assets {
			if m.ok[i][j] {
				out = append(out, domain.Weight{Date: d, Asset: a, Weight: m.vals[i][j]})
			}
		}
	}
	return out
}

// FromBars builds a date×symbol matrix using field to extract each value.
// When a (date, symbol) pair repeats, the last bar wins.
func FromBars(bars []domain.Bar, field func(domain.Bar) float64) *Matrix {
	dateSet := make(map[time.Time]struct{})
	assetSet := make(map[string]struct{})
	for _, b := range bars {
		dateSet[b.Timestamp] = struct{}{}
		assetSet[b.Symbol] = struct{}{}
	}
	m := NewMatrix(sortedDates(dateSet), sortedKeys(assetSet))
	for _, b := range bars {
		m.Set(m.DateIndex(b.Timestamp), m.index[b.Symbol], field(b))
	}
	return m
}

// CloseMatrix returns closing prices as a date×symbol matrix.
func CloseMatrix(bars []domain.Bar) *Matrix {
	return FromBars(bars, func(b domain.Bar) float64 { return b.Close })
}

// VolumeMatrix returns volumes as a date×symbol matrix.
func VolumeMatrix(bars []domain.Bar) *Matrix {
	return FromBars(bars, func(b domain.Bar) float64 { return b.Volume })
}

func sortedDates(set map[time.Time]struct{}) []time.Time {
	dates := make([]time.Time, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	return dates
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
