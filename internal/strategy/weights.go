package strategy

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

// Constructor converts predictions to weights one date at a time.
type Constructor struct {
	transform ScoreTransform
	cfg       config.StrategyConfig
}

// NewConstructor resolves cfg.PositionsFrom in reg. An unknown name is a
// configuration error reported before any weights are computed.
func NewConstructor(cfg config.StrategyConfig, reg *Registry) (*Constructor, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	t, ok := reg.Get(cfg.PositionsFrom)
	if !ok {
		return nil, &config.ValidationError{Field: "strategy.positions_from", Value: cfg.PositionsFrom, Allowed: reg.List()}
	}
	return &Constructor{transform: t, cfg: cfg}, nil
}

// Build returns the weight matrix for sorted predictions. A cell is present
// exactly when the (date, asset) had a prediction.
func (c *Constructor) Build(preds []domain.Prediction) *panel.Matrix {
	dateSet := make(map[time.Time]struct{})
	assetSet := make(map[string]struct{})
	for _, p := range preds {
		dateSet[p.Date] = struct{}{}
		assetSet[p.Asset] = struct{}{}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	assets := make([]string, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	m := panel.NewMatrix(dates, assets)
	for start := 0; start < len(preds); {
		end := start
		for end < len(preds) && preds[end].Date.Equal(preds[start].Date) {
			end++
		}
		day := preds[start:end]
		scores := make([]float64, len(day))
		for i, p := range day {
			scores[i] = p.Pred
		}
		row := m.DateIndex(day[0].Date)
		for i, w := range c.DayWeights(scores) {
			m.Set(row, m.AssetIndex(day[i].Asset), w)
		}
		start = end
	}
	return m
}

// DayWeights applies, in order: score transform, top-k filter, long-only
// enforcement, per-asset cap, and gross leverage normalisation.
func (c *Constructor) DayWeights(scores []float64) []float64 {
	w := c.transform.Transform(scores)
	if c.cfg.TopK > 0 {
		topK(w, scores, c.cfg.TopK, c.cfg.LongShort)
	}
	if !c.cfg.LongShort {
		longOnly(w)
	}
	capWeights(w, c.cfg.MaxPositionPerAsset)
	normalizeGross(w, c.cfg.GrossLeverage)
	return w
}

// topK zeroes every weight outside the k highest (and, when long/short, the
// k lowest) raw scores. Survivors are not renormalised.
func topK(w, scores []float64, k int, longShort bool) {
	n := len(scores)
	if longShort {
		k = min(k, n/2)
	} else {
		k = min(k, n)
	}
	if k <= 0 {
		return
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	keep := make([]bool, n)

	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	for _, idx := range order[:k] {
		keep[idx] = true
	}
	if longShort {
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
		for _, idx := range order[:k] {
			keep[idx] = true
		}
	}
	for i := range w {
		if !keep[i] {
			w[i] = 0
		}
	}
}

// longOnly clips shorts to zero and rescales the rest to sum to 1.
func longOnly(w []float64) {
	sum := 0.0
	for i, v := range w {
		if v < 0 {
			w[i] = 0
		}
		sum += w[i]
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func capWeights(w []float64, limit float64) {
	for i, v := range w {
		w[i] = math.Max(-limit, math.Min(limit, v))
	}
}

func normalizeGross(w []float64, gross float64) {
	total := 0.0
	for _, v := range w {
		total += math.Abs(v)
	}
	if total == 0 {
		return
	}
	for i := range w {
		w[i] *= gross / total
	}
}
