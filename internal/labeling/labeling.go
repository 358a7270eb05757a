// Package labeling builds forward excess-return labels. A label at date t
// is computed only from returns strictly after t and must never be fed back
// as a feature.
package labeling

import (
	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

// ExcessReturns builds labels from asset bars and the benchmark series. The
// label at t is the one-day excess return observed horizon dates later.
func ExcessReturns(assets, bench []domain.Bar, cfg config.LabelConfig) ([]domain.LabelRow, error) {
	if err := config.CheckEnum("labeling.excess_over", cfg.ExcessOver, config.ExcessOverValues); err != nil {
		return nil, err
	}
	assets, bench, err := panel.AlignBenchmark(assets, bench)
	if err != nil {
		return nil, err
	}

	rets := panel.CloseMatrix(assets).PctChange(1)
	benchClose := panel.SeriesByDate(bench)
	dates := rets.Dates()

	benchRet := make([]float64, len(dates))
	benchOK := make([]bool, len(dates))
	for i := 1; i < len(dates); i++ {
		prev, cur := benchClose[dates[i-1]], benchClose[dates[i]]
		if prev != 0 {
			benchRet[i], benchOK[i] = cur/prev-1, true
		}
	}

	h := cfg.HorizonDays
	var labels []domain.LabelRow
	for i := 0; i+h < len(dates); i++ {
		t := i + h
		for j, a := range rets.Assets() {
			r, ok := rets.At(t, j)
			if !ok {
				continue
			}
			if cfg.ExcessOver == "benchmark" {
				if !benchOK[t] {
					continue
				}
				r -= benchRet[t]
			}
			labels = append(labels, domain.LabelRow{Date: dates[i], Asset: a, Label: r})
		}
	}
	return labels, nil
}
