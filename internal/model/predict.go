package model

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

// FoldReport summarises one fold for logging and run records.
type FoldReport struct {
	Fold       Fold
	TrainRows  int
	TestRows   int
	TrainStart string
	TestEnd    string
}

// TrainPredict runs walk-forward ridge over samples (sorted by date, asset)
// and returns the merged out-of-sample predictions sorted by (date, asset).
// Folds share no state and run concurrently on up to cfg.Workers
// goroutines, or one per CPU when Workers is not positive. A panel too short
// for a single fold yields no predictions and no error.
func TrainPredict(ctx context.Context, samples []domain.Sample, cfg config.ModelConfig, log *slog.Logger) ([]domain.Prediction, []FoldReport, error) {
	if log == nil {
		log = slog.Default()
	}
	wf, err := NewWalkForward(cfg.WalkForward.TrainWindowDays, cfg.WalkForward.TestWindowDays, cfg.WalkForward.StepDays)
	if err != nil {
		return nil, nil, err
	}

	dates := panel.Dates(samples)
	folds := wf.Folds(len(dates))
	if len(folds) == 0 {
		log.Warn("no walk-forward folds", "dates", len(dates), "train", cfg.WalkForward.TrainWindowDays, "test", cfg.WalkForward.TestWindowDays)
		return nil, nil, nil
	}

	results := make([][]domain.Prediction, len(folds))
	reports := make([]FoldReport, len(folds))

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g.SetLimit(workers)
	for i, f := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			train, test := Split(samples, dates, f)
			if len(train) == 0 || len(test) == 0 {
				return nil
			}
			preds, err := predictFold(train, test, cfg.RidgeAlpha)
			if err != nil {
				return fmt.Errorf("fold %d: %w", f.Number, err)
			}
			results[i] = preds
			reports[i] = FoldReport{
				Fold:       f,
				TrainRows:  len(train),
				TestRows:   len(test),
				TrainStart: dates[f.TrainStart].Format("2006-01-02"),
				TestEnd:    dates[f.TestEnd-1].Format("2006-01-02"),
			}
			log.Debug("fold complete", "fold", f.Number, "train_rows", len(train), "test_rows", len(test))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Completion order is arbitrary; restore (date, asset) order.
	var (
		merged []domain.Prediction
		done   []FoldReport
	)
	for i, r := range results {
		if len(r) == 0 {
			continue
		}
		merged = append(merged, r...)
		done = append(done, reports[i])
	}
	slices.SortFunc(merged, func(a, b domain.Prediction) int {
		return panel.CompareKey(a.Date, a.Asset, b.Date, b.Asset)
	})

	log.Info("walk-forward complete", "folds", len(done), "predictions", len(merged))
	return merged, done, nil
}

func predictFold(train, test []domain.Sample, alpha float64) ([]domain.Prediction, error) {
	xTrain := make([][]float64, len(train))
	yTrain := make([]float64, len(train))
	for i, s := range train {
		xTrain[i], yTrain[i] = s.Features, s.Label
	}
	xTest := make([][]float64, len(test))
	for i, s := range test {
		xTest[i] = s.Features
	}

	scores, err := FitPredict(xTrain, yTrain, xTest, alpha)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prediction, len(test))
	for i, s := range test {
		out[i] = domain.Prediction{
			Date:     s.Date,
			Asset:    s.Asset,
			Label:    s.Label,
			HasLabel: true,
			Pred:     scores[i],
		}
	}
	return out, nil
}
