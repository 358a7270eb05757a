// Package model implements walk-forward validation with a closed-form ridge
// regression fit independently on every fold.
package model

import (
	"sort"
	"time"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
)

// Fold is one walk-forward split over an index of distinct dates. Ranges
// are half-open: [TrainStart, TrainEnd) and [TestStart, TestEnd).
type Fold struct {
	Number     int
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
}

// WalkForward generates rolling, non-overlapping train/test folds. All sizes
// are counted in distinct dates.
type WalkForward struct {
	train int
	test  int
	step  int
}

// NewWalkForward validates the window sizes. step must be at least test so
// that no date is predicted by two folds.
func NewWalkForward(train, test, step int) (*WalkForward, error) {
	switch {
	case train <= 0:
		return nil, &config.ValidationError{Field: "model.walk_forward.train_window_days", Value: train, Reason: "must be positive"}
	case test <= 0:
		return nil, &config.ValidationError{Field: "model.walk_forward.test_window_days", Value: test, Reason: "must be positive"}
	case step < test:
		return nil, &config.ValidationError{Field: "model.walk_forward.step_days", Value: step, Reason: "must be at least test_window_days"}
	}
	return &WalkForward{train: train, test: test, step: step}, nil
}

// Folds returns the folds over nDates distinct dates. Iteration stops once
// a train window would reach the end of the index; the last test window may
// be shorter than the configured size but is never empty. Windows larger
// than the index yield no folds.
func (w *WalkForward) Folds(nDates int) []Fold {
	if w.train >= nDates || w.test > nDates {
		return nil
	}
	var folds []Fold
	for start := 0; ; start += w.step {
		trainEnd := start + w.train
		if trainEnd >= nDates {
			break
		}
		testEnd := min(nDates, trainEnd+w.test)
		folds = append(folds, Fold{
			Number:     len(folds),
			TrainStart: start,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
	}
	return folds
}

// Split returns the samples whose date falls in the fold's train and test
// ranges. dates is the sorted distinct date index the fold was built on and
// samples must be sorted by date.
func Split(samples []domain.Sample, dates []time.Time, f Fold) (train, test []domain.Sample) {
	return dateRange(samples, dates, f.TrainStart, f.TrainEnd), dateRange(samples, dates, f.TestStart, f.TestEnd)
}

func dateRange(samples []domain.Sample, dates []time.Time, from, to int) []domain.Sample {
	if from >= to {
		return nil
	}
	lo := sort.Search(len(samples), func(i int) bool { return !samples[i].Date.Before(dates[from]) })
	hi := len(samples)
	if to < len(dates) {
		hi = sort.Search(len(samples), func(i int) bool { return !samples[i].Date.Before(dates[to]) })
	}
	return samples[lo:hi]
}
