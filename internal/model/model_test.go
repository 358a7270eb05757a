package model

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/panel"
)

func TestWalkForwardFoldProperties(t *testing.T) {
	tests := []struct {
		name              string
		train, test, step int
		nDates            int
		wantFolds         int
		wantLastTestEnd   int
	}{
		{"aligned", 30, 10, 10, 100, 7, 100},
		{"step larger than test", 30, 10, 15, 100, 5, 100},
		{"partial last test", 30, 10, 10, 35, 1, 35},
		{"train covers index", 100, 10, 10, 100, 0, 0},
		{"test exceeds index", 10, 101, 101, 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := NewWalkForward(tt.train, tt.test, tt.step)
			if err != nil {
				t.Fatalf("NewWalkForward returned error: %v", err)
			}
			folds := wf.Folds(tt.nDates)
			if len(folds) != tt.wantFolds {
				t.Fatalf("got %d folds, want %d", len(folds), tt.wantFolds)
			}
			if len(folds) == 0 {
				return
			}
			if folds[0].TrainStart != 0 {
				t.Errorf("first TrainStart = %d, want 0", folds[0].TrainStart)
			}
			for i, f := range folds {
				if f.TestStart != f.TrainEnd {
					t.Errorf("fold %d: TestStart %d != TrainEnd %d", i, f.TestStart, f.TrainEnd)
				}
				if f.TrainEnd-f.TrainStart != tt.train {
					t.Errorf("fold %d: train size %d, want %d", i, f.TrainEnd-f.TrainStart, tt.train)
				}
				if f.TestEnd <= f.TestStart {
					t.Errorf("fold %d: empty test window", i)
				}
				if i > 0 {
					prev := folds[i-1]
					if f.TrainStart != prev.TrainStart+tt.step {
						t.Errorf("fold %d: TrainStart %d, want %d", i, f.TrainStart, prev.TrainStart+tt.step)
					}
					if f.TestStart < prev.TestEnd {
						t.Errorf("fold %d test range overlaps fold %d", i, i-1)
					}
				}
			}
			if last := folds[len(folds)-1]; last.TestEnd != tt.wantLastTestEnd {
				t.Errorf("last TestEnd = %d, want %d", last.TestEnd, tt.wantLastTestEnd)
			}
		})
	}
}

func TestNewWalkForwardRejectsOverlap(t *testing.T) {
	_, err := NewWalkForward(20, 10, 5)
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Field != "model.walk_forward.step_days" {
		t.Errorf("Field = %q, want step_days", verr.Field)
	}
}

func TestRidgeOLSRecoversLinearModel(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		x1 := float64(i%7) - 3
		x2 := math.Sin(float64(i))
		X = append(X, []float64{x1, x2})
		y = append(y, 2*x1-x2+3)
	}

	r := &Ridge{Alpha: 0}
	if err := r.Fit(X, y); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	want := []float64{2, -1, 3}
	for i, c := range r.Coefficients() {
		if math.Abs(c-want[i]) > 1e-8 {
			t.Errorf("coef[%d] = %v, want %v", i, c, want[i])
		}
	}

	preds, err := r.Predict([][]float64{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if math.Abs(preds[0]-5) > 1e-8 || math.Abs(preds[1]-2) > 1e-8 {
		t.Errorf("preds = %v, want [5 2]", preds)
	}
}

func TestRidgeCollinearFeatures(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 25; i++ {
		x := float64(i) / 5
		X = append(X, []float64{x, 2 * x})
		y = append(y, 3*x+1)
	}

	preds, err := FitPredict(X, y, [][]float64{{1, 2}, {4, 8}}, 0)
	if err != nil {
		t.Fatalf("FitPredict returned error: %v", err)
	}
	for i, want := range []float64{4, 13} {
		if math.IsNaN(preds[i]) || math.Abs(preds[i]-want) > 1e-6 {
			t.Errorf("preds[%d] = %v, want %v", i, preds[i], want)
		}
	}
}

func TestRidgeLargeAlphaApproachesInterceptOnly(t *testing.T) {
	var X [][]float64
	var y []float64
	sum := 0.0
	for i := 0; i < 50; i++ {
		X = append(X, []float64{float64(i%5) - 2, math.Cos(float64(i))})
		v := 1 + 0.1*math.Sin(float64(i))
		y = append(y, v)
		sum += v
	}
	alpha := 1e6
	interceptOnly := sum / (float64(len(y)) + alpha)

	preds, err := FitPredict(X, y, [][]float64{{10, -3}, {-10, 3}, {0, 0}}, alpha)
	if err != nil {
		t.Fatalf("FitPredict returned error: %v", err)
	}
	for i, p := range preds {
		if math.Abs(p-interceptOnly) > 1e-3 {
			t.Errorf("preds[%d] = %v, want close to intercept-only fit %v", i, p, interceptOnly)
		}
	}
}

func TestRidgeShapeErrors(t *testing.T) {
	r := &Ridge{Alpha: 1}
	if err := r.Fit([][]float64{{1, 2}}, []float64{1, 2}); err == nil {
		t.Error("Fit accepted mismatched rows and labels")
	}
	if _, err := r.Predict([][]float64{{1}}); err == nil {
		t.Error("Predict before Fit returned nil error")
	}
	if err := r.Fit([][]float64{{1, 2}, {3, 4}}, []float64{1, 2}); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if _, err := r.Predict([][]float64{{1, 2, 3}}); err == nil {
		t.Error("Predict accepted wrong feature count")
	}
}

func makeSamples(nDates int, assets []string) []domain.Sample {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	var out []domain.Sample
	for d := 0; d < nDates; d++ {
		for j, a := range assets {
			x1 := math.Sin(float64(d + 3*j))
			x2 := math.Cos(float64(2*d - j))
			out = append(out, domain.Sample{
				Date:     start.AddDate(0, 0, d),
				Asset:    a,
				Features: []float64{x1, x2},
				Label:    0.01*x1 - 0.005*x2,
			})
		}
	}
	return out
}

func TestTrainPredictMergesFoldsInOrder(t *testing.T) {
	samples := makeSamples(30, []string{"AAA", "BBB", "CCC"})
	cfg := config.ModelConfig{
		WalkForward: config.WalkForward{TrainWindowDays: 10, TestWindowDays: 5, StepDays: 5},
		RidgeAlpha:  0.1,
		Workers:     4,
	}

	preds, reports, err := TrainPredict(context.Background(), samples, cfg, nil)
	if err != nil {
		t.Fatalf("TrainPredict returned error: %v", err)
	}
	if len(reports) != 4 {
		t.Errorf("got %d fold reports, want 4", len(reports))
	}
	if len(preds) != 20*3 {
		t.Fatalf("got %d predictions, want 60", len(preds))
	}

	dates := panel.Dates(samples)
	if !preds[0].Date.Equal(dates[10]) {
		t.Errorf("first prediction date = %s, want %s", preds[0].Date.Format("2006-01-02"), dates[10].Format("2006-01-02"))
	}
	for i := 1; i < len(preds); i++ {
		if panel.CompareKey(preds[i-1].Date, preds[i-1].Asset, preds[i].Date, preds[i].Asset) >= 0 {
			t.Fatalf("predictions not strictly ordered at %d", i)
		}
	}
	for _, p := range preds {
		if !p.HasLabel {
			t.Fatal("prediction missing label")
		}
	}
}

func TestTrainPredictTooShort(t *testing.T) {
	samples := makeSamples(8, []string{"AAA"})
	cfg := config.ModelConfig{
		WalkForward: config.WalkForward{TrainWindowDays: 10, TestWindowDays: 5, StepDays: 5},
		RidgeAlpha:  1,
		Workers:     1,
	}
	preds, _, err := TrainPredict(context.Background(), samples, cfg, nil)
	if err != nil {
		t.Fatalf("TrainPredict returned error: %v", err)
	}
	if len(preds) != 0 {
		t.Errorf("got %d predictions, want 0", len(preds))
	}
}
