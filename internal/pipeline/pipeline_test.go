package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/data"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/metrics"
	"github.com/hk220394/finance-emh/internal/panel"
	"github.com/hk220394/finance-emh/internal/store"
)

// researchConfig is a small linear long/short setup with overlays off.
func researchConfig() *config.Config {
	cfg := config.Default()
	cfg.Model.WalkForward = config.WalkForward{TrainWindowDays: 10, TestWindowDays: 5, StepDays: 5}
	cfg.Model.Workers = 2
	cfg.Strategy = config.StrategyConfig{PositionsFrom: "linear", LongShort: true, MaxPositionPerAsset: 1, GrossLeverage: 1}
	cfg.Risk.EnableVolTarget = false
	cfg.Risk.EnableDrawdownLimit = false
	return cfg
}

func syntheticPanel(nDates int, assets []string) ([]domain.Sample, *panel.Matrix) {
	dates := make([]time.Time, nDates)
	for i := range dates {
		dates[i] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	returns := panel.NewMatrix(dates, assets)
	var samples []domain.Sample
	for i, d := range dates {
		for j, a := range assets {
			x1 := math.Sin(float64(i*3 + j*7))
			x2 := math.Cos(float64(i + j*j))
			samples = append(samples, domain.Sample{
				Date:     d,
				Asset:    a,
				Features: []float64{x1, x2},
				Label:    0.01*x1 - 0.005*x2,
			})
			returns.Set(i, j, 0.002*math.Sin(float64(i+j)))
		}
	}
	return samples, returns
}

func TestResearchWeightsSumToGross(t *testing.T) {
	samples, returns := syntheticPanel(30, []string{"AAA", "BBB", "CCC"})
	res := &Result{}
	if err := Research(context.Background(), researchConfig(), samples, returns, nil, nil, res); err != nil {
		t.Fatalf("Research returned error: %v", err)
	}

	if len(res.Folds) != 4 {
		t.Errorf("folds = %d, want 4", len(res.Folds))
	}
	if len(res.Predictions) != 20*3 {
		t.Errorf("predictions = %d, want 60", len(res.Predictions))
	}

	w := res.Weights
	if w.Rows() != 20 {
		t.Fatalf("weight dates = %d, want 20", w.Rows())
	}
	for i := 0; i < w.Rows(); i++ {
		total := 0.0
		for j := 0; j < w.Cols(); j++ {
			v, ok := w.At(i, j)
			if !ok || math.IsNaN(v) {
				t.Fatalf("date %d asset %d has no weight", i, j)
			}
			total += math.Abs(v)
		}
		if math.Abs(total-1) > 1e-9 {
			t.Errorf("date %d sum|w| = %v, want 1", i, total)
		}
	}

	if len(res.Backtest) != 20 || res.Metrics.NumDays != 20 {
		t.Errorf("backtest rows = %d, metric days = %d, want 20", len(res.Backtest), res.Metrics.NumDays)
	}
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	for _, row := range res.Backtest {
		if !finite(row.StrategyRet) || !finite(row.Turnover) || !finite(row.TradingCost) {
			t.Errorf("non-finite backtest row %+v", row)
		}
	}
	// The first date opens the book from flat.
	if math.Abs(res.Backtest[0].Turnover-1) > 1e-9 {
		t.Errorf("first turnover = %v, want 1", res.Backtest[0].Turnover)
	}
}

func TestResearchTooShortForAFold(t *testing.T) {
	samples, returns := syntheticPanel(10, []string{"AAA", "BBB"})
	res := &Result{}
	if err := Research(context.Background(), researchConfig(), samples, returns, nil, nil, res); err != nil {
		t.Fatalf("Research returned error: %v", err)
	}
	if len(res.Predictions) != 0 || len(res.Backtest) != 0 {
		t.Errorf("got %d predictions and %d backtest rows, want none", len(res.Predictions), len(res.Backtest))
	}
	if res.Metrics != (metrics.Metrics{}) {
		t.Errorf("Metrics = %+v, want zero", res.Metrics)
	}
}

func runConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Source = "synthetic"
	cfg.Data.Fallback = nil
	cfg.Data.StartDate = "2020-01-01"
	cfg.Data.EndDate = "2020-12-31"
	cfg.Data.NAssets = 6
	cfg.Features.MomentumLookbacks = []int{5, 10}
	cfg.Features.VolatilityWindow = 10
	cfg.Features.VolumeZScoreWindow = 10
	cfg.Model.WalkForward = config.WalkForward{TrainWindowDays: 60, TestWindowDays: 20, StepDays: 20}
	cfg.Model.Workers = 2
	cfg.Risk.VolEstWindowDays = 10
	cfg.Output.ArtifactsDir = filepath.Join(dir, "artifacts")
	cfg.Output.ReportsDir = filepath.Join(dir, "reports")
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.SQLitePath = filepath.Join(dir, "emh.db")
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	cfg := runConfig(t)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer runs.Close()

	res, err := Run(context.Background(), cfg, Deps{Runs: runs})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Source != "synthetic" {
		t.Errorf("Source = %q, want synthetic", res.Source)
	}
	if len(res.Predictions) == 0 || len(res.Folds) == 0 {
		t.Fatalf("got %d predictions over %d folds, want some", len(res.Predictions), len(res.Folds))
	}
	if res.Metrics.NumDays != len(res.Backtest) {
		t.Errorf("NumDays = %d, backtest rows = %d", res.Metrics.NumDays, len(res.Backtest))
	}
	for _, row := range res.Backtest {
		if math.IsNaN(row.StrategyRet) || row.Turnover < 0 || row.TradingCost < 0 {
			t.Fatalf("bad backtest row %+v", row)
		}
	}

	for _, name := range []string{"bars", "benchmark", "factors", "labels", "predictions", "weights", "backtest"} {
		path := filepath.Join(res.ArtifactsDir, name+".parquet")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	labels, err := store.ReadLabels(filepath.Join(res.ArtifactsDir, "labels.parquet"))
	if err != nil {
		t.Fatalf("ReadLabels: %v", err)
	}
	// Training-window rows have labels but no predictions.
	if len(labels) <= len(res.Predictions) {
		t.Errorf("labels = %d rows, want more than the %d predictions", len(labels), len(res.Predictions))
	}
	bench, err := store.ReadBarArtifact(filepath.Join(res.ArtifactsDir, "benchmark.parquet"))
	if err != nil {
		t.Fatalf("ReadBarArtifact: %v", err)
	}
	if len(bench) == 0 || bench[0].Symbol != cfg.Data.Benchmark {
		t.Errorf("benchmark artifact has %d bars, first %+v", len(bench), bench)
	}

	if res.Summary.Days != len(res.Backtest) || res.Summary.ActiveDays == 0 {
		t.Errorf("Summary = %+v, want %d days with activity", res.Summary, len(res.Backtest))
	}

	b, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var report map[string]float64
	if err := json.Unmarshal(b, &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	for _, key := range []string{"ann_return", "ann_vol", "sharpe", "max_drawdown", "t_stat_mean", "num_days"} {
		if _, ok := report[key]; !ok {
			t.Errorf("report missing %s", key)
		}
	}

	rec, err := runs.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunSucceeded || rec.DataSource != "synthetic" || rec.Folds != len(res.Folds) {
		t.Errorf("run record = %+v", rec)
	}
}

// unavailable is a Source that never has data.
type unavailable struct{}

func (unavailable) Name() string { return "parquet" }

func (unavailable) Load(context.Context) (*data.MarketData, error) {
	return nil, data.ErrSourceUnavailable
}

func TestRunNoSourceRecordsFailure(t *testing.T) {
	cfg := runConfig(t)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer runs.Close()

	res, err := Run(context.Background(), cfg, Deps{Runs: runs, Sources: []data.Source{unavailable{}}})
	if !errors.Is(err, data.ErrNoSource) {
		t.Fatalf("error = %v, want ErrNoSource", err)
	}
	if len(res.Attempts) != 1 {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	rec, err := runs.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunFailed || rec.Error == "" {
		t.Errorf("run record = %+v, want failed with error", rec)
	}
}

func TestRunNoOverlap(t *testing.T) {
	cfg := runConfig(t)
	md := data.Generate(data.SyntheticOptions{
		Start:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC),
		NAssets: 3,
		Seed:    1,
	})
	// Move the benchmark a year away so labels cannot be built.
	for i := range md.Benchmark {
		md.Benchmark[i].Timestamp = md.Benchmark[i].Timestamp.AddDate(1, 0, 0)
	}
	src := &fixedSource{md: md}

	_, err := Run(context.Background(), cfg, Deps{Sources: []data.Source{src}})
	if !errors.Is(err, panel.ErrNoOverlap) {
		t.Fatalf("error = %v, want ErrNoOverlap", err)
	}
}

type fixedSource struct{ md *data.MarketData }

func (s *fixedSource) Name() string { return "fixed" }

func (s *fixedSource) Load(context.Context) (*data.MarketData, error) {
	return s.md, nil
}
