// Package pipeline runs the end-to-end research flow: load market data,
// engineer factors and labels, train walk-forward ridge models, build and
// risk-manage weights, simulate with costs and summarise performance.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hk220394/finance-emh/internal/backtest"
	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/data"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/features"
	"github.com/hk220394/finance-emh/internal/labeling"
	"github.com/hk220394/finance-emh/internal/metrics"
	"github.com/hk220394/finance-emh/internal/model"
	"github.com/hk220394/finance-emh/internal/panel"
	"github.com/hk220394/finance-emh/internal/risk"
	"github.com/hk220394/finance-emh/internal/store"
	"github.com/hk220394/finance-emh/internal/strategy"
)

// ReportFile is the metrics report written under output.reports_dir.
const ReportFile = "metrics.json"

// Deps are the collaborators of Run. Zero fields get defaults built from the
// configuration, except Runs: a nil RunStore records nothing.
type Deps struct {
	Bars     store.BarStore
	Runs     store.RunStore
	Sources  []data.Source
	Registry *strategy.Registry
	Log      *slog.Logger
	Now      func() time.Time
}

// Result holds everything a run produced.
type Result struct {
	RunID        string
	Source       string
	Attempts     []data.Attempt
	FeatureNames []string
	Predictions  []domain.Prediction
	Weights      *panel.Matrix
	Backtest     []domain.BacktestRow
	Summary      backtest.Summary
	Metrics      metrics.Metrics
	Folds        []model.FoldReport
	ArtifactsDir string
	ReportPath   string
}

// Run executes the full pipeline for cfg. Artifacts are written when
// output.save_intermediate is set and the metrics report is always written.
// The run is recorded in deps.Runs as running, then succeeded or failed.
//
// A panel whose factors and labels share no date fails with an error wrapping
// panel.ErrNoOverlap. A panel too short for any walk-forward fold succeeds
// with no predictions, an empty backtest and zero metrics.
//
// Peak memory is O(dates × assets × features): the factor panel, the joined
// samples and the close/return matrices are all held at once.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (res *Result, err error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	res = &Result{RunID: uuid.NewString()}
	log = log.With("run_id", res.RunID)

	record := &store.RunRecord{
		ID:         res.RunID,
		CreatedAt:  now(),
		ConfigPath: cfg.Path,
		Status:     store.RunRunning,
	}
	saveRecord(ctx, deps.Runs, record, log)
	defer func() {
		record.DataSource = res.Source
		record.Folds = len(res.Folds)
		record.Metrics = res.Metrics
		record.Status = store.RunSucceeded
		if err != nil {
			record.Status = store.RunFailed
			record.Error = err.Error()
		}
		saveRecord(context.WithoutCancel(ctx), deps.Runs, record, log)
	}()

	// 1. Market data.
	bars := deps.Bars
	if bars == nil {
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	}
	sources := deps.Sources
	if sources == nil {
		if sources, err = data.NewSources(cfg, bars, log); err != nil {
			return res, err
		}
	}
	loaded, err := data.NewLoader(log, sources...).Load(ctx)
	if loaded != nil {
		res.Attempts = loaded.Attempts
	}
	if err != nil {
		return res, fmt.Errorf("loading market data: %w", err)
	}
	res.Source = loaded.Source
	md := loaded.Data

	// 2. Factors, labels and the joined sample panel.
	factors, names := features.Engineer(md.Assets, cfg.Features)
	res.FeatureNames = names
	labels, err := labeling.ExcessReturns(md.Assets, md.Benchmark, cfg.Labeling)
	if err != nil {
		return res, fmt.Errorf("building labels: %w", err)
	}
	samples, err := panel.Join(factors, labels)
	if err != nil {
		return res, fmt.Errorf("joining factors and labels: %w", err)
	}
	log.Info("sample panel built", "factor_rows", len(factors), "label_rows", len(labels),
		"samples", len(samples), "features", len(names))

	// 3. Model, weights, overlays, simulation and metrics.
	returns := panel.CloseMatrix(md.Assets).PctChange(1)
	if err := Research(ctx, cfg, samples, returns, deps.Registry, log, res); err != nil {
		return res, err
	}

	// 4. Persistence.
	if cfg.Output.SaveIntermediate {
		w := store.NewArtifactWriter(cfg.Output.ArtifactsDir, res.RunID)
		if err := writeArtifacts(w, md, factors, labels, res); err != nil {
			return res, err
		}
		res.ArtifactsDir = w.Dir()
		log.Info("artifacts written", "dir", w.Dir())
	}
	res.ReportPath = filepath.Join(cfg.Output.ReportsDir, ReportFile)
	if err := WriteReport(res.ReportPath, res.Metrics); err != nil {
		return res, err
	}

	log.Info("run complete",
		"source", res.Source,
		"folds", len(res.Folds),
		"sharpe", res.Metrics.Sharpe,
		"ann_return", res.Metrics.AnnReturn,
		"max_drawdown", res.Metrics.MaxDrawdown,
		"total_return", res.Summary.TotalReturn,
		"total_cost", res.Summary.TotalCost,
		"active_days", res.Summary.ActiveDays,
		"report", res.ReportPath,
	)
	return res, nil
}

// Research runs the modelling half of the pipeline on a prepared sample
// panel (sorted by date, asset) and daily asset returns, filling in the
// predictions, weights, backtest, metrics and folds of res.
func Research(ctx context.Context, cfg *config.Config, samples []domain.Sample, returns *panel.Matrix, reg *strategy.Registry, log *slog.Logger, res *Result) error {
	if log == nil {
		log = slog.Default()
	}
	constructor, err := strategy.NewConstructor(cfg.Strategy, reg)
	if err != nil {
		return err
	}

	preds, folds, err := model.TrainPredict(ctx, samples, cfg.Model, log)
	if err != nil {
		return fmt.Errorf("walk-forward: %w", err)
	}
	res.Predictions, res.Folds = preds, folds
	if len(preds) == 0 {
		log.Warn("no out-of-sample predictions; backtest is empty", "samples", len(samples))
	}

	weights := constructor.Build(preds)
	weights = risk.NewRiskManager(cfg.Risk, log).Apply(weights, returns)
	res.Weights = weights

	res.Backtest = backtest.NewSimulator(cfg.Costs.BpsPerTrade).Run(weights, returns)
	res.Summary = backtest.Summarize(res.Backtest)
	res.Metrics = metrics.Compute(backtest.Returns(res.Backtest))
	return nil
}

// WriteReport writes m as indented JSON to path, creating parent directories.
func WriteReport(path string, m metrics.Metrics) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func writeArtifacts(w *store.ArtifactWriter, md *data.MarketData, factors []domain.FactorRow, labels []domain.LabelRow, res *Result) error {
	return errors.Join(
		w.WriteBars(md.Assets),
		w.WriteBenchmark(md.Benchmark),
		w.WriteFactors(factors, res.FeatureNames),
		w.WriteLabels(labels),
		w.WritePredictions(res.Predictions),
		w.WriteWeights(res.Weights.Weights()),
		w.WriteBacktest(res.Backtest),
	)
}

func saveRecord(ctx context.Context, runs store.RunStore, r *store.RunRecord, log *slog.Logger) {
	if runs == nil {
		return
	}
	if err := runs.SaveRun(ctx, r); err != nil {
		log.Warn("recording run failed", "status", r.Status, "err", err)
	}
}
