package store

import (
	"fmt"
	"path/filepath"

	"github.com/hk220394/finance-emh/internal/domain"
)

// ---------------------------------------------------------------------------
// Artifact record types (on-disk schema)
// ---------------------------------------------------------------------------

// FactorRecord is one engineered feature value in long format.
type FactorRecord struct {
	Date    int64   `parquet:"date,timestamp(millisecond)"`
	Asset   string  `parquet:"asset"`
	Feature string  `parquet:"feature"`
	Value   float64 `parquet:"value"`
}

// LabelRecord is the Parquet schema for the forward excess-return label panel.
type LabelRecord struct {
	Date  int64   `parquet:"date,timestamp(millisecond)"`
	Asset string  `parquet:"asset"`
	Label float64 `parquet:"label"`
}

// PredictionRecord is the Parquet schema for out-of-sample predictions. Label
// is null when ground truth was unavailable.
type PredictionRecord struct {
	Date  int64    `parquet:"date,timestamp(millisecond)"`
	Asset string   `parquet:"asset"`
	Label *float64 `parquet:"label,optional"`
	Pred  float64  `parquet:"pred"`
}

// WeightRecord is the Parquet schema for final portfolio weights.
type WeightRecord struct {
	Date   int64   `parquet:"date,timestamp(millisecond)"`
	Asset  string  `parquet:"asset"`
	Weight float64 `parquet:"weight"`
}

// BacktestRecord is the Parquet schema for simulated daily results.
type BacktestRecord struct {
	Date        int64   `parquet:"date,timestamp(millisecond)"`
	StrategyRet float64 `parquet:"strategy_ret"`
	Turnover    float64 `parquet:"turnover"`
	TradingCost float64 `parquet:"trading_cost"`
}

// ArtifactWriter writes the intermediate outputs of one run to
// <root>/<runID>/<name>.parquet.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates an ArtifactWriter for the given run.
func NewArtifactWriter(root, runID string) *ArtifactWriter {
	return &ArtifactWriter{dir: filepath.Join(root, runID)}
}

// Dir returns the run's artifact directory.
func (w *ArtifactWriter) Dir() string { return w.dir }

// Path returns the file path for the named artifact.
func (w *ArtifactWriter) Path(name string) string {
	return filepath.Join(w.dir, name+".parquet")
}

// WriteBars writes the loaded asset bars.
func (w *ArtifactWriter) WriteBars(bars []domain.Bar) error {
	return writeArtifact(w, "bars", barRecords(bars))
}

// WriteBenchmark writes the loaded benchmark bars.
func (w *ArtifactWriter) WriteBenchmark(bars []domain.Bar) error {
	return writeArtifact(w, "benchmark", barRecords(bars))
}

func barRecords(bars []domain.Bar) []BarRecord {
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = toBarRecord(b)
	}
	return records
}

// WriteFactors writes factor rows in long format, one record per feature.
func (w *ArtifactWriter) WriteFactors(rows []domain.FactorRow, names []string) error {
	records := make([]FactorRecord, 0, len(rows)*len(names))
	for _, r := range rows {
		for k, v := range r.Features {
			records = append(records, FactorRecord{
				Date:    r.Date.UnixMilli(),
				Asset:   r.Asset,
				Feature: names[k],
				Value:   v,
			})
		}
	}
	return writeArtifact(w, "factors", records)
}

// WriteLabels writes the full label panel, including dates outside any
// test window.
func (w *ArtifactWriter) WriteLabels(labels []domain.LabelRow) error {
	records := make([]LabelRecord, len(labels))
	for i, l := range labels {
		records[i] = LabelRecord{Date: l.Date.UnixMilli(), Asset: l.Asset, Label: l.Label}
	}
	return writeArtifact(w, "labels", records)
}

// WritePredictions writes the out-of-sample prediction panel.
func (w *ArtifactWriter) WritePredictions(preds []domain.Prediction) error {
	records := make([]PredictionRecord, len(preds))
	for i, p := range preds {
		records[i] = PredictionRecord{Date: p.Date.UnixMilli(), Asset: p.Asset, Pred: p.Pred}
		if p.HasLabel {
			label := p.Label
			records[i].Label = &label
		}
	}
	return writeArtifact(w, "predictions", records)
}

// WriteWeights writes the final weight panel.
func (w *ArtifactWriter) WriteWeights(weights []domain.Weight) error {
	records := make([]WeightRecord, len(weights))
	for i, wt := range weights {
		records[i] = WeightRecord{Date: wt.Date.UnixMilli(), Asset: wt.Asset, Weight: wt.Weight}
	}
	return writeArtifact(w, "weights", records)
}

// WriteBacktest writes the simulated daily results.
func (w *ArtifactWriter) WriteBacktest(rows []domain.BacktestRow) error {
	records := make([]BacktestRecord, len(rows))
	for i, r := range rows {
		records[i] = BacktestRecord{
			Date:        r.Date.UnixMilli(),
			StrategyRet: r.StrategyRet,
			Turnover:    r.Turnover,
			TradingCost: r.TradingCost,
		}
	}
	return writeArtifact(w, "backtest", records)
}

func writeArtifact[T any](w *ArtifactWriter, name string, records []T) error {
	if err := writeParquetFile(w.Path(name), records); err != nil {
		return fmt.Errorf("writing %s artifact: %w", name, err)
	}
	return nil
}

// ReadBarArtifact reads a bars or benchmark artifact back.
func ReadBarArtifact(path string) ([]domain.Bar, error) {
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = r.bar()
	}
	return bars, nil
}

// ReadLabels reads a labels artifact back.
func ReadLabels(path string) ([]LabelRecord, error) {
	return readParquetFile[LabelRecord](path)
}

// ReadPredictions reads a predictions artifact back.
func ReadPredictions(path string) ([]PredictionRecord, error) {
	return readParquetFile[PredictionRecord](path)
}

// ReadWeights reads a weights artifact back.
func ReadWeights(path string) ([]WeightRecord, error) {
	return readParquetFile[WeightRecord](path)
}

// ReadBacktest reads a backtest artifact back.
func ReadBacktest(path string) ([]BacktestRecord, error) {
	return readParquetFile[BacktestRecord](path)
}
