// Package domain defines the record types shared across the research
// pipeline: market bars, joined factor/label samples, predictions, weights,
// and backtest rows.
package domain

import "time"

// Market identifies the exchange group a symbol trades in.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single daily observation for one symbol. Close must be positive;
// Volume is non-negative.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// FactorRow holds the engineered feature vector for one (date, asset).
// Feature order follows the names returned alongside the rows.
type FactorRow struct {
	Date     time.Time
	Asset    string
	Features []float64
}

// LabelRow holds the forward excess return observed after Date.
type LabelRow struct {
	Date  time.Time
	Asset string
	Label float64
}

// Sample is a complete (features, label) row, the unit of model training.
type Sample struct {
	Date     time.Time
	Asset    string
	Features []float64
	Label    float64
}

// Prediction is the model score for one (date, asset). HasLabel is false
// when ground truth was not available at inference time.
type Prediction struct {
	Date     time.Time
	Asset    string
	Label    float64
	HasLabel bool
	Pred     float64
}

// Weight is a portfolio position decided at the close of Date.
type Weight struct {
	Date   time.Time
	Asset  string
	Weight float64
}

// BacktestRow is the simulated outcome for a single date.
type BacktestRow struct {
	Date        time.Time
	StrategyRet float64
	Turnover    float64
	TradingCost float64
}
