package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "DATA_DIR", "SQLITE_PATH", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
data:
  source: synthetic
  fallback: []
  universe: [AAPL, MSFT]
  benchmark: SPY
  start_date: "2019-01-01"
  end_date: "2020-12-31"
features:
  momentum_lookbacks: [5, 21]
  volatility_window: 10
  volume_zscore_window: 15
labeling:
  horizon_days: 2
  excess_over: cash
model:
  walk_forward:
    train_window_days: 252
    test_window_days: 63
    step_days: 63
  ridge_alpha: 0.5
strategy:
  positions_from: linear
  long_short: false
  top_k: 5
  max_position_per_asset: 0.2
  gross_leverage: 1.5
risk:
  vol_est_window_days: 21
  target_vol_annual: 0.1
  max_drawdown: 0.25
  enable_vol_target: false
costs:
  bps_per_trade: 2.5
output:
  artifacts_dir: out/artifacts
  reports_dir: /abs/reports
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Data --
	if cfg.Data.Source != "synthetic" {
		t.Errorf("Data.Source = %q, want %q", cfg.Data.Source, "synthetic")
	}
	if len(cfg.Data.Fallback) != 0 {
		t.Errorf("Data.Fallback = %v, want empty", cfg.Data.Fallback)
	}
	if len(cfg.Data.Universe) != 2 || cfg.Data.Universe[1] != "MSFT" {
		t.Errorf("Data.Universe = %v, want [AAPL MSFT]", cfg.Data.Universe)
	}

	// -- Features / labels --
	if len(cfg.Features.MomentumLookbacks) != 2 {
		t.Errorf("Features.MomentumLookbacks = %v, want [5 21]", cfg.Features.MomentumLookbacks)
	}
	if cfg.Features.WinsorizeLimit != 0.01 {
		t.Errorf("Features.WinsorizeLimit = %v, want default 0.01", cfg.Features.WinsorizeLimit)
	}
	if cfg.Labeling.HorizonDays != 2 || cfg.Labeling.ExcessOver != "cash" {
		t.Errorf("Labeling = %+v, want {2 cash}", cfg.Labeling)
	}

	// -- Model --
	if cfg.Model.WalkForward.TrainWindowDays != 252 {
		t.Errorf("TrainWindowDays = %d, want 252", cfg.Model.WalkForward.TrainWindowDays)
	}
	if cfg.Model.RidgeAlpha != 0.5 {
		t.Errorf("RidgeAlpha = %v, want 0.5", cfg.Model.RidgeAlpha)
	}

	// -- Strategy / risk / costs --
	if cfg.Strategy.PositionsFrom != "linear" || cfg.Strategy.LongShort || cfg.Strategy.TopK != 5 {
		t.Errorf("Strategy = %+v", cfg.Strategy)
	}
	if cfg.Risk.EnableVolTarget {
		t.Error("Risk.EnableVolTarget = true, want false")
	}
	if !cfg.Risk.EnableDrawdownLimit {
		t.Error("Risk.EnableDrawdownLimit = false, want default true")
	}
	if cfg.Costs.BpsPerTrade != 2.5 {
		t.Errorf("Costs.BpsPerTrade = %v, want 2.5", cfg.Costs.BpsPerTrade)
	}

	// -- Paths --
	wantArtifacts := filepath.Join(filepath.Dir(path), "out", "artifacts")
	if cfg.Output.ArtifactsDir != wantArtifacts {
		t.Errorf("Output.ArtifactsDir = %q, want %q", cfg.Output.ArtifactsDir, wantArtifacts)
	}
	if cfg.Output.ReportsDir != "/abs/reports" {
		t.Errorf("Output.ReportsDir = %q, want %q", cfg.Output.ReportsDir, "/abs/reports")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}

func TestLoadRejectsUnknownEnum(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
strategy:
  positions_from: softmax
labeling:
  excess_over: risk_free
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() accepted unknown positions_from")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %v is not a ValidationError", err)
	}
	msg := err.Error()
	for _, want := range []string{"strategy.positions_from", "softmax", "rank, linear", "labeling.excess_over", "benchmark, cash"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative alpha", func(c *Config) { c.Model.RidgeAlpha = -1 }, "model.ridge_alpha"},
		{"overlapping folds", func(c *Config) { c.Model.WalkForward.StepDays = 10 }, "model.walk_forward.step_days"},
		{"zero leverage", func(c *Config) { c.Strategy.GrossLeverage = 0 }, "strategy.gross_leverage"},
		{"drawdown above one", func(c *Config) { c.Risk.MaxDrawdown = 1.5 }, "risk.max_drawdown"},
		{"negative top k", func(c *Config) { c.Strategy.TopK = -2 }, "strategy.top_k"},
		{"bad fallback", func(c *Config) { c.Data.Fallback = []string{"yfinance"} }, "data.fallback[0]"},
		{"unparseable start", func(c *Config) { c.Data.StartDate = "01/02/2020" }, "data.start_date"},
		{"end before start", func(c *Config) { c.Data.EndDate = "2017-12-31" }, "data.end_date"},
		{"empty synthetic universe", func(c *Config) { c.Data.NAssets = 0 }, "data.n_assets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() returned nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
