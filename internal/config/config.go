package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a research pipeline run.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Features FeatureConfig  `yaml:"features"`
	Labeling LabelConfig    `yaml:"labeling"`
	Model    ModelConfig    `yaml:"model"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Costs    CostConfig     `yaml:"costs"`
	Output   Output         `yaml:"output"`
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`

	// Path is the absolute path of the file the config was loaded from.
	Path string `yaml:"-"`
}

// DataConfig selects the market-data source and universe.
type DataConfig struct {
	Source    string   `yaml:"source"`
	Fallback  []string `yaml:"fallback"`
	Universe  []string `yaml:"universe"`
	Benchmark string   `yaml:"benchmark"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	NAssets   int      `yaml:"n_assets"` // synthetic universe size when Universe is empty
	Seed      uint64   `yaml:"seed"`
	Feed      string   `yaml:"feed"`
}

// DateLayout is the format of data.start_date and data.end_date.
const DateLayout = "2006-01-02"

// Range parses StartDate and EndDate as UTC dates.
func (d DataConfig) Range() (start, end time.Time, err error) {
	if start, err = time.Parse(DateLayout, d.StartDate); err != nil {
		return start, end, &ValidationError{Field: "data.start_date", Value: d.StartDate, Reason: "must be YYYY-MM-DD"}
	}
	if end, err = time.Parse(DateLayout, d.EndDate); err != nil {
		return start, end, &ValidationError{Field: "data.end_date", Value: d.EndDate, Reason: "must be YYYY-MM-DD"}
	}
	if end.Before(start) {
		return start, end, &ValidationError{Field: "data.end_date", Value: d.EndDate, Reason: "must not precede start_date"}
	}
	return start, end, nil
}

// FeatureConfig controls factor engineering.
type FeatureConfig struct {
	MomentumLookbacks  []int   `yaml:"momentum_lookbacks"`
	VolatilityWindow   int     `yaml:"volatility_window"`
	VolumeZScoreWindow int     `yaml:"volume_zscore_window"`
	WinsorizeLimit     float64 `yaml:"winsorize_limit"`
}

// LabelConfig controls forward-return label construction.
type LabelConfig struct {
	HorizonDays int    `yaml:"horizon_days"`
	ExcessOver  string `yaml:"excess_over"`
}

// ModelConfig holds walk-forward and estimator parameters.
type ModelConfig struct {
	WalkForward WalkForward `yaml:"walk_forward"`
	RidgeAlpha  float64     `yaml:"ridge_alpha"`
	Workers     int         `yaml:"workers"`
}

// WalkForward sizes are counted in distinct dates, not calendar days.
type WalkForward struct {
	TrainWindowDays int `yaml:"train_window_days"`
	TestWindowDays  int `yaml:"test_window_days"`
	StepDays        int `yaml:"step_days"`
}

// StrategyConfig maps predictions to weights.
type StrategyConfig struct {
	PositionsFrom       string  `yaml:"positions_from"`
	LongShort           bool    `yaml:"long_short"`
	TopK                int     `yaml:"top_k"` // 0 disables the filter
	MaxPositionPerAsset float64 `yaml:"max_position_per_asset"`
	GrossLeverage       float64 `yaml:"gross_leverage"`
}

// RiskConfig configures the volatility target and drawdown breaker.
type RiskConfig struct {
	VolEstWindowDays    int     `yaml:"vol_est_window_days"`
	TargetVolAnnual     float64 `yaml:"target_vol_annual"`
	MaxDrawdown         float64 `yaml:"max_drawdown"`
	EnableVolTarget     bool    `yaml:"enable_vol_target"`
	EnableDrawdownLimit bool    `yaml:"enable_drawdown_limit"`
}

// CostConfig holds the linear transaction-cost model.
type CostConfig struct {
	BpsPerTrade float64 `yaml:"bps_per_trade"`
}

// Output holds report and artifact locations.
type Output struct {
	ArtifactsDir     string `yaml:"artifacts_dir"`
	ReportsDir       string `yaml:"reports_dir"`
	SaveIntermediate bool   `yaml:"save_intermediate"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Recognised enumeration values.
var (
	PositionsFromValues = []string{"rank", "linear"}
	ExcessOverValues    = []string{"benchmark", "cash"}
	SourceValues        = []string{"parquet", "alpaca", "synthetic"}
	LogFormatValues     = []string{"json", "text"}
)

// Default returns the configuration used for any field a YAML file omits.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Source:    "parquet",
			Fallback:  []string{"alpaca", "synthetic"},
			Benchmark: "SPY",
			StartDate: "2018-01-01",
			EndDate:   "2022-12-31",
			NAssets:   20,
			Seed:      42,
			Feed:      "sip",
		},
		Features: FeatureConfig{
			MomentumLookbacks:  []int{5, 10, 21, 63},
			VolatilityWindow:   21,
			VolumeZScoreWindow: 21,
			WinsorizeLimit:     0.01,
		},
		Labeling: LabelConfig{
			HorizonDays: 1,
			ExcessOver:  "benchmark",
		},
		Model: ModelConfig{
			WalkForward: WalkForward{
				TrainWindowDays: 504,
				TestWindowDays:  126,
				StepDays:        126,
			},
			RidgeAlpha: 1.0,
			Workers:    runtime.NumCPU(),
		},
		Strategy: StrategyConfig{
			PositionsFrom:       "rank",
			LongShort:           true,
			MaxPositionPerAsset: 0.05,
			GrossLeverage:       1.0,
		},
		Risk: RiskConfig{
			VolEstWindowDays:    63,
			TargetVolAnnual:     0.15,
			MaxDrawdown:         0.2,
			EnableVolTarget:     true,
			EnableDrawdownLimit: true,
		},
		Costs: CostConfig{BpsPerTrade: 5},
		Output: Output{
			ArtifactsDir:     "artifacts",
			ReportsDir:       "reports",
			SaveIntermediate: true,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "emh.db",
		},
		Alpaca: Alpaca{RateLimitPerMin: 200},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default(),
// applies environment variable overrides, resolves relative paths against
// the file's directory, and validates the result.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", abs, err)
	}
	cfg.Path = abs

	applyEnvOverrides(cfg)
	cfg.resolvePaths(filepath.Dir(abs))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{
		&c.Output.ArtifactsDir,
		&c.Output.ReportsDir,
		&c.Storage.DataDir,
		&c.Storage.SQLitePath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// ValidationError reports a configuration field holding an unusable value.
// Allowed lists the accepted values for enumerations; Reason describes the
// constraint for numeric fields.
type ValidationError struct {
	Field   string
	Value   any
	Allowed []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("config: invalid %s %q (allowed: %s)", e.Field, fmt.Sprint(e.Value), strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("config: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// CheckEnum returns a ValidationError when value is not one of allowed.
func CheckEnum(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return &ValidationError{Field: field, Value: value, Allowed: allowed}
}

func checkRange(field string, value any, ok bool, reason string) error {
	if ok {
		return nil
	}
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// Validate checks every enumeration and numeric constraint and returns all
// violations joined together.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(CheckEnum("data.source", c.Data.Source, SourceValues))
	for i, s := range c.Data.Fallback {
		add(CheckEnum(fmt.Sprintf("data.fallback[%d]", i), s, SourceValues))
	}
	_, _, err := c.Data.Range()
	add(err)
	add(checkRange("data.n_assets", c.Data.NAssets, c.Data.NAssets > 0 || len(c.Data.Universe) > 0, "must be positive when universe is empty"))
	add(CheckEnum("strategy.positions_from", c.Strategy.PositionsFrom, PositionsFromValues))
	add(CheckEnum("labeling.excess_over", c.Labeling.ExcessOver, ExcessOverValues))
	add(CheckEnum("logging.format", strings.ToLower(c.Logging.Format), LogFormatValues))

	for i, lb := range c.Features.MomentumLookbacks {
		add(checkRange(fmt.Sprintf("features.momentum_lookbacks[%d]", i), lb, lb > 0, "must be positive"))
	}
	add(checkRange("features.volatility_window", c.Features.VolatilityWindow, c.Features.VolatilityWindow > 1, "must be greater than 1"))
	add(checkRange("features.volume_zscore_window", c.Features.VolumeZScoreWindow, c.Features.VolumeZScoreWindow > 0, "must be positive"))
	add(checkRange("features.winsorize_limit", c.Features.WinsorizeLimit, c.Features.WinsorizeLimit >= 0 && c.Features.WinsorizeLimit < 0.5, "must be in [0, 0.5)"))
	add(checkRange("labeling.horizon_days", c.Labeling.HorizonDays, c.Labeling.HorizonDays > 0, "must be positive"))

	wf := c.Model.WalkForward
	add(checkRange("model.walk_forward.train_window_days", wf.TrainWindowDays, wf.TrainWindowDays > 0, "must be positive"))
	add(checkRange("model.walk_forward.test_window_days", wf.TestWindowDays, wf.TestWindowDays > 0, "must be positive"))
	add(checkRange("model.walk_forward.step_days", wf.StepDays, wf.StepDays >= wf.TestWindowDays, "must be at least test_window_days"))
	add(checkRange("model.ridge_alpha", c.Model.RidgeAlpha, c.Model.RidgeAlpha >= 0, "must be non-negative"))

	add(checkRange("strategy.top_k", c.Strategy.TopK, c.Strategy.TopK >= 0, "must be non-negative"))
	add(checkRange("strategy.max_position_per_asset", c.Strategy.MaxPositionPerAsset, c.Strategy.MaxPositionPerAsset > 0, "must be positive"))
	add(checkRange("strategy.gross_leverage", c.Strategy.GrossLeverage, c.Strategy.GrossLeverage > 0, "must be positive"))

	add(checkRange("risk.vol_est_window_days", c.Risk.VolEstWindowDays, c.Risk.VolEstWindowDays > 1, "must be greater than 1"))
	add(checkRange("risk.target_vol_annual", c.Risk.TargetVolAnnual, c.Risk.TargetVolAnnual > 0, "must be positive"))
	add(checkRange("risk.max_drawdown", c.Risk.MaxDrawdown, c.Risk.MaxDrawdown > 0 && c.Risk.MaxDrawdown <= 1, "must be in (0, 1]"))
	add(checkRange("costs.bps_per_trade", c.Costs.BpsPerTrade, c.Costs.BpsPerTrade >= 0, "must be non-negative"))

	return errors.Join(errs...)
}
