// Package data loads daily market data for an asset universe and its
// benchmark from an ordered chain of sources.
package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/store"
)

var (
	// ErrSourceUnavailable marks a source that cannot serve the request
	// (missing credentials, empty cache, unreachable API). The Loader moves
	// on to the next source.
	ErrSourceUnavailable = errors.New("data: source unavailable")

	// ErrNoSource is returned when every source in the chain was unavailable.
	ErrNoSource = errors.New("data: no source available")
)

// Source loads market data for the configured universe and date range.
type Source interface {
	// Name returns the source identifier used in configuration.
	Name() string
	// Load returns the asset and benchmark bars, or an error wrapping
	// ErrSourceUnavailable.
	Load(ctx context.Context) (*MarketData, error)
}

// MarketData is the raw input to the pipeline.
type MarketData struct {
	Assets    []domain.Bar
	Benchmark []domain.Bar
}

// Symbols returns the distinct asset symbols, sorted.
func (md *MarketData) Symbols() []string {
	set := make(map[string]struct{})
	for _, b := range md.Assets {
		set[b.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// clean drops bars with a non-positive close or negative volume and reports
// whether both series are still non-empty.
func (md *MarketData) clean() bool {
	keep := func(bars []domain.Bar) []domain.Bar {
		out := bars[:0]
		for _, b := range bars {
			if b.Close > 0 && b.Volume >= 0 {
				out = append(out, b)
			}
		}
		return out
	}
	md.Assets = keep(md.Assets)
	md.Benchmark = keep(md.Benchmark)
	return len(md.Assets) > 0 && len(md.Benchmark) > 0
}

// ---------------------------------------------------------------------------
// Loader: ordered fallback chain
// ---------------------------------------------------------------------------

// Outcome is the result of one Attempt.
type Outcome int

const (
	Success Outcome = iota
	SourceUnavailable
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SourceUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

// Attempt records what happened when one source was tried.
type Attempt struct {
	Source  string
	Outcome Outcome
	Err     error
}

// LoadResult is the data served by the first successful source together with
// every attempt made.
type LoadResult struct {
	Data     *MarketData
	Source   string
	Attempts []Attempt
}

// Loader tries its sources in order until one succeeds.
type Loader struct {
	sources []Source
	log     *slog.Logger
}

// NewLoader creates a Loader over sources, tried in the order given.
func NewLoader(log *slog.Logger, sources ...Source) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{sources: sources, log: log.With("component", "data")}
}

// Load returns the first successful source's data. An unavailable source
// (or one returning no usable bars) is recorded and skipped; any other error
// stops the chain and is returned. When every source is unavailable the
// error wraps ErrNoSource.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	res := &LoadResult{}
	for _, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		md, err := src.Load(ctx)
		if err == nil && !md.clean() {
			err = fmt.Errorf("%w: no usable bars", ErrSourceUnavailable)
		}
		switch {
		case err == nil:
			res.Attempts = append(res.Attempts, Attempt{Source: src.Name(), Outcome: Success})
			res.Data, res.Source = md, src.Name()
			l.log.Info("market data loaded", "source", src.Name(),
				"assets", len(md.Symbols()), "bars", len(md.Assets), "benchmark_bars", len(md.Benchmark))
			return res, nil
		case errors.Is(err, ErrSourceUnavailable):
			res.Attempts = append(res.Attempts, Attempt{Source: src.Name(), Outcome: SourceUnavailable, Err: err})
			l.log.Warn("data source unavailable, trying next", "source", src.Name(), "err", err)
		default:
			res.Attempts = append(res.Attempts, Attempt{Source: src.Name(), Outcome: Failed, Err: err})
			return res, fmt.Errorf("loading from %s: %w", src.Name(), err)
		}
	}
	return res, fmt.Errorf("%w (tried %d)", ErrNoSource, len(res.Attempts))
}

// NewSources builds the chain named by cfg.Data.Source followed by
// cfg.Data.Fallback, skipping repeated names.
func NewSources(cfg *config.Config, bars store.BarStore, log *slog.Logger) ([]Source, error) {
	names := append([]string{cfg.Data.Source}, cfg.Data.Fallback...)
	seen := make(map[string]bool, len(names))

	var out []Source
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		src, err := NewSource(name, cfg, bars, log)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// NewSource builds a single named source.
func NewSource(name string, cfg *config.Config, bars store.BarStore, log *slog.Logger) (Source, error) {
	start, end, err := cfg.Data.Range()
	if err != nil {
		return nil, err
	}
	switch name {
	case "parquet":
		return NewParquetSource(bars, cfg.Data.Universe, cfg.Data.Benchmark, start, end), nil
	case "alpaca":
		return NewAlpacaSource(cfg.Alpaca, cfg.Data, start, end, bars, log), nil
	case "synthetic":
		return NewSyntheticSource(SyntheticOptions{
			Start:     start,
			End:       end,
			NAssets:   syntheticAssets(cfg.Data),
			Seed:      cfg.Data.Seed,
			Benchmark: cfg.Data.Benchmark,
		}), nil
	default:
		return nil, config.CheckEnum("data.source", name, config.SourceValues)
	}
}

// syntheticAssets sizes the synthetic universe like the configured one.
func syntheticAssets(d config.DataConfig) int {
	if len(d.Universe) > 0 {
		return len(d.Universe)
	}
	return d.NAssets
}
