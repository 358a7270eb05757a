package data

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/store"
)

var _ Source = (*ParquetSource)(nil)

// ParquetSource serves bars from the local Parquet cache.
type ParquetSource struct {
	store     store.BarStore
	universe  []string
	benchmark string
	start     time.Time
	end       time.Time
}

// NewParquetSource creates a ParquetSource. An empty universe means every
// cached symbol other than the benchmark.
func NewParquetSource(s store.BarStore, universe []string, benchmark string, start, end time.Time) *ParquetSource {
	return &ParquetSource{store: s, universe: universe, benchmark: benchmark, start: start, end: end}
}

func (p *ParquetSource) Name() string { return "parquet" }

// Load reads the universe and benchmark. The source is unavailable when the
// benchmark or every universe symbol is missing from the cache.
func (p *ParquetSource) Load(ctx context.Context) (*MarketData, error) {
	if p.store == nil {
		return nil, fmt.Errorf("%w: no bar store", ErrSourceUnavailable)
	}
	universe := p.universe
	if len(universe) == 0 {
		cached, err := p.store.ListSymbols(ctx, domain.MarketUS)
		if err != nil {
			return nil, fmt.Errorf("listing cached symbols: %w", err)
		}
		universe = slices.DeleteFunc(cached, func(s string) bool { return s == p.benchmark })
	}

	md := &MarketData{}
	for _, sym := range universe {
		bars, err := p.store.ReadBars(ctx, sym, domain.MarketUS, p.start, p.end)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", sym, err)
		}
		md.Assets = append(md.Assets, bars...)
	}
	bench, err := p.store.ReadBars(ctx, p.benchmark, domain.MarketUS, p.start, p.end)
	if err != nil {
		return nil, fmt.Errorf("reading benchmark %s: %w", p.benchmark, err)
	}
	md.Benchmark = bench

	if len(md.Assets) == 0 || len(md.Benchmark) == 0 {
		return nil, fmt.Errorf("%w: cache has %d asset bars and %d benchmark bars",
			ErrSourceUnavailable, len(md.Assets), len(md.Benchmark))
	}
	return md, nil
}
