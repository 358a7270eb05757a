package data

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/store"
	"github.com/hk220394/finance-emh/internal/util"
)

var _ Source = (*AlpacaSource)(nil)

const (
	alpacaBatchSize   = 200 // symbols per GetMultiBars call
	alpacaMaxAttempts = 3
	alpacaBaseDelay   = 2 * time.Second
)

// AlpacaSource fetches adjusted daily bars from the Alpaca market-data API
// and writes them back into the Parquet cache.
type AlpacaSource struct {
	client    *marketdata.Client
	hasCreds  bool
	universe  []string
	benchmark string
	feed      string
	start     time.Time
	end       time.Time
	limiter   *util.RateLimiter
	cache     store.BarStore
	log       *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. cache may be nil.
func NewAlpacaSource(creds config.Alpaca, d config.DataConfig, start, end time.Time, cache store.BarStore, log *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	}
	if creds.DataURL != "" {
		opts.BaseURL = creds.DataURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &AlpacaSource{
		client:    marketdata.NewClient(opts),
		hasCreds:  creds.APIKey != "" && creds.APISecret != "",
		universe:  d.Universe,
		benchmark: d.Benchmark,
		feed:      d.Feed,
		start:     start,
		end:       end,
		limiter:   util.NewRateLimiter(creds.RateLimitPerMin),
		cache:     cache,
		log:       log.With("source", "alpaca"),
	}
}

func (a *AlpacaSource) Name() string { return "alpaca" }

// Load fetches the universe and benchmark in batches. Missing credentials, an
// empty universe, or an API that keeps failing make the source unavailable.
func (a *AlpacaSource) Load(ctx context.Context) (*MarketData, error) {
	if !a.hasCreds {
		return nil, fmt.Errorf("%w: alpaca credentials not configured", ErrSourceUnavailable)
	}
	if len(a.universe) == 0 {
		return nil, fmt.Errorf("%w: alpaca needs an explicit data.universe", ErrSourceUnavailable)
	}

	symbols := requestSymbols(a.universe, a.benchmark)
	var bars []domain.Bar
	for i := 0; i < len(symbols); i += alpacaBatchSize {
		batch := symbols[i:min(i+alpacaBatchSize, len(symbols))]
		got, err := a.fetchBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		bars = append(bars, got...)
		a.log.Debug("batch fetched", "symbols", len(batch), "bars", len(got))
	}

	md := splitBars(bars, a.universe, a.benchmark)

	if a.cache != nil && len(bars) > 0 {
		if err := a.cache.WriteBars(ctx, bars); err != nil {
			a.log.Warn("caching bars failed", "err", err)
		}
	}
	return md, nil
}

// fetchBatch fetches daily bars for multiple symbols in a single API call,
// retried with backoff under the rate limiter.
func (a *AlpacaSource) fetchBatch(ctx context.Context, symbols []string) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, alpacaMaxAttempts, alpacaBaseDelay, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		multiBars, err = a.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Adjustment("all"),
			Start:      a.start,
			End:        a.end.AddDate(0, 0, 1),
			Feed:       marketdata.Feed(a.feed),
		})
		if err != nil {
			a.log.Warn("GetMultiBars failed", "symbols", len(symbols), "err", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:    strings.ToUpper(symbol),
				Timestamp: sessionDate(ab.Timestamp),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    float64(ab.Volume),
			})
		}
	}
	return bars, nil
}

// requestSymbols returns the upper-cased universe followed by the benchmark,
// each symbol once.
func requestSymbols(universe []string, benchmark string) []string {
	seen := make(map[string]bool, len(universe)+1)
	var out []string
	for _, sym := range append(append([]string{}, universe...), benchmark) {
		sym = strings.ToUpper(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// splitBars routes benchmark bars to Benchmark and universe bars to Assets. A
// benchmark symbol that is also in the universe goes to both.
func splitBars(bars []domain.Bar, universe []string, benchmark string) *MarketData {
	benchmark = strings.ToUpper(benchmark)
	inUniverse := false
	for _, sym := range universe {
		if strings.ToUpper(sym) == benchmark {
			inUniverse = true
			break
		}
	}

	md := &MarketData{}
	for _, b := range bars {
		if b.Symbol != benchmark {
			md.Assets = append(md.Assets, b)
			continue
		}
		md.Benchmark = append(md.Benchmark, b)
		if inUniverse {
			md.Assets = append(md.Assets, b)
		}
	}
	return md
}

// sessionDate maps a daily bar timestamp (midnight New York time) to the
// UTC midnight of the same calendar date.
func sessionDate(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
