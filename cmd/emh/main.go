package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hk220394/finance-emh/internal/config"
	"github.com/hk220394/finance-emh/internal/data"
	"github.com/hk220394/finance-emh/internal/domain"
	"github.com/hk220394/finance-emh/internal/metrics"
	"github.com/hk220394/finance-emh/internal/pipeline"
	"github.com/hk220394/finance-emh/internal/store"
	"github.com/hk220394/finance-emh/internal/util"
)

const version = "0.1.0"

func defaultConfigPath() string {
	if p := os.Getenv("EMH_CONFIG"); p != "" {
		return p
	}
	return "config/emh.yaml"
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: emh <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run              Run the walk-forward research pipeline\n")
		fmt.Fprintf(os.Stderr, "  make-synthetic   Write a synthetic bar panel into a Parquet store\n")
		fmt.Fprintf(os.Stderr, "  runs             List recorded pipeline runs\n")
		fmt.Fprintf(os.Stderr, "  version          Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "version":
		fmt.Printf("emh %s\n", version)

	case "run":
		runCmd(ctx, os.Args[2:])

	case "make-synthetic":
		makeSyntheticCmd(ctx, os.Args[2:])

	case "runs":
		runsCmd(ctx, os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	return cfg
}

func runCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "path to the YAML config")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run registry: %v", err)
	}
	defer runs.Close()

	res, err := pipeline.Run(ctx, cfg, pipeline.Deps{Runs: runs})
	if err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}

	fmt.Println(res.Metrics.Table())
	fmt.Printf("run %s (source %s, %d folds)\n", res.RunID, res.Source, len(res.Folds))
	fmt.Printf("total return %s, total cost %s, active days %d/%d\n",
		metrics.FormatPct(res.Summary.TotalReturn), metrics.FormatPct(res.Summary.TotalCost),
		res.Summary.ActiveDays, res.Summary.Days)
	fmt.Printf("report: %s\n", res.ReportPath)
	if res.ArtifactsDir != "" {
		fmt.Printf("artifacts: %s\n", res.ArtifactsDir)
	}
}

func makeSyntheticCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("make-synthetic", flag.ExitOnError)
	output := fs.String("output", "data", "Parquet store root to write into")
	start := fs.String("start", "2018-01-01", "first date (YYYY-MM-DD)")
	end := fs.String("end", "2022-12-31", "last date (YYYY-MM-DD)")
	assets := fs.Int("assets", 20, "number of synthetic assets")
	seed := fs.Uint64("seed", 42, "random seed")
	benchmark := fs.String("benchmark", "SPY", "symbol to store the benchmark under")
	fs.Parse(args)

	d := config.DataConfig{StartDate: *start, EndDate: *end}
	from, to, err := d.Range()
	if err != nil {
		log.Fatalf("invalid dates: %v", err)
	}

	md := data.Generate(data.SyntheticOptions{
		Start:     from,
		End:       to,
		NAssets:   *assets,
		Seed:      *seed,
		Benchmark: *benchmark,
	})
	ps := store.NewParquetStore(*output)
	if err := ps.WriteBarsForMarket(append(md.Assets, md.Benchmark...), domain.MarketUS); err != nil {
		log.Fatalf("writing bars: %v", err)
	}
	if ctx.Err() != nil {
		log.Fatalf("interrupted: %v", ctx.Err())
	}
	slog.Info("synthetic panel written",
		"dir", *output,
		"assets", *assets,
		"bars", len(md.Assets),
		"benchmark", *benchmark,
	)
}

func runsCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "path to the YAML config")
	limit := fs.Int("limit", 20, "maximum runs to list (0 for all)")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run registry: %v", err)
	}
	defer runs.Close()

	records, err := runs.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatalf("listing runs: %v", err)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Created", "Status", "Source", "Folds", "Sharpe", "Ann Return", "Max DD"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Status,
			r.DataSource,
			r.Folds,
			metrics.FormatRatio(r.Metrics.Sharpe),
			metrics.FormatPct(r.Metrics.AnnReturn),
			metrics.FormatPct(r.Metrics.MaxDrawdown),
		})
	}
	fmt.Println(t.Render())
}
