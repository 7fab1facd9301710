package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"fifobacktester/internal/config"
	"fifobacktester/internal/engine"
	"fifobacktester/internal/journal"
	"fifobacktester/internal/repository"
	"fifobacktester/strategies/donchian"
	"fifobacktester/types"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type dataSource interface {
	GetCandles(ctx context.Context, ticker string, interval types.Interval, start, end time.Time) ([]types.Candle, error)
}

var rootCmd = &cobra.Command{
	Use:          "backtester",
	Short:        "Replay price history through a strategy and report its performance",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest from a YAML config",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		outDir, _ := cmd.Flags().GetString("out")
		journalPath, _ := cmd.Flags().GetString("journal")
		quiet, _ := cmd.Flags().GetBool("quiet")

		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		if outDir != "" {
			cfg.Reporting.OutDir = outDir
		}
		if journalPath != "" {
			cfg.Journal.Path = journalPath
		}
		if err := cfg.ConfigureLogging(); err != nil {
			return err
		}

		var progress io.Writer = os.Stderr
		if quiet {
			progress = io.Discard
		}
		return runBacktest(cmd.Context(), cfg, cmd.OutOrStdout(), progress)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show journaled runs, or the metrics of one run",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("journal")
		runID, _ := cmd.Flags().GetString("run")

		j, err := journal.NewSQLiteJournal(path)
		if err != nil {
			return err
		}
		defer j.Close()

		if runID == "" {
			return listRuns(cmd.Context(), j, cmd.OutOrStdout())
		}
		metrics, err := j.Metrics(cmd.Context(), runID)
		if err != nil {
			return err
		}
		engine.RenderMetrics(cmd.OutOrStdout(), metrics)
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("config", "c", "backtest.yaml", "path to the backtest config")
	runCmd.Flags().String("out", "", "directory for csv exports, overrides reporting.out_dir")
	runCmd.Flags().String("journal", "", "sqlite journal file, overrides journal.path")
	runCmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")

	reportCmd.Flags().String("journal", "backtests.db", "sqlite journal file")
	reportCmd.Flags().String("run", "", "run id to show, lists every run when empty")

	rootCmd.AddCommand(runCmd, reportCmd)
}

func runBacktest(ctx context.Context, cfg *config.Config, out, progress io.Writer) error {
	feed, err := cfg.FeedConfig()
	if err != nil {
		return err
	}
	portfolio, err := cfg.PortfolioConfig()
	if err != nil {
		return err
	}

	source, closeSource, err := newDataSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	opts := []engine.Option{engine.WithProgressWriter(progress)}
	if cfg.Journal.Path != "" {
		j, err := journal.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, engine.WithJournal(j))
	}

	strat, err := newStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	result, err := engine.NewEngine(source, feed, portfolio, cfg.ReportingConfig(), strat, opts...).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s\n", result.RunID)
	result.Report.Render(out)
	return nil
}

func newDataSource(ctx context.Context, cfg *config.Config) (dataSource, func(), error) {
	switch cfg.Data.Source {
	case config.SourcePostgres:
		db, err := repository.NewDatabase(ctx, cfg.Data.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to candle database: %w", err)
		}
		return db, db.Close, nil
	case config.SourceCSV:
		src, err := repository.NewCSVSource(cfg.Data.CSVDir)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
}

func newStrategy(cfg config.StrategyConfig) (*donchian.Strategy, error) {
	if cfg.Name != "donchian" {
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
	return donchian.NewStrategy(donchian.Params{
		EntryPeriod:   cfg.EntryPeriod,
		ExitPeriod:    cfg.ExitPeriod,
		ATRPeriod:     cfg.ATRPeriod,
		ATRMultiplier: cfg.ATRMultiplier,
		Allocation:    cfg.Allocation,
		AllowShort:    cfg.AllowShort,
	}), nil
}

func listRuns(ctx context.Context, j *journal.SQLiteJournal, out io.Writer) error {
	runs, err := j.ListRuns(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Run", "Created", "Securities", "Start", "End", "Ending Capital", "Trades"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.CreatedAt.Format(time.DateTime),
			r.Securities,
			r.StartDate,
			r.EndDate,
			r.EndingCapital,
			strconv.Itoa(r.TotalTrades),
		})
	}
	table.Render()
	return nil
}

func main() {
	// a missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
