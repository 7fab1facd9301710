package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"fifobacktester/types"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var ErrNoData = errors.New("no price data")

// Result is everything a finished run produced.
type Result struct {
	RunID        string
	Securities   []string
	Report       *Report
	Trades       []types.TradeRecord
	ClosedTrades []types.ClosedTradeRecord
	EquityCurve  []types.EquityPoint
	Balances     *DailyBalanceTable
}

type Engine struct {
	db        dataStore
	feed      *DataFeedConfig
	portfolio *PortfolioConfig
	reporting *ReportingConfig
	strategy  strategy
	journal   journal
	progress  io.Writer
}

type Option func(*Engine)

// WithJournal records every finished run in j.
func WithJournal(j journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithProgressWriter sends the replay progress bar to w. Nil silences it.
func WithProgressWriter(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

func NewEngine(db dataStore, feed *DataFeedConfig, portfolio *PortfolioConfig, reporting *ReportingConfig, strat strategy, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		feed:      feed,
		portfolio: portfolio,
		reporting: reporting,
		strategy:  strat,
		progress:  os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run loads the data, replays it through the strategy and analyzes the
// result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"run":        runID,
		"securities": e.feed.securities,
		"interval":   e.feed.interval,
	})

	data, err := e.loadData(ctx)
	if err != nil {
		return nil, err
	}

	broker := NewBroker(data, e.feed, e.portfolio)
	if err := e.strategy.Init(broker); err != nil {
		return nil, fmt.Errorf("init strategy: %w", err)
	}

	logger.Info("backtest started")
	if err := newBacktester(data, e.feed, e.strategy, broker, e.progress).run(); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:        runID,
		Securities:   e.feed.Securities(),
		Trades:       broker.Trades(),
		ClosedTrades: broker.ClosedTrades(),
		EquityCurve:  broker.EquityCurve(),
		Balances:     broker.Balances(),
	}
	result.Report, err = Analyze(result.EquityCurve, result.Balances, e.portfolio.initialCash, result.ClosedTrades, e.reporting)
	if err != nil {
		return nil, fmt.Errorf("analyze run %s: %w", runID, err)
	}
	logger.WithFields(log.Fields{
		"trades":        len(result.Trades),
		"closed_trades": len(result.ClosedTrades),
		"ending_equity": result.Report.EndingCapital.StringFixed(2),
	}).Info("backtest finished")

	if e.reporting.outDir != "" {
		if err := WriteResults(e.reporting.outDir, broker, result.Report); err != nil {
			return nil, err
		}
		logger.WithField("dir", e.reporting.outDir).Debug("results exported")
	}
	if e.journal != nil {
		if err := e.journal.RecordRun(ctx, result); err != nil {
			return nil, fmt.Errorf("journal run %s: %w", runID, err)
		}
	}
	return result, nil
}

func (e *Engine) loadData(ctx context.Context) (types.PriceData, error) {
	data := make(types.PriceData, len(e.feed.securities))
	for _, sec := range e.feed.securities {
		candles, err := e.db.GetCandles(ctx, sec, e.feed.interval, e.feed.start, e.feed.end)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", sec, err)
		}
		log.WithFields(log.Fields{"security": sec, "bars": len(candles)}).Debug("price data loaded")
		data[sec] = &types.Chart{
			Ticker:   sec,
			Candles:  candles,
			Start:    e.feed.start,
			End:      e.feed.end,
			Interval: e.feed.interval,
		}
	}
	if len(data.Timestamps()) == 0 {
		return nil, ErrNoData
	}
	return data, nil
}
