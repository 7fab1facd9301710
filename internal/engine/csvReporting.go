package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fifobacktester/types"

	"github.com/gocarina/gocsv"
)

type tradeRow struct {
	Time      string `csv:"datetime"`
	Security  string `csv:"security"`
	Price     string `csv:"price"`
	Quantity  string `csv:"qty"`
	Side      string `csv:"long_short"`
	Direction string `csv:"direction"`
}

type closedTradeRow struct {
	CloseTime string `csv:"close_date"`
	Security  string `csv:"security"`
	PnL       string `csv:"trade_pl"`
	Cost      string `csv:"cost"`
	Return    string `csv:"returns"`
	Side      string `csv:"trade_type"`
}

type balanceRow struct {
	Date        string `csv:"date"`
	Security    string `csv:"security"`
	Price       string `csv:"price"`
	Holdings    string `csv:"holds"`
	Side        string `csv:"long_short"`
	Cost        string `csv:"cost"`
	MarketValue string `csv:"hold_value"`
}

type equityRow struct {
	Date          string `csv:"date"`
	Cash          string `csv:"cash"`
	HoldingsValue string `csv:"hold_value"`
	Equity        string `csv:"equity"`
}

type metricRow struct {
	Name  string `csv:"metric"`
	Value string `csv:"value"`
}

// WriteResults exports the run's trade log, closed trades, daily balances,
// equity curve and report as CSV files in dir.
func WriteResults(dir string, b *Broker, report *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"trades.csv", func(w io.Writer) error { return writeTradesCSV(w, b.Trades()) }},
		{"closed_trades.csv", func(w io.Writer) error { return writeClosedTradesCSV(w, b.ClosedTrades()) }},
		{"daily_balance.csv", func(w io.Writer) error { return writeDailyBalanceCSV(w, b.Balances()) }},
		{"equity_curve.csv", func(w io.Writer) error { return writeEquityCSV(w, b.EquityCurve()) }},
		{"report.csv", func(w io.Writer) error { return writeReportCSV(w, report) }},
	}
	for _, f := range files {
		if err := writeCSVFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return writeAndClose(f, path, write)
}

// writeAndClose reports a failed close once the write itself succeeded, since
// buffered data may not have reached the disk.
func writeAndClose(wc io.WriteCloser, path string, write func(io.Writer) error) error {
	if err := write(wc); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func writeTradesCSV(w io.Writer, trades []types.TradeRecord) error {
	rows := make([]*tradeRow, 0, len(trades))
	for _, tr := range trades {
		rows = append(rows, &tradeRow{
			Time:      tr.Time.Format(time.RFC3339),
			Security:  tr.Security,
			Price:     tr.Price.String(),
			Quantity:  tr.Quantity.String(),
			Side:      string(tr.Side),
			Direction: string(tr.Direction),
		})
	}
	return gocsv.Marshal(rows, w)
}

func writeClosedTradesCSV(w io.Writer, closed []types.ClosedTradeRecord) error {
	rows := make([]*closedTradeRow, 0, len(closed))
	for _, ct := range closed {
		rows = append(rows, &closedTradeRow{
			CloseTime: ct.CloseTime.Format(time.RFC3339),
			Security:  ct.Security,
			PnL:       ct.PnL.String(),
			Cost:      ct.Cost.String(),
			Return:    ct.Return.StringFixed(6),
			Side:      string(ct.Side),
		})
	}
	return gocsv.Marshal(rows, w)
}

func writeDailyBalanceCSV(w io.Writer, table *DailyBalanceTable) error {
	var rows []*balanceRow
	for _, sec := range table.Securities() {
		for _, r := range table.Rows(sec) {
			rows = append(rows, &balanceRow{
				Date:        r.Date.Format(time.DateOnly),
				Security:    sec,
				Price:       r.Price.String(),
				Holdings:    r.Holdings.String(),
				Side:        string(r.Side),
				Cost:        r.Cost.String(),
				MarketValue: r.MarketValue.String(),
			})
		}
	}
	return gocsv.Marshal(rows, w)
}

func writeEquityCSV(w io.Writer, curve []types.EquityPoint) error {
	rows := make([]*equityRow, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, &equityRow{
			Date:          p.Date.Format(time.DateOnly),
			Cash:          p.Cash.String(),
			HoldingsValue: p.HoldingsValue.String(),
			Equity:        p.Equity.String(),
		})
	}
	return gocsv.Marshal(rows, w)
}

func writeReportCSV(w io.Writer, report *Report) error {
	metrics := report.Metrics()
	rows := make([]*metricRow, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, &metricRow{Name: m.Name, Value: m.Value})
	}
	return gocsv.Marshal(rows, w)
}
