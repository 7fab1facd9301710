package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fifobacktester/types"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrBadRow = errors.New("malformed csv row")

var csvTimeLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"2006-01-02 15:04",
	time.RFC3339,
}

type csvBar struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume"`
}

// CSVSource reads one <TICKER>.csv per security from a directory. Only the
// date and close columns are required.
type CSVSource struct {
	dir string
	loc *time.Location
}

func NewCSVSource(dir string) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv source: %s is not a directory", dir)
	}
	return &CSVSource{dir: dir, loc: time.UTC}, nil
}

// GetCandles loads the ticker's bars whose trading day lies in [start, end].
// A missing close repeats the previous one; rows before the first close are
// dropped.
func (s *CSVSource) GetCandles(ctx context.Context, ticker string, interval types.Interval, start, end time.Time) ([]types.Candle, error) {
	path := filepath.Join(s.dir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ticker %s %w", ticker, ErrAssetNotFound)
		}
		return nil, err
	}
	defer f.Close()

	var rows []*csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	candles, err := s.convert(rows, ticker, interval)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	candles = filterRange(candles, start, end)
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	log.WithFields(log.Fields{"ticker": ticker, "path": path, "bars": len(candles)}).Debug("csv bars loaded")
	return candles, nil
}

func (s *CSVSource) convert(rows []*csvBar, ticker string, interval types.Interval) ([]types.Candle, error) {
	candles := make([]types.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTime(row.Date, s.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadRow, i+2, err)
		}
		c := types.Candle{Ticker: ticker, Interval: interval, Timestamp: ts}
		if c.Close, err = parseDecimal(row.Close); err != nil {
			return nil, fmt.Errorf("%w: line %d close: %v", ErrBadRow, i+2, err)
		}
		if c.Open, err = parseDecimal(row.Open); err != nil {
			return nil, fmt.Errorf("%w: line %d open: %v", ErrBadRow, i+2, err)
		}
		if c.High, err = parseDecimal(row.High); err != nil {
			return nil, fmt.Errorf("%w: line %d high: %v", ErrBadRow, i+2, err)
		}
		if c.Low, err = parseDecimal(row.Low); err != nil {
			return nil, fmt.Errorf("%w: line %d low: %v", ErrBadRow, i+2, err)
		}
		if c.Volume, err = parseDecimal(row.Volume); err != nil {
			return nil, fmt.Errorf("%w: line %d volume: %v", ErrBadRow, i+2, err)
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return forwardFill(candles), nil
}

// forwardFill repeats the last known close into bars that have none and fills
// missing open, high and low from the close.
func forwardFill(candles []types.Candle) []types.Candle {
	out := candles[:0]
	last := decimal.Zero
	for _, c := range candles {
		if c.Close.IsZero() {
			if last.IsZero() {
				continue
			}
			c.Close = last
		}
		last = c.Close
		if c.Open.IsZero() {
			c.Open = c.Close
		}
		if c.High.IsZero() {
			c.High = decimal.Max(c.Open, c.Close)
		}
		if c.Low.IsZero() {
			c.Low = decimal.Min(c.Open, c.Close)
		}
		out = append(out, c)
	}
	return out
}

func filterRange(candles []types.Candle, start, end time.Time) []types.Candle {
	first := types.DateOf(start)
	last := types.DateOf(end)
	out := candles[:0]
	for _, c := range candles {
		d := types.DateOf(c.Timestamp)
		if d.Before(first) || d.After(last) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// parseDecimal treats an empty cell as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
