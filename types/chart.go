package types

import (
	"sort"
	"time"
)

// Chart is the time-indexed price table of one security, oldest bar first.
type Chart struct {
	Ticker   string    `json:"ticker"`
	Candles  []Candle  `json:"candles"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Interval Interval  `json:"interval"`
}

// PriceData maps a security to its chart.
type PriceData map[string]*Chart

// Timestamps returns the sorted union of every bar timestamp in the data.
func (p PriceData) Timestamps() []time.Time {
	seen := make(map[int64]time.Time)
	for _, chart := range p {
		for _, c := range chart.Candles {
			seen[c.Timestamp.UnixNano()] = c.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sortTimes(out)
	return out
}

// Dates returns the sorted distinct calendar dates that carry at least one
// bar, as DateOf values.
func (p PriceData) Dates() []time.Time {
	seen := make(map[int64]time.Time)
	for _, ts := range p.Timestamps() {
		d := DateOf(ts)
		seen[d.UnixNano()] = d
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sortTimes(out)
	return out
}

// DateOf returns the calendar day of ts, read in ts's own location, as UTC
// midnight. Days from different locations compare by their civil date.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
