package engine

import (
	"testing"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataFeedConfig(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 12, 31)
	tests := []struct {
		name       string
		securities []string
		interval   types.Interval
		start, end time.Time
		settlement string
		wantErr    bool
	}{
		{"valid", []string{"AAPL"}, types.Day, start, end, "", false},
		{"no securities", nil, types.Day, start, end, "", true},
		{"empty security", []string{""}, types.Day, start, end, "", true},
		{"duplicate security", []string{"AAPL", "AAPL"}, types.Day, start, end, "", true},
		{"unknown interval", []string{"AAPL"}, types.Interval("7"), start, end, "", true},
		{"missing start", []string{"AAPL"}, types.Day, time.Time{}, end, "", true},
		{"end before start", []string{"AAPL"}, types.Day, end, start, "", true},
		{"bad settlement", []string{"AAPL"}, types.FiveMinutes, start, end, "25:00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewDataFeedConfig(tt.securities, tt.interval, tt.start, tt.end, tt.settlement)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.securities, cfg.Securities())
		})
	}
}

func TestDataFeedConfig_SettlementTimes(t *testing.T) {
	at := func(dd, h, m int) time.Time { return time.Date(2024, 1, dd, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name       string
		interval   types.Interval
		settlement string
		timestamps []time.Time
		want       map[int]time.Time
	}{
		{
			name:       "daily bars settle on the day's bar",
			interval:   types.Day,
			timestamps: []time.Time{at(2, 9, 30), at(3, 9, 30)},
			want:       map[int]time.Time{2: at(2, 9, 30), 3: at(3, 9, 30)},
		},
		{
			name:       "exact settlement bar",
			interval:   types.FifteenMinutes,
			timestamps: []time.Time{at(2, 14, 45), at(2, 15, 0), at(2, 15, 15)},
			want:       map[int]time.Time{2: at(2, 15, 0)},
		},
		{
			name:       "half day settles on its last bar",
			interval:   types.FifteenMinutes,
			timestamps: []time.Time{at(3, 9, 30), at(3, 11, 30)},
			want:       map[int]time.Time{3: at(3, 11, 30)},
		},
		{
			name:       "clock between bars takes the bar before it",
			interval:   types.FiveMinutes,
			settlement: "15:02",
			timestamps: []time.Time{at(2, 14, 55), at(2, 15, 0), at(2, 15, 5)},
			want:       map[int]time.Time{2: at(2, 15, 0)},
		},
		{
			name:       "every bar after the clock takes the last one",
			interval:   types.FifteenMinutes,
			timestamps: []time.Time{at(4, 15, 15), at(4, 15, 30)},
			want:       map[int]time.Time{4: at(4, 15, 30)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewDataFeedConfig([]string{"ES"}, tt.interval, day(2024, 1, 1), day(2024, 2, 1), tt.settlement)
			require.NoError(t, err)
			got := cfg.settlementTimes(tt.timestamps)
			require.Len(t, got, len(tt.want))
			for dd, ts := range tt.want {
				assert.Equal(t, ts, got[day(2024, 1, dd).UnixNano()], "day %d", dd)
			}
		})
	}
}

func TestNewPortfolioConfig(t *testing.T) {
	tests := []struct {
		name                       string
		cash, slippage, commission string
		wantErr                    bool
	}{
		{"valid", "1000000", "0.00246", "0.0003", false},
		{"zero rates", "1", "0", "0", false},
		{"zero cash", "0", "0", "0", true},
		{"negative slippage", "100", "-0.1", "0", true},
		{"slippage of one", "100", "1", "0", true},
		{"commission above one", "100", "0", "1.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortfolioConfig(d(tt.cash), d(tt.slippage), d(tt.commission))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPortfolioConfig_PricePrecision(t *testing.T) {
	cfg, err := NewPortfolioConfig(decimal.NewFromInt(100), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.precisionFor("AAPL"))

	_, err = cfg.WithPricePrecision("ES", 4)
	require.NoError(t, err)
	_, err = cfg.WithPricePrecision("", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.precisionFor("ES"))
	assert.Equal(t, int32(3), cfg.precisionFor("AAPL"))

	_, err = cfg.WithPricePrecision("ES", -1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
