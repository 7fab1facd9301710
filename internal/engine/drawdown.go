package engine

import (
	"time"

	"fifobacktester/types"
)

const (
	TradingDaysPerYear  = 252
	TradingDaysPerMonth = 20
	TradingDaysPerWeek  = 5
)

// Drawdown describes the deepest peak-to-trough decline of an equity curve.
// Recovery is nil while the curve has not climbed back above the peak.
type Drawdown struct {
	MaxDrawdown float64
	Peak        float64
	Trough      float64
	PeakIndex   int
	TroughIndex int
	Start       time.Time
	End         time.Time
	Recovery    *time.Time
}

// Duration is the time from the peak to the trough.
func (d Drawdown) Duration() time.Duration {
	return d.End.Sub(d.Start)
}

func (d Drawdown) Recovered() bool {
	return d.Recovery != nil
}

// maxDrawdown compares each point only against the running peak before it,
// in a single pass. Ties keep the earliest trough.
func maxDrawdown(curve []types.EquityPoint) Drawdown {
	values := equityValues(curve)
	if len(values) == 0 {
		return Drawdown{}
	}

	peak := values[0]
	worst := 0.0
	troughIdx := 0
	peakAtTrough := peak
	for i, v := range values {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < worst {
			worst = dd
			troughIdx = i
			peakAtTrough = peak
		}
	}

	if worst == 0 {
		return Drawdown{
			Peak:   values[0],
			Trough: values[0],
			Start:  curve[0].Date,
			End:    curve[0].Date,
		}
	}

	peakIdx := 0
	for i, v := range values {
		if v == peakAtTrough {
			peakIdx = i
			break
		}
	}

	dd := Drawdown{
		MaxDrawdown: -worst,
		Peak:        peakAtTrough,
		Trough:      values[troughIdx],
		PeakIndex:   peakIdx,
		TroughIndex: troughIdx,
		Start:       curve[peakIdx].Date,
		End:         curve[troughIdx].Date,
	}
	for i := troughIdx + 1; i < len(values); i++ {
		if values[i] > peakAtTrough {
			recovery := curve[i].Date
			dd.Recovery = &recovery
			break
		}
	}
	return dd
}

// windowDrawdown is the largest 1 - v/runningMax over values.
func windowDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		if dd := 1 - v/peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// rollingMaxDrawdown returns the max drawdown of every full window of the
// given length; windows without enough history are dropped.
func rollingMaxDrawdown(curve []types.EquityPoint, window int) []float64 {
	values := equityValues(curve)
	if window <= 0 || len(values) < window {
		return nil
	}
	out := make([]float64, 0, len(values)-window+1)
	for end := window; end <= len(values); end++ {
		out = append(out, windowDrawdown(values[end-window:end]))
	}
	return out
}

func equityValues(curve []types.EquityPoint) []float64 {
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Equity.InexactFloat64()
	}
	return values
}
