package types

import "time"

// BarContext is what a strategy sees at one replay step.
type BarContext struct {
	Time time.Time
	// Current holds the bar of every security that printed at Time.
	Current map[string]Candle
	// History holds each security's bars up to and including Time, oldest
	// first.
	History map[string][]Candle
}

// Bar returns the bar a security printed at this step, if any.
func (c BarContext) Bar(security string) (Candle, bool) {
	candle, ok := c.Current[security]
	return candle, ok
}
