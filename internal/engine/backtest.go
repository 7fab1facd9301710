package engine

import (
	"fmt"
	"io"
	"time"

	"fifobacktester/types"

	"github.com/schollz/progressbar/v3"
)

// backtester replays the bars of every security in timestamp order through
// the strategy and settles the broker at the end of each trading day.
type backtester struct {
	feed     *DataFeedConfig
	data     types.PriceData
	strategy strategy
	broker   *Broker
	progress io.Writer

	// index of the next unseen bar, per security
	feedIndex map[string]int
	// bar that settles each trading day
	settle map[int64]time.Time
}

func newBacktester(data types.PriceData, feed *DataFeedConfig, strat strategy, broker *Broker, progress io.Writer) *backtester {
	feedIndex := make(map[string]int, len(feed.securities))
	for _, sec := range feed.securities {
		feedIndex[sec] = 0
	}
	if progress == nil {
		progress = io.Discard
	}
	return &backtester{
		feed:      feed,
		data:      data,
		strategy:  strat,
		broker:    broker,
		progress:  progress,
		feedIndex: feedIndex,
		settle:    feed.settlementTimes(data.Timestamps()),
	}
}

func (b *backtester) run() error {
	steps := b.replayTimes()
	bar := initProgressBar(len(steps), b.progress)
	defer bar.Finish()

	for _, ts := range steps {
		b.broker.SetTime(ts)
		ctx := b.buildContext(ts)
		if err := b.strategy.OnCandle(ctx); err != nil {
			return fmt.Errorf("strategy at %s: %w", ts.Format(time.RFC3339), err)
		}
		if b.isSettlement(ts) {
			b.broker.MarkToMarket(types.DateOf(ts))
		}
		bar.Add(1)
	}
	return nil
}

func (b *backtester) isSettlement(ts time.Time) bool {
	s, ok := b.settle[types.DateOf(ts).UnixNano()]
	return ok && s.Equal(ts)
}

// replayTimes is every bar timestamp whose trading day lies inside the
// broker's horizon.
func (b *backtester) replayTimes() []time.Time {
	first := types.DateOf(b.feed.start)
	last := types.DateOf(b.feed.end)
	var out []time.Time
	for _, ts := range b.data.Timestamps() {
		d := types.DateOf(ts)
		if d.Before(first) || d.After(last) {
			continue
		}
		out = append(out, ts)
	}
	return out
}

func (b *backtester) buildContext(ts time.Time) types.BarContext {
	ctx := types.BarContext{
		Time:    ts,
		Current: make(map[string]types.Candle),
		History: make(map[string][]types.Candle),
	}
	for _, sec := range b.feed.securities {
		chart, ok := b.data[sec]
		if !ok || chart == nil {
			continue
		}
		next := advanceFeedIndex(chart.Candles, b.feedIndex[sec], ts)
		b.feedIndex[sec] = next
		if next == 0 {
			continue
		}
		ctx.History[sec] = chart.Candles[:next]
		if latest := chart.Candles[next-1]; latest.Timestamp.Equal(ts) {
			ctx.Current[sec] = latest
		}
	}
	return ctx
}

// advanceFeedIndex moves past every bar stamped at or before curTime. Index
// only goes one way.
func advanceFeedIndex(candles []types.Candle, index int, curTime time.Time) int {
	for index < len(candles) && !candles[index].Timestamp.After(curTime) {
		index++
	}
	return index
}

func initProgressBar(maxTicks int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(maxTicks,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Backtesting in progress..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
