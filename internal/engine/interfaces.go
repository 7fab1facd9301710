package engine

import (
	"context"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
)

type dataStore interface {
	GetCandles(ctx context.Context, ticker string, interval types.Interval, start, end time.Time) ([]types.Candle, error)
}

type strategy interface {
	Init(api PortfolioApi) error
	OnCandle(ctx types.BarContext) error
}

type journal interface {
	RecordRun(ctx context.Context, result *Result) error
}

// PortfolioApi is the part of the broker a strategy trades through.
type PortfolioApi interface {
	Now() time.Time
	SubmitByQuantity(security string, orderPrice, quantity decimal.Decimal, side types.Side) error
	SubmitByPercent(security string, orderPrice, percent decimal.Decimal, side types.Side) error
	Cash() decimal.Decimal
	HeldQuantity(security string) decimal.Decimal
	Direction(security string) (types.Side, bool)
	Lots(security string) []types.Lot
	OpenPositionCount() int
	SecurityLatestDrawdown(security string, n int) (float64, bool)
	LatestDrawdown(n int) (float64, bool)
}

var _ PortfolioApi = (*Broker)(nil)
