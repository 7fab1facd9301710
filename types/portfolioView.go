package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyBalanceRow is the end-of-day holding snapshot of one security.
// Side is empty while the security is flat.
type DailyBalanceRow struct {
	Date        time.Time
	Price       decimal.Decimal
	Holdings    decimal.Decimal
	Side        Side
	Cost        decimal.Decimal
	MarketValue decimal.Decimal
}

// EquityPoint is one value of the equity curve.
type EquityPoint struct {
	Date          time.Time
	Cash          decimal.Decimal
	HoldingsValue decimal.Decimal
	Equity        decimal.Decimal
}

// ValuePoint is one dated value of a market-value series.
type ValuePoint struct {
	Date  time.Time
	Value decimal.Decimal
}
