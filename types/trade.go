package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one executed fill. Quantity is always unsigned.
type TradeRecord struct {
	Time      time.Time
	Security  string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      Side
	Direction Direction
}

// ClosedTradeRecord aggregates a single close execution, however many lots it
// consumed.
type ClosedTradeRecord struct {
	CloseTime time.Time
	Security  string
	PnL       decimal.Decimal
	Cost      decimal.Decimal
	Return    decimal.Decimal
	Side      Side
}

// Lot is one open tranche of a position.
type Lot struct {
	Security   string
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	Side       Side
	Cost       decimal.Decimal
}
