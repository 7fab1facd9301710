package engine

import (
	"fifobacktester/types"
)

// tradeLog is append-only. Readers get copies.
type tradeLog struct {
	trades []types.TradeRecord
	closed []types.ClosedTradeRecord
}

func (l *tradeLog) recordTrade(tr types.TradeRecord) {
	l.trades = append(l.trades, tr)
}

func (l *tradeLog) recordClose(ct types.ClosedTradeRecord) {
	l.closed = append(l.closed, ct)
}

func (l *tradeLog) allTrades() []types.TradeRecord {
	return append([]types.TradeRecord(nil), l.trades...)
}

func (l *tradeLog) closedTrades() []types.ClosedTradeRecord {
	return append([]types.ClosedTradeRecord(nil), l.closed...)
}
