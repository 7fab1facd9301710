package engine

import (
	"errors"
	"fmt"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrOrderRejected        = errors.New("order rejected")
	ErrReversalNotAllowed   = fmt.Errorf("%w: position open in the opposite direction", ErrOrderRejected)
	ErrInsufficientHoldings = fmt.Errorf("%w: not enough holdings to close", ErrOrderRejected)
	ErrInsufficientCash     = fmt.Errorf("%w: not enough cash to open", ErrOrderRejected)
	ErrZeroQuantity         = fmt.Errorf("%w: order sizes to zero units", ErrOrderRejected)
)

// Broker validates and executes orders for one backtest run. It is the only
// writer of the run's cash, lots, trade log and daily balances, and is not
// safe for concurrent use.
type Broker struct {
	portfolio *PortfolioConfig

	cash     *cashAccount
	ledger   *positionLedger
	log      *tradeLog
	balances *DailyBalanceTable

	// cash balance recorded by mark-to-market, per horizon date
	cashAt []decimal.Decimal
	marked []bool

	now time.Time
}

// NewBroker builds the ledger state of a run. The horizon is every date of
// data between the feed's start and end.
func NewBroker(data types.PriceData, feed *DataFeedConfig, portfolio *PortfolioConfig) *Broker {
	dates := horizonDates(data, feed)
	return &Broker{
		portfolio: portfolio,
		cash:      newCashAccount(portfolio),
		ledger:    newPositionLedger(feed.securities),
		log:       &tradeLog{},
		balances:  NewDailyBalanceTable(data, dates, feed),
		cashAt:    make([]decimal.Decimal, len(dates)),
		marked:    make([]bool, len(dates)),
	}
}

func horizonDates(data types.PriceData, feed *DataFeedConfig) []time.Time {
	first := types.DateOf(feed.start)
	last := types.DateOf(feed.end)
	var dates []time.Time
	for _, d := range data.Dates() {
		if d.Before(first) || d.After(last) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// SetTime moves the broker clock. Fills are stamped with it.
func (b *Broker) SetTime(t time.Time) {
	b.now = t
}

func (b *Broker) Now() time.Time {
	return b.now
}

// SubmitByQuantity places an order for quantity units at orderPrice before
// slippage. A positive quantity opens, a negative one closes. A nil error
// means the order filled in full; a rejection wraps ErrOrderRejected and
// leaves every piece of state untouched.
func (b *Broker) SubmitByQuantity(security string, orderPrice, quantity decimal.Decimal, side types.Side) error {
	b.mustBeValidOrder(security, orderPrice, side)
	if quantity.IsZero() {
		panic(fmt.Sprintf("engine: zero quantity order for %s", security))
	}
	direction := types.DirectionFromQuantity(quantity.Sign())
	price := b.cash.executionPrice(orderPrice, direction, side, b.portfolio.precisionFor(security))
	return b.execute(security, price, quantity, side, direction)
}

// SubmitByPercent sizes an order from a fraction in [-1, 1]. Positive
// percents open using that fraction of cash net of commission; negative
// percents close floor(|percent| x held) units.
func (b *Broker) SubmitByPercent(security string, orderPrice, percent decimal.Decimal, side types.Side) error {
	b.mustBeValidOrder(security, orderPrice, side)
	if percent.IsZero() || percent.Abs().GreaterThan(one) {
		panic(fmt.Sprintf("engine: percent must be non-zero and within [-1, 1], got %s", percent))
	}
	direction := types.DirectionFromQuantity(percent.Sign())
	price := b.cash.executionPrice(orderPrice, direction, side, b.portfolio.precisionFor(security))

	var quantity decimal.Decimal
	if direction == types.DirectionOpen {
		quantity = b.cash.affordable(price, percent)
	} else {
		quantity = b.ledger.quantity(security).Mul(percent.Abs()).Floor().Neg()
	}
	if quantity.IsZero() {
		// a reversal outranks the size of the order
		reason := ErrZeroQuantity
		if err := b.checkReversal(security, side); err != nil {
			reason = err
		}
		b.reject(security, price, quantity, side, direction, reason)
		return fmt.Errorf("%s %s %s at %s: %w", direction, side, security, price, reason)
	}
	return b.execute(security, price, quantity, side, direction)
}

func (b *Broker) mustBeValidOrder(security string, orderPrice decimal.Decimal, side types.Side) {
	if !side.Valid() {
		panic(fmt.Sprintf("engine: unknown side %q", side))
	}
	if !b.ledger.has(security) {
		panic(fmt.Sprintf("engine: unknown security %q", security))
	}
	if !orderPrice.IsPositive() {
		panic(fmt.Sprintf("engine: order price for %s must be positive, got %s", security, orderPrice))
	}
}

// execute runs an order whose price already carries slippage.
func (b *Broker) execute(security string, price, quantity decimal.Decimal, side types.Side, direction types.Direction) error {
	if err := b.validate(security, price, quantity, side, direction); err != nil {
		b.reject(security, price, quantity, side, direction, err)
		return fmt.Errorf("%s %s %s %s at %s: %w", direction, side, quantity.Abs(), security, price, err)
	}

	qty := quantity.Abs()
	switch direction {
	case types.DirectionOpen:
		b.ledger.open(security, price, qty, side)
		b.cash.debit(b.cash.openCost(price, qty))
	case types.DirectionClose:
		res := b.ledger.close(security, price, qty, side)
		b.cash.debit(b.cash.closeCommission(price, qty))
		b.cash.credit(res.pnl.Add(res.cost))

		ret := decimal.Zero
		if !res.cost.IsZero() {
			ret = res.pnl.Div(res.cost)
		}
		b.log.recordClose(types.ClosedTradeRecord{
			CloseTime: b.now,
			Security:  security,
			PnL:       res.pnl,
			Cost:      res.cost,
			Return:    ret,
			Side:      side,
		})
	}

	b.log.recordTrade(types.TradeRecord{
		Time:      b.now,
		Security:  security,
		Price:     price,
		Quantity:  qty,
		Side:      side,
		Direction: direction,
	})
	return nil
}

// checkReversal rejects any order whose side differs from an open position.
func (b *Broker) checkReversal(security string, side types.Side) error {
	if b.ledger.quantity(security).IsZero() {
		return nil
	}
	if cur, _ := b.ledger.side(security); cur != side {
		return ErrReversalNotAllowed
	}
	return nil
}

func (b *Broker) validate(security string, price, quantity decimal.Decimal, side types.Side, direction types.Direction) error {
	if err := b.checkReversal(security, side); err != nil {
		return err
	}
	held := b.ledger.quantity(security)
	if direction == types.DirectionClose && held.LessThan(quantity.Abs()) {
		return ErrInsufficientHoldings
	}
	if direction == types.DirectionOpen && b.cash.balance.LessThan(b.cash.openCost(price, quantity)) {
		return ErrInsufficientCash
	}
	return nil
}

func (b *Broker) reject(security string, price, quantity decimal.Decimal, side types.Side, direction types.Direction, reason error) {
	log.WithFields(log.Fields{
		"time":      b.now,
		"security":  security,
		"side":      side,
		"direction": direction,
		"price":     price.String(),
		"quantity":  quantity.Abs().String(),
		"cash":      b.cash.balance.String(),
	}).Warn(reason)
}

// MarkToMarket snapshots cash and every security's holdings for the trading
// day of date. It must run once per trading day, after that day's orders.
func (b *Broker) MarkToMarket(date time.Time) {
	i := b.balances.mustIndex(date)
	b.cashAt[i] = b.cash.balance
	b.marked[i] = true

	for _, sec := range b.balances.securities {
		side, ok := b.ledger.lastSide(sec)
		if !ok {
			b.balances.mark(sec, i, decimal.Zero, decimal.Zero, "")
			continue
		}
		b.balances.mark(sec, i, b.ledger.quantity(sec), b.ledger.cost(sec), side)
	}
}

func (b *Broker) Cash() decimal.Decimal {
	return b.cash.balance
}

func (b *Broker) InitialCash() decimal.Decimal {
	return b.portfolio.initialCash
}

func (b *Broker) HeldQuantity(security string) decimal.Decimal {
	return b.ledger.quantity(security)
}

// Direction returns the side of a security's open position, false when flat.
func (b *Broker) Direction(security string) (types.Side, bool) {
	return b.ledger.side(security)
}

func (b *Broker) Lots(security string) []types.Lot {
	return b.ledger.lots(security)
}

func (b *Broker) OpenPositionCount() int {
	return b.ledger.openSecurities()
}

// SecurityValueSeries returns a security's daily market value up to, and
// excluding, the current trading day.
func (b *Broker) SecurityValueSeries(security string) []types.ValuePoint {
	rows, ok := b.balances.rows[security]
	if !ok {
		panic(fmt.Sprintf("engine: unknown security %q", security))
	}
	today := types.DateOf(b.now)
	var out []types.ValuePoint
	for _, row := range rows {
		if !row.Date.Before(today) {
			break
		}
		out = append(out, types.ValuePoint{Date: row.Date, Value: row.MarketValue})
	}
	return out
}

// ValueSeries is SecurityValueSeries summed over every security.
func (b *Broker) ValueSeries() []types.ValuePoint {
	today := types.DateOf(b.now)
	var out []types.ValuePoint
	for i, d := range b.balances.dates {
		if !d.Before(today) {
			break
		}
		out = append(out, types.ValuePoint{Date: d, Value: b.balances.holdingsValue(i)})
	}
	return out
}

// SecurityLatestDrawdown is the max drawdown of a security's market value
// over its last n days. It is undefined while any of them is zero.
func (b *Broker) SecurityLatestDrawdown(security string, n int) (float64, bool) {
	return latestDrawdown(b.SecurityValueSeries(security), n)
}

// LatestDrawdown is the max drawdown of the total market value over the
// last n days.
func (b *Broker) LatestDrawdown(n int) (float64, bool) {
	return latestDrawdown(b.ValueSeries(), n)
}

func latestDrawdown(series []types.ValuePoint, n int) (float64, bool) {
	if n <= 0 || len(series) == 0 {
		return 0, false
	}
	if len(series) > n {
		series = series[len(series)-n:]
	}
	values := make([]float64, len(series))
	for i, p := range series {
		if p.Value.IsZero() {
			return 0, false
		}
		values[i] = p.Value.InexactFloat64()
	}
	return windowDrawdown(values), true
}

// EquityCurve is cash plus holdings value on every marked trading day.
func (b *Broker) EquityCurve() []types.EquityPoint {
	var curve []types.EquityPoint
	for i, d := range b.balances.dates {
		if !b.marked[i] {
			continue
		}
		holdings := b.balances.holdingsValue(i)
		curve = append(curve, types.EquityPoint{
			Date:          d,
			Cash:          b.cashAt[i],
			HoldingsValue: holdings,
			Equity:        b.cashAt[i].Add(holdings),
		})
	}
	return curve
}

func (b *Broker) Trades() []types.TradeRecord {
	return b.log.allTrades()
}

func (b *Broker) ClosedTrades() []types.ClosedTradeRecord {
	return b.log.closedTrades()
}

func (b *Broker) Balances() *DailyBalanceTable {
	return b.balances
}
