package engine

import (
	"fifobacktester/types"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// cashAccount is the single cash balance of a run together with the
// slippage and commission model that prices every fill against it.
type cashAccount struct {
	balance    decimal.Decimal
	slippage   decimal.Decimal
	commission decimal.Decimal
}

func newCashAccount(cfg *PortfolioConfig) *cashAccount {
	return &cashAccount{
		balance:    cfg.initialCash,
		slippage:   cfg.slippageRate,
		commission: cfg.commissionRate,
	}
}

// executionPrice applies adverse slippage to the order price: buying (open
// long, close short) pays more, selling (open short, close long) receives less.
// Rounding is the last step.
func (c *cashAccount) executionPrice(orderPrice decimal.Decimal, direction types.Direction, side types.Side, places int32) decimal.Decimal {
	var price decimal.Decimal
	if (direction == types.DirectionOpen && side == types.SideLong) ||
		(direction == types.DirectionClose && side == types.SideShort) {
		price = orderPrice.Mul(one.Add(c.slippage))
	} else {
		price = orderPrice.Mul(one.Sub(c.slippage))
	}
	return price.Round(places)
}

// openCost is the cash an open of qty at price consumes, commission included.
func (c *cashAccount) openCost(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Abs().Mul(one.Add(c.commission))
}

// closeCommission is the fee charged on the notional of a close.
func (c *cashAccount) closeCommission(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Abs().Mul(c.commission)
}

// affordable returns the whole-unit quantity that percent of the balance buys
// at price once commission is set aside.
func (c *cashAccount) affordable(price, percent decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return c.balance.Mul(one.Sub(c.commission)).Mul(percent).Div(price).Floor()
}

func (c *cashAccount) debit(amount decimal.Decimal) {
	c.balance = c.balance.Sub(amount)
}

func (c *cashAccount) credit(amount decimal.Decimal) {
	c.balance = c.balance.Add(amount)
}
