package engine

import (
	"fmt"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
)

// compactAfter is how many consumed lots a queue tolerates at its front
// before it copies the live lots down.
const compactAfter = 32

// lotQueue holds one security's open lots oldest first. Closed lots are
// skipped by advancing head and reclaimed by periodic compaction.
type lotQueue struct {
	lots []*types.Lot
	head int
}

func (q *lotQueue) len() int {
	return len(q.lots) - q.head
}

func (q *lotQueue) push(lot *types.Lot) {
	q.lots = append(q.lots, lot)
}

func (q *lotQueue) front() *types.Lot {
	return q.lots[q.head]
}

func (q *lotQueue) back() *types.Lot {
	return q.lots[len(q.lots)-1]
}

func (q *lotQueue) popFront() {
	q.lots[q.head] = nil
	q.head++
	if q.head == len(q.lots) {
		q.lots = q.lots[:0]
		q.head = 0
		return
	}
	if q.head >= compactAfter && q.head*2 >= len(q.lots) {
		n := copy(q.lots, q.lots[q.head:])
		for i := n; i < len(q.lots); i++ {
			q.lots[i] = nil
		}
		q.lots = q.lots[:n]
		q.head = 0
	}
}

// live returns the open lots, oldest first. The slice aliases the queue.
func (q *lotQueue) live() []*types.Lot {
	return q.lots[q.head:]
}

// closeResult is what a FIFO close released from the ledger.
type closeResult struct {
	pnl  decimal.Decimal
	cost decimal.Decimal
}

type positionLedger struct {
	queues map[string]*lotQueue
}

func newPositionLedger(securities []string) *positionLedger {
	queues := make(map[string]*lotQueue, len(securities))
	for _, sec := range securities {
		queues[sec] = &lotQueue{}
	}
	return &positionLedger{queues: queues}
}

func (l *positionLedger) queue(security string) *lotQueue {
	q, ok := l.queues[security]
	if !ok {
		panic(fmt.Sprintf("engine: unknown security %q", security))
	}
	return q
}

func (l *positionLedger) has(security string) bool {
	_, ok := l.queues[security]
	return ok
}

// quantity is the net open quantity of a security.
func (l *positionLedger) quantity(security string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.queue(security).live() {
		total = total.Add(lot.Quantity)
	}
	return total
}

// cost is the remaining cost basis of a security.
func (l *positionLedger) cost(security string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.queue(security).live() {
		total = total.Add(lot.Cost)
	}
	return total
}

// side returns the side of the oldest open lot.
func (l *positionLedger) side(security string) (types.Side, bool) {
	q := l.queue(security)
	if q.len() == 0 {
		return "", false
	}
	return q.front().Side, true
}

// lastSide returns the side of the most recently opened lot.
func (l *positionLedger) lastSide(security string) (types.Side, bool) {
	q := l.queue(security)
	if q.len() == 0 {
		return "", false
	}
	return q.back().Side, true
}

func (l *positionLedger) open(security string, price, qty decimal.Decimal, side types.Side) {
	l.queue(security).push(&types.Lot{
		Security:   security,
		EntryPrice: price,
		Quantity:   qty,
		Side:       side,
		Cost:       qty.Mul(price),
	})
}

// close consumes qty from the oldest lots first at closePrice. The caller
// guarantees the security holds at least qty.
func (l *positionLedger) close(security string, closePrice, qty decimal.Decimal, side types.Side) closeResult {
	q := l.queue(security)
	res := closeResult{pnl: decimal.Zero, cost: decimal.Zero}
	remaining := qty

	for remaining.IsPositive() && q.len() > 0 {
		lot := q.front()
		consumed := decimal.Min(lot.Quantity, remaining)

		diff := closePrice.Sub(lot.EntryPrice)
		if side == types.SideShort {
			diff = diff.Neg()
		}
		res.pnl = res.pnl.Add(consumed.Mul(diff))
		res.cost = res.cost.Add(consumed.Mul(lot.EntryPrice))

		lot.Quantity = lot.Quantity.Sub(consumed)
		lot.Cost = lot.Quantity.Mul(lot.EntryPrice)
		remaining = remaining.Sub(consumed)

		if lot.Quantity.IsZero() {
			q.popFront()
		}
	}

	if remaining.IsPositive() {
		panic(fmt.Sprintf("engine: FIFO close of %s left %s of %s unconsumed", security, remaining, qty))
	}
	return res
}

// openSecurities counts the securities with at least one open lot.
func (l *positionLedger) openSecurities() int {
	n := 0
	for _, q := range l.queues {
		if q.len() > 0 {
			n++
		}
	}
	return n
}

// lots returns copies of a security's open lots, oldest first.
func (l *positionLedger) lots(security string) []types.Lot {
	live := l.queue(security).live()
	out := make([]types.Lot, len(live))
	for i, lot := range live {
		out[i] = *lot
	}
	return out
}
