package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/models"
)

// LotSlice records one matched pairing between a closing order and an open
// lot: sliceQuantity units consumed from the lot at its original entry price.
type LotSlice struct {
	OpenOrderID     int64
	OpenActivityKey string
	Quantity        int64
	EntryPrice      decimal.Decimal

	// Prorated share of the opening order's costs for this slice,
	// proportional to Quantity / the opening order's original quantity.
	OpenCommission decimal.Decimal
	OpenFees       decimal.Decimal
}

// MatchResult is the outcome of applying one order to a position.
type MatchResult struct {
	Consumed []LotSlice
	Opened   *models.Lot // Lot pushed by an opening or flipping order, nil otherwise
	Flat     bool        // Position returned to exactly zero
	Flipped  bool        // Order crossed through flat onto the other side
}

// Position is the live FIFO queue of unconsumed lots for one (user, symbol).
// It is ephemeral: rebuilt from scratch on every recalculation and never
// persisted independently of the lots and trades it implies.
type Position struct {
	Symbol string
	lots   []*models.Lot // Insertion-ordered; oldest first
}

func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// Side returns the direction of the open book, or "" when flat.
func (p *Position) Side() models.OrderSide {
	if len(p.lots) == 0 {
		return ""
	}
	return p.lots[0].Side
}

// OpenQuantity is the total unconsumed quantity across lots.
func (p *Position) OpenQuantity() int64 {
	var total int64
	for _, lot := range p.lots {
		total += lot.Remaining
	}
	return total
}

// Lots exposes the queue for read-only materialization.
func (p *Position) Lots() []*models.Lot {
	return p.lots
}

// Apply matches one order against the book under strict FIFO cost basis.
// Same-side or flat: push a lot. Opposing side: consume lots oldest-first;
// a partially consumed lot keeps its remainder at its original price and
// timestamp. Quantity beyond all open lots flips the position: the excess
// opens an opposite-side lot belonging to a new logical trade.
func (p *Position) Apply(order *models.Order) (MatchResult, error) {
	var res MatchResult

	side := p.Side()
	if side == "" || side == order.Side {
		lot := lotFromOrder(order, order.Quantity)
		p.lots = append(p.lots, lot)
		res.Opened = lot
		return res, nil
	}

	remaining := order.Quantity
	for remaining > 0 && len(p.lots) > 0 {
		lot := p.lots[0]
		if lot.Remaining <= 0 || lot.OriginalQuantity <= 0 {
			return res, fmt.Errorf("%w: symbol %s lot from order %d has remaining %d of %d",
				ErrPositionCorrupt, p.Symbol, lot.OrderID, lot.Remaining, lot.OriginalQuantity)
		}

		matched := min(remaining, lot.Remaining)
		ratio := decimal.NewFromInt(matched).Div(decimal.NewFromInt(lot.OriginalQuantity))
		res.Consumed = append(res.Consumed, LotSlice{
			OpenOrderID:     lot.OrderID,
			OpenActivityKey: lot.ActivityKey,
			Quantity:        matched,
			EntryPrice:      lot.Price,
			OpenCommission:  lot.Commission.Mul(ratio),
			OpenFees:        lot.Fees.Mul(ratio),
		})

		remaining -= matched
		lot.Remaining -= matched
		if lot.Remaining == 0 {
			p.lots = p.lots[1:]
		}
	}

	if remaining > 0 {
		// Excess beyond all open lots: the position flips sides.
		lot := lotFromOrder(order, remaining)
		p.lots = append(p.lots, lot)
		res.Opened = lot
		res.Flipped = true
		return res, nil
	}

	res.Flat = len(p.lots) == 0
	return res, nil
}

// lotFromOrder opens a lot for remaining units of the order. OriginalQuantity
// stays the order's full size so commission and fee proration is always
// against the order that actually paid them.
func lotFromOrder(order *models.Order, remaining int64) *models.Lot {
	return &models.Lot{
		OrderID:          order.ID,
		ActivityKey:      order.ActivityKey,
		Side:             order.Side,
		Remaining:        remaining,
		OriginalQuantity: order.Quantity,
		Price:            order.Price,
		Commission:       order.Commission,
		Fees:             order.Fees,
		ExecutedAt:       order.ExecutedAt,
		Seq:              order.Seq,
	}
}
