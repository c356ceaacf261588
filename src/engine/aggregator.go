package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/models"
)

// activeTrade accumulates the realized side of the trade currently open for
// one symbol: every matched (lot slice, order slice) pair lands here until
// the position returns to flat or flips.
type activeTrade struct {
	symbol   string
	side     models.TradeSide
	openedAt time.Time

	// Contributing orders that produced matched slices, in consumption order.
	matchedIDs  []int64
	matchedKeys []string
	seen        map[string]bool

	matchedQty  int64
	entryCost   decimal.Decimal // sum of sliceQty * lot entry price
	exitCost    decimal.Decimal // sum of sliceQty * closing price
	pnl         decimal.Decimal
	commission  decimal.Decimal
	fees        decimal.Decimal
	lastCloseAt time.Time
}

func (at *activeTrade) contribute(orderID int64, key string) {
	if at.seen[key] {
		return
	}
	at.seen[key] = true
	at.matchedIDs = append(at.matchedIDs, orderID)
	at.matchedKeys = append(at.matchedKeys, key)
}

// Aggregator folds match results into round-trip Trade records for one user.
// All money arithmetic is decimal; rounding happens only at display time.
type Aggregator struct {
	userID int64
	active map[string]*activeTrade
	closed []*models.Trade
}

func NewAggregator(userID int64) *Aggregator {
	return &Aggregator{
		userID: userID,
		active: make(map[string]*activeTrade),
	}
}

// Fold applies one order's match result to the symbol's active trade.
func (a *Aggregator) Fold(order *models.Order, res MatchResult) error {
	at := a.active[order.Symbol]

	if len(res.Consumed) > 0 {
		if at == nil {
			return fmt.Errorf("%w: symbol %s consumed lots with no open trade", ErrPositionCorrupt, order.Symbol)
		}
		orderQty := decimal.NewFromInt(order.Quantity)
		for _, slice := range res.Consumed {
			qty := decimal.NewFromInt(slice.Quantity)
			closeRatio := qty.Div(orderQty)

			at.matchedQty += slice.Quantity
			at.entryCost = at.entryCost.Add(slice.EntryPrice.Mul(qty))
			at.exitCost = at.exitCost.Add(order.Price.Mul(qty))
			at.pnl = at.pnl.Add(order.Price.Sub(slice.EntryPrice).Mul(qty).Mul(at.side.Sign()))
			at.commission = at.commission.Add(slice.OpenCommission).Add(order.Commission.Mul(closeRatio))
			at.fees = at.fees.Add(slice.OpenFees).Add(order.Fees.Mul(closeRatio))
			at.contribute(slice.OpenOrderID, slice.OpenActivityKey)
		}
		at.contribute(order.ID, order.ActivityKey)
		at.lastCloseAt = order.ExecutedAt
	}

	if res.Flat || res.Flipped {
		// Open-to-flat transition: the matched quantity is complete.
		a.closed = append(a.closed, at.finalize(a.userID, order.ExecutedAt))
		delete(a.active, order.Symbol)
		at = nil
	}

	if res.Opened != nil && at == nil {
		// Flat-to-open transition. A flip lands here too: the excess opens a
		// brand-new trade on the other side, never a continuation.
		a.active[order.Symbol] = &activeTrade{
			symbol:   order.Symbol,
			side:     tradeSideOf(res.Opened.Side),
			openedAt: order.ExecutedAt,
			seen:     make(map[string]bool),
		}
	}
	return nil
}

// finalize closes out the accumulated matched quantity as a CLOSED trade.
func (at *activeTrade) finalize(userID int64, closedAt time.Time) *models.Trade {
	qty := decimal.NewFromInt(at.matchedQty)
	closed := closedAt
	t := &models.Trade{
		UserID:       userID,
		Symbol:       at.symbol,
		Side:         at.side,
		Quantity:     at.matchedQty,
		EntryPrice:   at.entryCost.Div(qty),
		ExitPrice:    at.exitCost.Div(qty),
		RealizedPnL:  at.pnl,
		Commission:   at.commission,
		Fees:         at.fees,
		Status:       models.TradeClosed,
		OpenedAt:     at.openedAt,
		ClosedAt:     &closed,
		OrderIDs:     append([]int64(nil), at.matchedIDs...),
		ActivityKeys: append([]string(nil), at.matchedKeys...),
	}
	t.TradeKey = t.ComputeTradeKey()
	return t
}

// Materialize produces the user's full derived trade set from the closed
// trades plus the current book. It is read-only: folding may continue after.
//
// A partially closed position splits: the matched quantity becomes a CLOSED
// trade and the surviving lots continue as an OPEN trade at their original
// prices.
func (a *Aggregator) Materialize(book map[string]*Position) []*models.Trade {
	out := make([]*models.Trade, 0, len(a.closed)+len(a.active))
	out = append(out, a.closed...)

	symbols := make([]string, 0, len(a.active))
	for symbol := range a.active {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		at := a.active[symbol]
		if at.matchedQty > 0 {
			out = append(out, at.finalize(a.userID, at.lastCloseAt))
		}
		pos := book[symbol]
		if pos == nil || len(pos.Lots()) == 0 {
			continue
		}
		out = append(out, openTradeFromLots(a.userID, symbol, pos.Lots()))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].TradeKey < out[j].TradeKey
	})
	return out
}

// openTradeFromLots derives the OPEN trade implied by the surviving lot
// queue: quantity-weighted entry over the remainders, commission and fees
// prorated to the unconsumed share of each opening order.
func openTradeFromLots(userID int64, symbol string, lots []*models.Lot) *models.Trade {
	var qty int64
	entryCost := decimal.Zero
	commission := decimal.Zero
	fees := decimal.Zero
	ids := make([]int64, 0, len(lots))
	keys := make([]string, 0, len(lots))

	for _, lot := range lots {
		rem := decimal.NewFromInt(lot.Remaining)
		ratio := rem.Div(decimal.NewFromInt(lot.OriginalQuantity))
		qty += lot.Remaining
		entryCost = entryCost.Add(lot.Price.Mul(rem))
		commission = commission.Add(lot.Commission.Mul(ratio))
		fees = fees.Add(lot.Fees.Mul(ratio))
		ids = append(ids, lot.OrderID)
		keys = append(keys, lot.ActivityKey)
	}

	t := &models.Trade{
		UserID:       userID,
		Symbol:       symbol,
		Side:         tradeSideOf(lots[0].Side),
		Quantity:     qty,
		EntryPrice:   entryCost.Div(decimal.NewFromInt(qty)),
		RealizedPnL:  decimal.Zero,
		Commission:   commission,
		Fees:         fees,
		Status:       models.TradeOpen,
		OpenedAt:     lots[0].ExecutedAt,
		OrderIDs:     ids,
		ActivityKeys: keys,
	}
	t.TradeKey = t.ComputeTradeKey()
	return t
}

func tradeSideOf(side models.OrderSide) models.TradeSide {
	if side == models.SideSell {
		return models.TradeShort
	}
	return models.TradeLong
}
