package engine

import (
	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/models"
)

// RebuildSummary reports the outcome of a full recalculation. Callers can
// always tell a silently-degraded rebuild from a clean one: ordersProcessed
// counts only orders that reached the matching pipeline, errors carries what
// did not.
type RebuildSummary struct {
	TradesCreated     int             `json:"trades_created"`
	CompletedTrades   int             `json:"completed_trades"`
	OpenTrades        int             `json:"open_trades"`
	TotalPnL          decimal.Decimal `json:"total_pnl"`
	OrdersProcessed   int             `json:"orders_processed"`
	DuplicatesSkipped int             `json:"duplicates_skipped"`
	Errors            []OrderError    `json:"errors"`
}

// userBook is the in-memory derived state for one user: position ledger,
// trade aggregator, replay seen-set, and the high-water mark deciding
// whether a new order may be applied incrementally.
type userBook struct {
	ledger map[string]*Position
	agg    *Aggregator
	seen   map[string]bool

	lastApplied models.Order // zero value until the first applied order
	applied     int
	duplicates  int
	errors      []OrderError
}

func newUserBook(userID int64) *userBook {
	return &userBook{
		ledger: make(map[string]*Position),
		agg:    NewAggregator(userID),
		seen:   make(map[string]bool),
	}
}

// fold runs one order through dedup, ledger, and aggregator. The returned
// error is fatal for the whole replay (position corruption); per-order
// problems are recorded in the book and skipped.
func (b *userBook) fold(userID int64, order *models.Order) error {
	if err := order.Validate(); err != nil {
		b.errors = append(b.errors, OrderError{OrderID: order.ID, Symbol: order.Symbol, Reason: err.Error()})
		return nil
	}

	if order.ActivityKey == "" {
		order.ActivityKey = order.ComputeActivityKey(userID)
	}
	if b.seen[order.ActivityKey] {
		b.duplicates++
		return nil
	}
	b.seen[order.ActivityKey] = true

	pos := b.ledger[order.Symbol]
	if pos == nil {
		pos = NewPosition(order.Symbol)
		b.ledger[order.Symbol] = pos
	}

	res, err := pos.Apply(order)
	if err != nil {
		return err
	}
	if err := b.agg.Fold(order, res); err != nil {
		return err
	}

	b.applied++
	b.lastApplied = *order
	return nil
}

// canAppend reports whether the order preserves strict executedAt ordering
// relative to everything already applied. A backfilled earlier order forces
// a full rebuild instead of an in-place patch.
func (b *userBook) canAppend(order *models.Order) bool {
	if b.applied == 0 {
		return true
	}
	if order.ExecutedAt.After(b.lastApplied.ExecutedAt) {
		return true
	}
	return order.ExecutedAt.Equal(b.lastApplied.ExecutedAt) && order.Seq >= b.lastApplied.Seq
}

// materialize emits the current derived trade set plus a summary snapshot.
func (b *userBook) materialize() ([]*models.Trade, RebuildSummary) {
	trades := b.agg.Materialize(b.ledger)

	summary := RebuildSummary{
		TradesCreated:     len(trades),
		TotalPnL:          decimal.Zero,
		OrdersProcessed:   b.applied,
		DuplicatesSkipped: b.duplicates,
		Errors:            append([]OrderError(nil), b.errors...),
	}
	for _, t := range trades {
		if t.Status == models.TradeClosed {
			summary.CompletedTrades++
		} else {
			summary.OpenTrades++
		}
		summary.TotalPnL = summary.TotalPnL.Add(t.RealizedPnL)
	}
	return trades, summary
}

// replay folds a full chronological order history into a fresh book.
// Single-threaded by construction; determinism follows from the input
// ordering contract (executedAt ascending, ingestion sequence tie-break).
func replay(userID int64, orders []*models.Order) (*userBook, error) {
	book := newUserBook(userID)
	for _, order := range orders {
		if err := book.fold(userID, order); err != nil {
			return nil, err
		}
	}
	return book, nil
}
