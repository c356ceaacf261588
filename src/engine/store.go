package engine

import (
	"context"

	"github.com/username/tradevault/backend/src/models"
)

// OrderStore is the engine's view of raw execution storage.
type OrderStore interface {
	// InsertOrder persists a new order and returns its assigned id.
	// Returns ErrDuplicateOrder when the (user, activity key) pair already
	// exists; the store's unique constraint is the durable seen-set.
	InsertOrder(ctx context.Context, userID int64, o *models.Order) (int64, error)

	// OrdersForUser returns the user's full order history in ascending
	// executedAt order, ties broken by ingestion sequence.
	OrdersForUser(ctx context.Context, userID int64) ([]*models.Order, error)
}

// TradeStore is the engine's view of derived trade storage.
type TradeStore interface {
	// ReplaceTrades atomically swaps the user's entire derived trade set.
	// A failed replace leaves the previous set untouched.
	ReplaceTrades(ctx context.Context, userID int64, trades []*models.Trade) error

	// TradesForUser returns the derived trades with annotations re-attached
	// by trade key, ordered by openedAt then symbol.
	TradesForUser(ctx context.Context, userID int64) ([]*models.Trade, error)

	// SaveAnnotation upserts user notes/tags keyed by the stable trade key.
	SaveAnnotation(ctx context.Context, a *models.TradeAnnotation) error
}

// Store combines everything the engine needs from persistence.
type Store interface {
	OrderStore
	TradeStore
}
