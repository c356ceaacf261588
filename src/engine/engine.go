package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/models"
)

// IngestStatus classifies the outcome of a single-order ingestion.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "ACCEPTED"
	IngestDuplicate IngestStatus = "DUPLICATE"
)

// IngestResult is returned by the incremental entry point.
type IngestResult struct {
	Status  IngestStatus `json:"status"`
	OrderID int64        `json:"order_id,omitempty"`
	// Rebuilt is set when the order arrived out of chronological order and
	// the engine fell back to a full recalculation.
	Rebuilt bool `json:"rebuilt,omitempty"`
}

// BatchResult is returned by the bulk ingestion path.
type BatchResult struct {
	Accepted          int            `json:"accepted"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	Errors            []OrderError   `json:"errors"`
	Rebuild           RebuildSummary `json:"rebuild"`
}

// Engine is the trade construction core. It owns no wire protocol: callers
// hand it already-normalized orders and read back derived trades.
//
// Parallelism exists only across users. A per-user mutex serializes
// incremental ingestion and full recalculation so they never interleave for
// the same user; concurrent attempts queue on the lock.
type Engine struct {
	store Store

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
	books map[int64]*userBook
}

func New(store Store) *Engine {
	return &Engine{
		store: store,
		locks: make(map[int64]*sync.Mutex),
		books: make(map[int64]*userBook),
	}
}

func (e *Engine) userLock(userID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock := e.locks[userID]
	if lock == nil {
		lock = &sync.Mutex{}
		e.locks[userID] = lock
	}
	return lock
}

func (e *Engine) setBook(userID int64, book *userBook) {
	e.mu.Lock()
	e.books[userID] = book
	e.mu.Unlock()
}

func (e *Engine) book(userID int64) *userBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.books[userID]
}

// IngestOrder is the incremental path, called per new fill by the sync and
// import pipelines. The order is persisted first (the store's unique
// activity-key constraint is the durable dedup), then applied to the warm
// in-memory book when ordering allows, otherwise via a full rebuild.
func (e *Engine) IngestOrder(ctx context.Context, userID int64, order *models.Order) (*IngestResult, error) {
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOrder, err)
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	order.UserID = userID
	order.ActivityKey = order.ComputeActivityKey(userID)

	id, err := e.store.InsertOrder(ctx, userID, order)
	if errors.Is(err, ErrDuplicateOrder) {
		logger.WithComponent("engine").Info("duplicate order skipped",
			"userID", userID, "symbol", order.Symbol, "activityKey", order.ActivityKey)
		return &IngestResult{Status: IngestDuplicate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persisting order for user %d: %w", userID, err)
	}
	order.ID = id
	order.Seq = id

	book := e.book(userID)
	if book == nil || !book.canAppend(order) {
		if _, err := e.rebuildLocked(ctx, userID); err != nil {
			return nil, err
		}
		return &IngestResult{Status: IngestAccepted, OrderID: id, Rebuilt: true}, nil
	}

	if err := book.fold(userID, order); err != nil {
		// Corrupt ledger state: drop the warm book so the next call replays
		// from storage, and surface the failure for this user only.
		e.setBook(userID, nil)
		return nil, err
	}
	trades, _ := book.materialize()
	if err := e.store.ReplaceTrades(ctx, userID, trades); err != nil {
		e.setBook(userID, nil)
		return nil, fmt.Errorf("replacing trades for user %d: %w", userID, err)
	}
	return &IngestResult{Status: IngestAccepted, OrderID: id}, nil
}

// IngestBatch persists a batch of orders (deduplicating each) and then runs
// one full recalculation, the cheaper shape for bulk CSV imports and broker
// sync completions.
func (e *Engine) IngestBatch(ctx context.Context, userID int64, orders []*models.Order) (*BatchResult, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	result := &BatchResult{}
	for _, order := range orders {
		if err := order.Validate(); err != nil {
			result.Errors = append(result.Errors, OrderError{Symbol: order.Symbol, Reason: err.Error()})
			continue
		}
		order.UserID = userID
		order.ActivityKey = order.ComputeActivityKey(userID)

		id, err := e.store.InsertOrder(ctx, userID, order)
		if errors.Is(err, ErrDuplicateOrder) {
			result.DuplicatesSkipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("persisting order for user %d: %w", userID, err)
		}
		order.ID = id
		order.Seq = id
		result.Accepted++
	}

	summary, err := e.rebuildLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Rebuild = *summary
	return result, nil
}

// RebuildTrades deterministically regenerates the user's entire derived
// trade set from stored orders, replacing prior state atomically. Safe to
// invoke repeatedly: an unchanged order set yields identical output.
func (e *Engine) RebuildTrades(ctx context.Context, userID int64) (*RebuildSummary, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return e.rebuildLocked(ctx, userID)
}

// TryRebuildTrades is the non-queued variant: it fails fast with
// ErrRebuildConflict when an ingest or rebuild already holds the user's lock.
func (e *Engine) TryRebuildTrades(ctx context.Context, userID int64) (*RebuildSummary, error) {
	lock := e.userLock(userID)
	if !lock.TryLock() {
		return nil, ErrRebuildConflict
	}
	defer lock.Unlock()
	return e.rebuildLocked(ctx, userID)
}

func (e *Engine) rebuildLocked(ctx context.Context, userID int64) (*RebuildSummary, error) {
	log := logger.WithComponent("engine")

	orders, err := e.store.OrdersForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading orders for user %d: %w", userID, err)
	}

	book, err := replay(userID, orders)
	if err != nil {
		e.setBook(userID, nil)
		return nil, fmt.Errorf("rebuilding trades for user %d: %w", userID, err)
	}
	trades, summary := book.materialize()

	// Abort with no partial effect if the caller gave up while we computed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.store.ReplaceTrades(ctx, userID, trades); err != nil {
		e.setBook(userID, nil)
		return nil, fmt.Errorf("replacing trades for user %d: %w", userID, err)
	}
	e.setBook(userID, book)

	log.Info("rebuild complete", "userID", userID,
		"ordersProcessed", summary.OrdersProcessed,
		"tradesCreated", summary.TradesCreated,
		"duplicatesSkipped", summary.DuplicatesSkipped,
		"errors", len(summary.Errors))
	return &summary, nil
}
