package engine

import (
	"errors"
	"fmt"
)

// Standard engine-level errors. The store adapter wraps driver errors with
// these so callers never switch on infrastructure details.
var (
	// ErrMalformedOrder marks an order missing a required field or carrying
	// a non-positive quantity/price. Recoverable: the order is skipped and
	// recorded, the rebuild continues.
	ErrMalformedOrder = errors.New("malformed order")

	// ErrDuplicateOrder marks a re-delivered execution. Not a failure; it is
	// counted and the matching pipeline never sees the order twice.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrPositionCorrupt marks a lot queue in a state FIFO consumption can
	// never produce (upstream data corruption). Fatal for that user's
	// rebuild; nothing is committed.
	ErrPositionCorrupt = errors.New("position ledger inconsistent")

	// ErrRebuildConflict is returned by the non-queued rebuild path when
	// another rebuild or ingest already holds the user's lock.
	ErrRebuildConflict = errors.New("rebuild already in progress for user")
)

// OrderError records a per-order failure with enough detail to be actionable.
type OrderError struct {
	OrderID int64  `json:"order_id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Reason  string `json:"reason"`
}

func (e OrderError) Error() string {
	return fmt.Sprintf("order %d (%s): %s", e.OrderID, e.Symbol, e.Reason)
}
