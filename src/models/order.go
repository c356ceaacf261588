package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a single brokerage fill.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Order is one executed brokerage fill, already normalized by a parser or the
// broker-sync adapter. Orders are created once and never mutated by the engine.
type Order struct {
	ID     int64 `json:"id,omitempty"` // Database primary key
	UserID int64 `json:"user_id,omitempty"`

	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"` // Shares/contracts, always positive
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Fees       decimal.Decimal `json:"fees"`
	ExecutedAt time.Time       `json:"executed_at"`

	// SourceID names the ingestion channel (e.g. "csv:generic", "sync:tradier").
	SourceID string `json:"source_id"`
	// ExternalActivityID is the broker-supplied unique id, empty for CSV rows
	// that lack one.
	ExternalActivityID string `json:"external_activity_id,omitempty"`

	// ActivityKey is the stable dedup identity, derived on ingestion.
	ActivityKey string `json:"activity_key,omitempty"`
	// Seq is the ingestion sequence used to break executed-at ties.
	Seq int64 `json:"seq,omitempty"`
}

// ComputeActivityKey derives the stable identity used for deduplication:
// the broker-supplied id when present, otherwise a fingerprint of the fill
// with the timestamp truncated to the second.
func (o *Order) ComputeActivityKey(userID int64) string {
	if o.ExternalActivityID != "" {
		return o.ExternalActivityID
	}
	input := fmt.Sprintf("%d|%s|%s|%d|%s|%s",
		userID, o.Symbol, o.Side, o.Quantity,
		o.Price.String(), o.ExecutedAt.Truncate(time.Second).UTC().Format(time.RFC3339))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// Validate reports whether the order satisfies the engine's ingestion
// contract. Money fields must already be exact decimals; the boundary
// converts anything looser before constructing an Order.
func (o *Order) Validate() error {
	switch {
	case o.Symbol == "":
		return fmt.Errorf("order missing symbol")
	case o.Side != SideBuy && o.Side != SideSell:
		return fmt.Errorf("order %q has invalid side %q", o.Symbol, o.Side)
	case o.Quantity <= 0:
		return fmt.Errorf("order %q has non-positive quantity %d", o.Symbol, o.Quantity)
	case o.Price.Sign() <= 0:
		return fmt.Errorf("order %q has non-positive price %s", o.Symbol, o.Price)
	case o.Commission.Sign() < 0:
		return fmt.Errorf("order %q has negative commission %s", o.Symbol, o.Commission)
	case o.Fees.Sign() < 0:
		return fmt.Errorf("order %q has negative fees %s", o.Symbol, o.Fees)
	case o.ExecutedAt.IsZero():
		return fmt.Errorf("order %q missing execution timestamp", o.Symbol)
	}
	return nil
}

// Lot is a not-yet-fully-closed slice of an opening Order held in the
// position ledger. A partially consumed Lot keeps its original price and
// timestamp; the remainder is never re-priced.
type Lot struct {
	OrderID     int64
	ActivityKey string
	Side        OrderSide
	Remaining   int64
	// OriginalQuantity is the opening order's full size, kept for prorating
	// that order's commission and fees across consumed slices.
	OriginalQuantity int64
	Price            decimal.Decimal
	Commission       decimal.Decimal
	Fees             decimal.Decimal
	ExecutedAt       time.Time
	Seq              int64
}
