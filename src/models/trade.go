package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a round-trip trade.
type TradeSide string

const (
	TradeLong  TradeSide = "LONG"
	TradeShort TradeSide = "SHORT"
)

// Sign returns +1 for long trades and -1 for short trades, the multiplier
// applied to (exit - entry) when realizing P&L.
func (s TradeSide) Sign() decimal.Decimal {
	if s == TradeShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// TradeStatus is the lifecycle state of a derived trade.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Trade is a derived aggregate spanning one or more orders for one symbol,
// from a flat-to-open transition to the position returning to flat (or
// remaining open). Trades are created, replaced, and deleted only by the
// engine, never edited directly.
type Trade struct {
	ID     int64 `json:"id,omitempty"`
	UserID int64 `json:"user_id,omitempty"`

	Symbol      string          `json:"symbol"`
	Side        TradeSide       `json:"side"`
	Quantity    int64           `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"` // Quantity-weighted
	ExitPrice   decimal.Decimal `json:"exit_price"`  // Quantity-weighted, zero while open
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Commission  decimal.Decimal `json:"commission"`
	Fees        decimal.Decimal `json:"fees"`
	Status      TradeStatus     `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`

	// OrderIDs lists contributing orders in consumption order.
	OrderIDs []int64 `json:"order_ids"`
	// activityKeys mirrors OrderIDs; it feeds TradeKey so the key stays
	// stable across rebuilds even though database ids change.
	ActivityKeys []string `json:"-"`

	// TradeKey is the stable derived identity used to re-attach user
	// annotations after a rebuild.
	TradeKey string `json:"trade_key"`

	// Annotation fields are layered on top of the derived record and are
	// preserved across rebuilds by TradeKey.
	Notes string   `json:"notes,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ComputeTradeKey hashes the ordered contributing activity keys. Rebuilding
// an unchanged order set reproduces the same keys, which is what lets notes
// and tags survive a full recalculation.
func (t *Trade) ComputeTradeKey() string {
	input := string(t.Side) + "|" + t.Symbol + "|" + strings.Join(t.ActivityKeys, "|")
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// HoldingPeriod is the time between open and close, zero while the trade is
// still open.
func (t *Trade) HoldingPeriod() time.Duration {
	if t.ClosedAt == nil {
		return 0
	}
	return t.ClosedAt.Sub(t.OpenedAt)
}

// TradeAnnotation carries user-entered notes and tags keyed by the stable
// derived trade identity rather than the database row id.
type TradeAnnotation struct {
	UserID   int64    `json:"user_id,omitempty"`
	TradeKey string   `json:"trade_key"`
	Notes    string   `json:"notes"`
	Tags     []string `json:"tags"`
}
