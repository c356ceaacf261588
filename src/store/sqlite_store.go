// Package store implements the engine's persistence interfaces on SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/models"
)

// timeLayout keeps the fractional part fixed-width so the TEXT column's
// lexicographic order is the chronological order ORDER BY relies on.
// RFC3339Nano would trim trailing zeros and break that equivalence.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists orders, derived trades, and annotations. Money is
// stored as decimal strings so nothing ever round-trips through a float.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ engine.Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) InsertOrder(ctx context.Context, userID int64, o *models.Order) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (user_id, symbol, side, quantity, price, commission, fees, executed_at, source_id, external_activity_id, activity_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, o.Symbol, string(o.Side), o.Quantity,
		o.Price.String(), o.Commission.String(), o.Fees.String(),
		o.ExecutedAt.UTC().Format(timeLayout), o.SourceID,
		nullableString(o.ExternalActivityID), o.ActivityKey)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			return 0, engine.ErrDuplicateOrder
		}
		return 0, fmt.Errorf("inserting order for user %d: %w", userID, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) OrdersForUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, commission, fees, executed_at, source_id, external_activity_id, activity_key
		FROM orders WHERE user_id = ?
		ORDER BY executed_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying orders for user %d: %w", userID, err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var (
			o          models.Order
			side       string
			price      string
			commission string
			fees       string
			executedAt string
			externalID sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Quantity, &price, &commission, &fees,
			&executedAt, &o.SourceID, &externalID, &o.ActivityKey); err != nil {
			return nil, fmt.Errorf("scanning order row for user %d: %w", userID, err)
		}
		o.UserID = userID
		o.Side = models.OrderSide(side)
		o.Seq = o.ID
		o.ExternalActivityID = externalID.String
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %d has unparseable price %q: %w", o.ID, price, err)
		}
		if o.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("order %d has unparseable commission %q: %w", o.ID, commission, err)
		}
		if o.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("order %d has unparseable fees %q: %w", o.ID, fees, err)
		}
		if o.ExecutedAt, err = time.Parse(timeLayout, executedAt); err != nil {
			return nil, fmt.Errorf("order %d has unparseable timestamp %q: %w", o.ID, executedAt, err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order rows for user %d: %w", userID, err)
	}
	return orders, nil
}

// ReplaceTrades swaps the user's entire derived set inside one transaction.
// Annotations live in their own table keyed by trade key and are untouched,
// which is what lets notes survive a rebuild.
func (s *SQLiteStore) ReplaceTrades(ctx context.Context, userID int64, trades []*models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning trade replacement for user %d: %w", userID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing derived trades for user %d: %w", userID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (user_id, symbol, side, quantity, entry_price, exit_price, realized_pnl, commission, fees, status, opened_at, closed_at, order_ids, trade_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing trade insert for user %d: %w", userID, err)
	}
	defer stmt.Close()

	for _, t := range trades {
		orderIDs, err := json.Marshal(t.OrderIDs)
		if err != nil {
			return fmt.Errorf("encoding order ids for trade %s: %w", t.TradeKey, err)
		}
		var exitPrice interface{}
		if t.Status == models.TradeClosed {
			exitPrice = t.ExitPrice.String()
		}
		var closedAt interface{}
		if t.ClosedAt != nil {
			closedAt = t.ClosedAt.UTC().Format(timeLayout)
		}
		if _, err := stmt.ExecContext(ctx,
			userID, t.Symbol, string(t.Side), t.Quantity,
			t.EntryPrice.String(), exitPrice,
			t.RealizedPnL.String(), t.Commission.String(), t.Fees.String(),
			string(t.Status), t.OpenedAt.UTC().Format(timeLayout), closedAt,
			string(orderIDs), t.TradeKey); err != nil {
			return fmt.Errorf("inserting trade %s for user %d: %w", t.TradeKey, userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trade replacement for user %d: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) TradesForUser(ctx context.Context, userID int64) ([]*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.symbol, t.side, t.quantity, t.entry_price, t.exit_price, t.realized_pnl,
		       t.commission, t.fees, t.status, t.opened_at, t.closed_at, t.order_ids, t.trade_key,
		       COALESCE(a.notes, ''), COALESCE(a.tags, '[]')
		FROM trades t
		LEFT JOIN trade_annotations a ON a.user_id = t.user_id AND a.trade_key = t.trade_key
		WHERE t.user_id = ?
		ORDER BY t.opened_at ASC, t.symbol ASC, t.trade_key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying trades for user %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var (
			t           models.Trade
			side        string
			status      string
			entryPrice  string
			exitPrice   sql.NullString
			realizedPnl string
			commission  string
			fees        string
			openedAt    string
			closedAt    sql.NullString
			orderIDs    string
			tags        string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &entryPrice, &exitPrice, &realizedPnl,
			&commission, &fees, &status, &openedAt, &closedAt, &orderIDs, &t.TradeKey,
			&t.Notes, &tags); err != nil {
			return nil, fmt.Errorf("scanning trade row for user %d: %w", userID, err)
		}
		t.UserID = userID
		t.Side = models.TradeSide(side)
		t.Status = models.TradeStatus(status)
		if t.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable entry price %q: %w", t.TradeKey, entryPrice, err)
		}
		if exitPrice.Valid {
			if t.ExitPrice, err = decimal.NewFromString(exitPrice.String); err != nil {
				return nil, fmt.Errorf("trade %s has unparseable exit price %q: %w", t.TradeKey, exitPrice.String, err)
			}
		}
		if t.RealizedPnL, err = decimal.NewFromString(realizedPnl); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable pnl %q: %w", t.TradeKey, realizedPnl, err)
		}
		if t.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable commission %q: %w", t.TradeKey, commission, err)
		}
		if t.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable fees %q: %w", t.TradeKey, fees, err)
		}
		if t.OpenedAt, err = time.Parse(timeLayout, openedAt); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable opened_at %q: %w", t.TradeKey, openedAt, err)
		}
		if closedAt.Valid {
			parsed, err := time.Parse(timeLayout, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("trade %s has unparseable closed_at %q: %w", t.TradeKey, closedAt.String, err)
			}
			t.ClosedAt = &parsed
		}
		if err := json.Unmarshal([]byte(orderIDs), &t.OrderIDs); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable order ids: %w", t.TradeKey, err)
		}
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("trade %s has unparseable tags: %w", t.TradeKey, err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trade rows for user %d: %w", userID, err)
	}
	return trades, nil
}

func (s *SQLiteStore) SaveAnnotation(ctx context.Context, a *models.TradeAnnotation) error {
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags for trade %s: %w", a.TradeKey, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trade_annotations (user_id, trade_key, notes, tags, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, trade_key) DO UPDATE SET notes = excluded.notes, tags = excluded.tags, updated_at = CURRENT_TIMESTAMP`,
		a.UserID, a.TradeKey, a.Notes, string(tags))
	if err != nil {
		return fmt.Errorf("saving annotation for trade %s: %w", a.TradeKey, err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
