package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradevault/backend/src/database"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/models"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database.InitDB(dbPath)
	t.Cleanup(func() { database.DB.Close() })

	return NewSQLiteStore(database.DB)
}

func testOrder(executedAt time.Time) *models.Order {
	o := &models.Order{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   100,
		Price:      decimal.RequireFromString("150.25"),
		Commission: decimal.RequireFromString("1.00"),
		Fees:       decimal.RequireFromString("0.05"),
		ExecutedAt: executedAt,
		SourceID:   "csv:generic",
	}
	o.ActivityKey = o.ComputeActivityKey(1)
	return o
}

func testTrade(symbol, tradeKey string, openedAt time.Time, closed bool) *models.Trade {
	t := &models.Trade{
		UserID:      1,
		Symbol:      symbol,
		Side:        models.TradeLong,
		Quantity:    100,
		EntryPrice:  decimal.RequireFromString("150.25"),
		RealizedPnL: decimal.Zero,
		Commission:  decimal.RequireFromString("1.00"),
		Fees:        decimal.Zero,
		Status:      models.TradeOpen,
		OpenedAt:    openedAt,
		OrderIDs:    []int64{1, 2},
		TradeKey:    tradeKey,
	}
	if closed {
		closedAt := openedAt.Add(2 * time.Hour)
		t.Status = models.TradeClosed
		t.ExitPrice = decimal.RequireFromString("155.75")
		t.RealizedPnL = decimal.RequireFromString("550")
		t.ClosedAt = &closedAt
	}
	return t
}

func TestSQLiteStore_InsertAndLoadOrders(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	executedAt := time.Date(2024, 3, 1, 14, 30, 0, 123456789, time.UTC)

	order := testOrder(executedAt)
	order.ExternalActivityID = "txn-1"
	id, err := store.InsertOrder(ctx, 1, order)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	orders, err := store.OrdersForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	got := orders[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, id, got.Seq)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, models.SideBuy, got.Side)
	assert.Equal(t, int64(100), got.Quantity)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("150.25")), "price %s", got.Price)
	assert.True(t, got.Commission.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, got.Fees.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, got.ExecutedAt.Equal(executedAt), "timestamps round-trip to the nanosecond")
	assert.Equal(t, "txn-1", got.ExternalActivityID)
	assert.Equal(t, order.ActivityKey, got.ActivityKey)
}

func TestSQLiteStore_DuplicateActivityKeyRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	executedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	_, err := store.InsertOrder(ctx, 1, testOrder(executedAt))
	require.NoError(t, err)

	_, err = store.InsertOrder(ctx, 1, testOrder(executedAt))
	assert.ErrorIs(t, err, engine.ErrDuplicateOrder)

	// The same fill for a different user is a different row.
	other := testOrder(executedAt)
	other.ActivityKey = other.ComputeActivityKey(2)
	_, err = store.InsertOrder(ctx, 2, other)
	assert.NoError(t, err)
}

func TestSQLiteStore_OrdersReturnChronologically(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	late := testOrder(base.Add(time.Hour))
	early := testOrder(base)
	early.Symbol = "MSFT"
	early.ActivityKey = early.ComputeActivityKey(1)

	// Insert out of chronological order on purpose.
	_, err := store.InsertOrder(ctx, 1, late)
	require.NoError(t, err)
	_, err = store.InsertOrder(ctx, 1, early)
	require.NoError(t, err)

	orders, err := store.OrdersForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "MSFT", orders[0].Symbol, "executed_at decides the replay order, not insertion")
	assert.Equal(t, "AAPL", orders[1].Symbol)
}

func TestSQLiteStore_MixedPrecisionTimestampsLoadChronologically(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 10, 0, 5, 0, time.UTC)

	// A sub-second broker-sync fill and a whole-second CSV fill inside the
	// same second. External ids keep their activity keys distinct.
	subSecond := testOrder(base.Add(500 * time.Millisecond))
	subSecond.ExternalActivityID = "txn-sub"
	subSecond.ActivityKey = "txn-sub"
	wholeSecond := testOrder(base)
	wholeSecond.ExternalActivityID = "txn-whole"
	wholeSecond.ActivityKey = "txn-whole"

	_, err := store.InsertOrder(ctx, 1, subSecond)
	require.NoError(t, err)
	_, err = store.InsertOrder(ctx, 1, wholeSecond)
	require.NoError(t, err)

	orders, err := store.OrdersForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.True(t, orders[0].ExecutedAt.Equal(base),
		"the whole-second fill precedes the sub-second fill in the same second")
	assert.True(t, orders[1].ExecutedAt.Equal(base.Add(500*time.Millisecond)))
}

func TestSQLiteStore_ReplaceTradesRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	closed := testTrade("AAPL", "key-closed", openedAt, true)
	open := testTrade("MSFT", "key-open", openedAt.Add(time.Hour), false)
	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{closed, open}))

	trades, err := store.TradesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	gotClosed := trades[0]
	assert.Equal(t, models.TradeClosed, gotClosed.Status)
	assert.True(t, gotClosed.ExitPrice.Equal(decimal.RequireFromString("155.75")))
	assert.True(t, gotClosed.RealizedPnL.Equal(decimal.RequireFromString("550")))
	require.NotNil(t, gotClosed.ClosedAt)
	assert.True(t, gotClosed.ClosedAt.Equal(*closed.ClosedAt))
	assert.Equal(t, []int64{1, 2}, gotClosed.OrderIDs)

	gotOpen := trades[1]
	assert.Equal(t, models.TradeOpen, gotOpen.Status)
	assert.True(t, gotOpen.ExitPrice.IsZero())
	assert.Nil(t, gotOpen.ClosedAt)
}

func TestSQLiteStore_ReplaceTradesDiscardsPriorSet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-old", openedAt, false),
	}))
	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-new", openedAt, true),
	}))

	trades, err := store.TradesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "key-new", trades[0].TradeKey)
}

func TestSQLiteStore_ReplaceTradesIsolatesUsers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-user1", openedAt, false),
	}))
	require.NoError(t, store.ReplaceTrades(ctx, 2, []*models.Trade{
		testTrade("TSLA", "key-user2", openedAt, false),
	}))

	trades, err := store.TradesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "key-user1", trades[0].TradeKey)
}

func TestSQLiteStore_AnnotationsSurviveReplace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-1", openedAt, true),
	}))
	require.NoError(t, store.SaveAnnotation(ctx, &models.TradeAnnotation{
		UserID:   1,
		TradeKey: "key-1",
		Notes:    "earnings play",
		Tags:     []string{"earnings", "gap-up"},
	}))

	// A rebuild rewrites the trades table; the annotation re-attaches by key.
	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-1", openedAt, true),
	}))

	trades, err := store.TradesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "earnings play", trades[0].Notes)
	assert.Equal(t, []string{"earnings", "gap-up"}, trades[0].Tags)
}

func TestSQLiteStore_SaveAnnotationUpserts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceTrades(ctx, 1, []*models.Trade{
		testTrade("AAPL", "key-1", openedAt, false),
	}))

	require.NoError(t, store.SaveAnnotation(ctx, &models.TradeAnnotation{
		UserID: 1, TradeKey: "key-1", Notes: "first note", Tags: []string{"a"},
	}))
	require.NoError(t, store.SaveAnnotation(ctx, &models.TradeAnnotation{
		UserID: 1, TradeKey: "key-1", Notes: "revised note", Tags: []string{"a", "b"},
	}))

	trades, err := store.TradesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "revised note", trades[0].Notes)
	assert.Equal(t, []string{"a", "b"}, trades[0].Tags)
}
