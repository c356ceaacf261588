package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradevault/backend/src/models"
)

var testClock = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// order builds a test fill; each call advances the shared timestamp by one
// minute so replays stay chronologically ordered.
type orderBuilder struct {
	nextID int64
	at     time.Time
}

func newOrderBuilder() *orderBuilder {
	return &orderBuilder{nextID: 1, at: testClock}
}

func (b *orderBuilder) order(symbol string, side models.OrderSide, qty int64, price string) *models.Order {
	o := &models.Order{
		ID:         b.nextID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      dec(price),
		ExecutedAt: b.at,
		Seq:        b.nextID,
	}
	o.ActivityKey = o.ComputeActivityKey(1)
	b.nextID++
	b.at = b.at.Add(time.Minute)
	return o
}

func TestPositionApply_OpeningOrdersQueueLots(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	res, err := pos.Apply(b.order("AAPL", models.SideBuy, 100, "10"))
	require.NoError(t, err)
	require.NotNil(t, res.Opened)
	assert.False(t, res.Flat)
	assert.False(t, res.Flipped)

	_, err = pos.Apply(b.order("AAPL", models.SideBuy, 50, "12"))
	require.NoError(t, err)

	assert.Equal(t, models.SideBuy, pos.Side())
	assert.Equal(t, int64(150), pos.OpenQuantity())
	assert.Len(t, pos.Lots(), 2)
}

func TestPositionApply_FIFOConsumesOldestFirst(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	buy1 := b.order("AAPL", models.SideBuy, 100, "10")
	buy2 := b.order("AAPL", models.SideBuy, 50, "12")
	_, err := pos.Apply(buy1)
	require.NoError(t, err)
	_, err = pos.Apply(buy2)
	require.NoError(t, err)

	res, err := pos.Apply(b.order("AAPL", models.SideSell, 120, "15"))
	require.NoError(t, err)

	require.Len(t, res.Consumed, 2)
	assert.Equal(t, buy1.ID, res.Consumed[0].OpenOrderID)
	assert.Equal(t, int64(100), res.Consumed[0].Quantity)
	assert.True(t, res.Consumed[0].EntryPrice.Equal(dec("10")))
	assert.Equal(t, buy2.ID, res.Consumed[1].OpenOrderID)
	assert.Equal(t, int64(20), res.Consumed[1].Quantity)
	assert.True(t, res.Consumed[1].EntryPrice.Equal(dec("12")))

	assert.False(t, res.Flat)
	assert.False(t, res.Flipped)
	assert.Equal(t, int64(30), pos.OpenQuantity())
}

func TestPositionApply_RemainderKeepsOriginalPriceAndTimestamp(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	buy := b.order("AAPL", models.SideBuy, 100, "10")
	_, err := pos.Apply(buy)
	require.NoError(t, err)
	_, err = pos.Apply(b.order("AAPL", models.SideSell, 40, "12"))
	require.NoError(t, err)

	require.Len(t, pos.Lots(), 1)
	lot := pos.Lots()[0]
	assert.Equal(t, int64(60), lot.Remaining)
	assert.Equal(t, int64(100), lot.OriginalQuantity)
	assert.True(t, lot.Price.Equal(dec("10")), "remainder is never re-priced")
	assert.True(t, lot.ExecutedAt.Equal(buy.ExecutedAt))
}

func TestPositionApply_SameTimestampTieBreaksByInsertionOrder(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	first := b.order("AAPL", models.SideBuy, 10, "10")
	second := b.order("AAPL", models.SideBuy, 10, "11")
	second.ExecutedAt = first.ExecutedAt
	_, err := pos.Apply(first)
	require.NoError(t, err)
	_, err = pos.Apply(second)
	require.NoError(t, err)

	res, err := pos.Apply(b.order("AAPL", models.SideSell, 10, "12"))
	require.NoError(t, err)

	require.Len(t, res.Consumed, 1)
	assert.Equal(t, first.ID, res.Consumed[0].OpenOrderID,
		"equal timestamps consume in ingestion order")
}

func TestPositionApply_FullCloseGoesFlat(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("TSLA")

	_, err := pos.Apply(b.order("TSLA", models.SideBuy, 30, "5"))
	require.NoError(t, err)
	res, err := pos.Apply(b.order("TSLA", models.SideSell, 30, "8"))
	require.NoError(t, err)

	assert.True(t, res.Flat)
	assert.False(t, res.Flipped)
	assert.Nil(t, res.Opened)
	assert.Equal(t, int64(0), pos.OpenQuantity())
	assert.Equal(t, models.OrderSide(""), pos.Side())
}

func TestPositionApply_OversizedCloseFlipsPosition(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	_, err := pos.Apply(b.order("AAPL", models.SideBuy, 50, "20"))
	require.NoError(t, err)
	sell := b.order("AAPL", models.SideSell, 80, "18")
	res, err := pos.Apply(sell)
	require.NoError(t, err)

	require.Len(t, res.Consumed, 1)
	assert.Equal(t, int64(50), res.Consumed[0].Quantity)
	assert.True(t, res.Flipped)
	assert.False(t, res.Flat)
	require.NotNil(t, res.Opened)
	assert.Equal(t, models.SideSell, res.Opened.Side)
	assert.Equal(t, int64(30), res.Opened.Remaining)
	assert.True(t, res.Opened.Price.Equal(dec("18")))

	assert.Equal(t, models.SideSell, pos.Side())
	assert.Equal(t, int64(30), pos.OpenQuantity())
}

func TestPositionApply_ShortSideMatchesSymmetrically(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("SPY")

	_, err := pos.Apply(b.order("SPY", models.SideSell, 100, "50"))
	require.NoError(t, err)
	res, err := pos.Apply(b.order("SPY", models.SideBuy, 100, "45"))
	require.NoError(t, err)

	require.Len(t, res.Consumed, 1)
	assert.True(t, res.Consumed[0].EntryPrice.Equal(dec("50")))
	assert.True(t, res.Flat)
}

func TestPositionApply_ProratesOpenCommissionAcrossSlices(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	buy := b.order("AAPL", models.SideBuy, 100, "10")
	buy.Commission = dec("2")
	buy.Fees = dec("0.50")
	_, err := pos.Apply(buy)
	require.NoError(t, err)

	res, err := pos.Apply(b.order("AAPL", models.SideSell, 40, "12"))
	require.NoError(t, err)

	require.Len(t, res.Consumed, 1)
	assert.True(t, res.Consumed[0].OpenCommission.Equal(dec("0.8")),
		"40/100 of the opening commission, got %s", res.Consumed[0].OpenCommission)
	assert.True(t, res.Consumed[0].OpenFees.Equal(dec("0.2")))
}

func TestPositionApply_CorruptLotIsFatal(t *testing.T) {
	b := newOrderBuilder()
	pos := NewPosition("AAPL")

	_, err := pos.Apply(b.order("AAPL", models.SideBuy, 10, "10"))
	require.NoError(t, err)
	pos.Lots()[0].Remaining = 0 // simulate a corrupted queue entry

	_, err = pos.Apply(b.order("AAPL", models.SideSell, 5, "11"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPositionCorrupt)
}
