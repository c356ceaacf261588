package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradevault/backend/src/models"
)

func replayTrades(t *testing.T, orders []*models.Order) []*models.Trade {
	t.Helper()
	book, err := replay(1, orders)
	require.NoError(t, err)
	trades, _ := book.materialize()
	return trades
}

func TestMaterialize_PartialCloseSplitsIntoClosedAndOpen(t *testing.T) {
	b := newOrderBuilder()
	buy1 := b.order("AAPL", models.SideBuy, 100, "10")
	buy2 := b.order("AAPL", models.SideBuy, 50, "12")
	sell := b.order("AAPL", models.SideSell, 120, "15")

	trades := replayTrades(t, []*models.Order{buy1, buy2, sell})
	require.Len(t, trades, 2)

	closed := trades[0]
	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.Equal(t, models.TradeLong, closed.Side)
	assert.Equal(t, int64(120), closed.Quantity)
	// 100 @ 10 + 20 @ 12 = 1240 cost over 120 shares
	assert.True(t, closed.EntryPrice.Equal(dec("1240").Div(dec("120"))),
		"entry %s", closed.EntryPrice)
	assert.True(t, closed.ExitPrice.Equal(dec("15")))
	assert.True(t, closed.RealizedPnL.Equal(dec("560")), "pnl %s", closed.RealizedPnL)
	assert.True(t, closed.OpenedAt.Equal(buy1.ExecutedAt))
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(sell.ExecutedAt))
	assert.Equal(t, []int64{buy1.ID, buy2.ID, sell.ID}, closed.OrderIDs)

	open := trades[1]
	assert.Equal(t, models.TradeOpen, open.Status)
	assert.Equal(t, models.TradeLong, open.Side)
	assert.Equal(t, int64(30), open.Quantity)
	assert.True(t, open.EntryPrice.Equal(dec("12")), "residual keeps its original price")
	assert.True(t, open.RealizedPnL.IsZero())
	assert.True(t, open.OpenedAt.Equal(buy2.ExecutedAt), "open trade dates from its earliest surviving lot")
	assert.Nil(t, open.ClosedAt)
	assert.Equal(t, []int64{buy2.ID}, open.OrderIDs)
}

func TestMaterialize_FullCloseProducesSingleClosedTrade(t *testing.T) {
	b := newOrderBuilder()
	orders := []*models.Order{
		b.order("TSLA", models.SideBuy, 10, "5"),
		b.order("TSLA", models.SideBuy, 10, "6"),
		b.order("TSLA", models.SideBuy, 10, "7"),
		b.order("TSLA", models.SideSell, 30, "10"),
	}

	trades := replayTrades(t, orders)
	require.Len(t, trades, 1)

	closed := trades[0]
	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.Equal(t, int64(30), closed.Quantity)
	assert.True(t, closed.EntryPrice.Equal(dec("6")))
	assert.True(t, closed.ExitPrice.Equal(dec("10")))
	assert.True(t, closed.RealizedPnL.Equal(dec("120")))
}

func TestMaterialize_TradeAccumulatesAcrossPartialCloses(t *testing.T) {
	b := newOrderBuilder()
	orders := []*models.Order{
		b.order("AAPL", models.SideBuy, 100, "10"),
		b.order("AAPL", models.SideSell, 40, "12"),
		b.order("AAPL", models.SideSell, 60, "14"),
	}

	trades := replayTrades(t, orders)
	require.Len(t, trades, 1, "partial closes extend one trade, they never start another")

	closed := trades[0]
	assert.Equal(t, int64(100), closed.Quantity)
	// exit = (40*12 + 60*14) / 100
	assert.True(t, closed.ExitPrice.Equal(dec("13.2")), "exit %s", closed.ExitPrice)
	assert.True(t, closed.RealizedPnL.Equal(dec("320")))
}

func TestMaterialize_FlipClosesAndOpensOppositeTrade(t *testing.T) {
	b := newOrderBuilder()
	buy := b.order("AAPL", models.SideBuy, 50, "20")
	sell := b.order("AAPL", models.SideSell, 80, "18")

	trades := replayTrades(t, []*models.Order{buy, sell})
	require.Len(t, trades, 2)

	closed := trades[0]
	assert.Equal(t, models.TradeClosed, closed.Status)
	assert.Equal(t, models.TradeLong, closed.Side)
	assert.Equal(t, int64(50), closed.Quantity)
	assert.True(t, closed.RealizedPnL.Equal(dec("-100")), "pnl %s", closed.RealizedPnL)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(sell.ExecutedAt))

	open := trades[1]
	assert.Equal(t, models.TradeOpen, open.Status)
	assert.Equal(t, models.TradeShort, open.Side, "excess opens a brand-new trade on the other side")
	assert.Equal(t, int64(30), open.Quantity)
	assert.True(t, open.EntryPrice.Equal(dec("18")))
	assert.True(t, open.OpenedAt.Equal(sell.ExecutedAt))
	assert.NotEqual(t, closed.TradeKey, open.TradeKey)
}

func TestMaterialize_ShortRoundTripPnL(t *testing.T) {
	b := newOrderBuilder()
	orders := []*models.Order{
		b.order("SPY", models.SideSell, 100, "50"),
		b.order("SPY", models.SideBuy, 100, "45"),
	}

	trades := replayTrades(t, orders)
	require.Len(t, trades, 1)

	closed := trades[0]
	assert.Equal(t, models.TradeShort, closed.Side)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")), "short profits when price falls, got %s", closed.RealizedPnL)
}

func TestMaterialize_CommissionSplitsBetweenClosedAndOpen(t *testing.T) {
	b := newOrderBuilder()
	buy := b.order("AAPL", models.SideBuy, 100, "10")
	buy.Commission = dec("2")
	sell := b.order("AAPL", models.SideSell, 40, "12")
	sell.Commission = dec("1")

	trades := replayTrades(t, []*models.Order{buy, sell})
	require.Len(t, trades, 2)

	byStatus := map[models.TradeStatus]*models.Trade{}
	for _, tr := range trades {
		byStatus[tr.Status] = tr
	}
	closed, open := byStatus[models.TradeClosed], byStatus[models.TradeOpen]
	require.NotNil(t, closed)
	require.NotNil(t, open)
	// Closed carries 40/100 of the opening commission plus the full close.
	assert.True(t, closed.Commission.Equal(dec("1.8")), "closed commission %s", closed.Commission)
	assert.True(t, open.Commission.Equal(dec("1.2")), "open commission %s", open.Commission)
}

func TestMaterialize_SymbolsAreIndependent(t *testing.T) {
	b := newOrderBuilder()
	orders := []*models.Order{
		b.order("AAPL", models.SideBuy, 10, "10"),
		b.order("MSFT", models.SideBuy, 20, "30"),
		b.order("AAPL", models.SideSell, 10, "11"),
	}

	trades := replayTrades(t, orders)
	require.Len(t, trades, 2)

	bySymbol := map[string]*models.Trade{}
	for _, tr := range trades {
		bySymbol[tr.Symbol] = tr
	}
	assert.Equal(t, models.TradeClosed, bySymbol["AAPL"].Status)
	assert.Equal(t, models.TradeOpen, bySymbol["MSFT"].Status)
	assert.Equal(t, int64(20), bySymbol["MSFT"].Quantity)
}

func TestMaterialize_IsReadOnlyAndRepeatable(t *testing.T) {
	b := newOrderBuilder()
	book, err := replay(1, []*models.Order{
		b.order("AAPL", models.SideBuy, 100, "10"),
		b.order("AAPL", models.SideSell, 40, "12"),
	})
	require.NoError(t, err)

	first, _ := book.materialize()
	second, _ := book.materialize()
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].TradeKey, second[i].TradeKey)
		assert.Equal(t, first[i].Quantity, second[i].Quantity)
	}

	// Folding continues after a materialization snapshot.
	require.NoError(t, book.fold(1, b.order("AAPL", models.SideSell, 60, "13")))
	after, _ := book.materialize()
	require.Len(t, after, 1)
	assert.Equal(t, models.TradeClosed, after[0].Status)
	assert.Equal(t, int64(100), after[0].Quantity)
}

func TestReplay_DeterministicTradeKeys(t *testing.T) {
	build := func() []*models.Order {
		b := newOrderBuilder()
		return []*models.Order{
			b.order("AAPL", models.SideBuy, 100, "10"),
			b.order("AAPL", models.SideBuy, 50, "12"),
			b.order("AAPL", models.SideSell, 120, "15"),
			b.order("MSFT", models.SideSell, 10, "300"),
		}
	}

	first := replayTrades(t, build())
	second := replayTrades(t, build())
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].TradeKey, second[i].TradeKey,
			"rebuilding an unchanged history must reproduce identical trade keys")
	}
}

func TestReplay_QuantityConservation(t *testing.T) {
	b := newOrderBuilder()
	orders := []*models.Order{
		b.order("AAPL", models.SideBuy, 100, "10"),
		b.order("AAPL", models.SideBuy, 50, "12"),
		b.order("AAPL", models.SideSell, 70, "15"),
		b.order("AAPL", models.SideSell, 30, "16"),
	}

	trades := replayTrades(t, orders)

	var closedQty, openQty int64
	for _, tr := range trades {
		if tr.Status == models.TradeClosed {
			closedQty += tr.Quantity
		} else {
			openQty += tr.Quantity
		}
	}
	assert.Equal(t, int64(100), closedQty, "every matched unit is accounted for exactly once")
	assert.Equal(t, int64(50), openQty, "150 bought minus 100 sold remains open")
}
