package ledger

import (
	"context"
	"testing"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// buyFixture builds the cycle, first position and trade for one opening
// buy of quoteAmount at price.
func buyFixture(symbol string, price, quoteAmount decimal.Decimal) (*models.Cycle, *models.Position, *models.TradeRecord) {
	qty := quoteAmount.Div(price)
	grid := dec("0.03")
	target := dec("0.03")
	one := decimal.NewFromInt(1)
	c := &models.Cycle{
		Symbol:            symbol,
		Status:            models.CycleActive,
		BuyCount:          1,
		MaxBuys:           5,
		TotalInvested:     quoteAmount,
		TotalQuantity:     qty,
		RemainingQuantity: qty,
		AveragePrice:      price,
		NextBuyPrice:      price.Mul(one.Sub(grid)),
		TargetSellPrice:   price.Mul(one.Add(target)),
		GridPercent:       grid,
		EntryPercent:      dec("0.10"),
	}
	p := &models.Position{
		Symbol:            symbol,
		Side:              models.Buy,
		BuyNumber:         1,
		Quantity:          qty,
		RemainingQuantity: qty,
		EntryPrice:        price,
		InvestedAmount:    quoteAmount,
		Fee:               decimal.Zero,
		Status:            models.PositionOpen,
	}
	tr := &models.TradeRecord{
		Symbol:     symbol,
		Side:       models.Buy,
		Quantity:   qty,
		Price:      price,
		QuoteValue: quoteAmount,
		Fee:        decimal.Zero,
		OrderID:    "t-1",
	}
	return c, p, tr
}

func TestActiveCycleNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ActiveCycle(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenCycleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, p, tr := buyFixture("BTCUSDT", dec("100"), dec("100"))
	require.NoError(t, s.OpenCycle(ctx, c, p, tr))
	assert.NotZero(t, c.ID)
	assert.Equal(t, c.ID, p.CycleID)

	got, err := s.ActiveCycle(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.CycleActive, got.Status)
	assert.True(t, got.TotalInvested.Equal(dec("100")), "invested %s", got.TotalInvested)
	assert.True(t, got.TotalQuantity.Equal(dec("1")), "quantity %s", got.TotalQuantity)
	assert.True(t, got.NextBuyPrice.Equal(dec("97")), "next buy %s", got.NextBuyPrice)
	assert.True(t, got.TargetSellPrice.Equal(dec("103")), "target %s", got.TargetSellPrice)
	assert.False(t, got.PartialSellDone)
	assert.False(t, got.TrailingHighPrice.Valid)

	positions, err := s.Positions(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 1, positions[0].BuyNumber)
	assert.True(t, positions[0].EntryPrice.Equal(dec("100")))
}

func TestAppendPositionRecomputesAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, p, tr := buyFixture("BTCUSDT", dec("100"), dec("100"))
	require.NoError(t, s.OpenCycle(ctx, c, p, tr))

	second := &models.Position{
		Symbol:            "BTCUSDT",
		Side:              models.Buy,
		BuyNumber:         2,
		Quantity:          dec("1"),
		RemainingQuantity: dec("1"),
		EntryPrice:        dec("95"),
		InvestedAmount:    dec("95"),
		Fee:               decimal.Zero,
		Status:            models.PositionOpen,
	}
	trade := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Buy,
		Quantity: dec("1"), Price: dec("95"), QuoteValue: dec("95"),
		Fee: decimal.Zero, OrderID: "t-2",
	}
	require.NoError(t, s.AppendPosition(ctx, c, second, trade, dec("0.03")))

	assert.Equal(t, 2, c.BuyCount)
	assert.True(t, c.TotalInvested.Equal(dec("195")), "invested %s", c.TotalInvested)
	assert.True(t, c.AveragePrice.Equal(dec("97.5")), "average %s", c.AveragePrice)
	assert.True(t, c.NextBuyPrice.Equal(dec("92.15")), "next buy %s", c.NextBuyPrice)
	assert.True(t, c.TargetSellPrice.Equal(dec("97.5").Mul(dec("1.03"))), "target %s", c.TargetSellPrice)

	// Persisted aggregates obey averagePrice == totalInvested/totalQuantity.
	got, err := s.ActiveCycle(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, got.AveragePrice.Equal(got.TotalInvested.Div(got.TotalQuantity)),
		"average %s invested %s quantity %s", got.AveragePrice, got.TotalInvested, got.TotalQuantity)
}

func TestApplyPartialSell(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, p, tr := buyFixture("BTCUSDT", dec("100"), dec("200"))
	require.NoError(t, s.OpenCycle(ctx, c, p, tr))

	trade := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Sell,
		Quantity: dec("1"), Price: dec("103"), QuoteValue: dec("103"),
		Fee: decimal.Zero, OrderID: "t-sell",
	}
	high := dec("103")
	stop := high.Mul(dec("0.985"))
	require.NoError(t, s.ApplyPartialSell(ctx, c, dec("0.5"), high, stop, trade))

	assert.Equal(t, models.CycleTrailing, c.Status)
	assert.True(t, c.PartialSellDone)
	assert.True(t, c.RemainingQuantity.Equal(dec("1")), "remaining %s", c.RemainingQuantity)
	require.True(t, c.TrailingStopPrice.Valid)
	assert.True(t, c.TrailingStopPrice.Decimal.Equal(stop))

	positions, err := s.Positions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.PositionPartiallyClosed, positions[0].Status)
	assert.True(t, positions[0].RemainingQuantity.Equal(dec("1")))
}

func TestApplyPartialSellClosesEmptiedPositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, p, tr := buyFixture("BTCUSDT", dec("100"), dec("100"))
	require.NoError(t, s.OpenCycle(ctx, c, p, tr))

	trade := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Sell,
		Quantity: dec("1"), Price: dec("103"), QuoteValue: dec("103"),
		Fee: decimal.Zero, OrderID: "t-sell",
	}
	require.NoError(t, s.ApplyPartialSell(ctx, c, dec("1"), dec("103"), dec("101.455"), trade))

	positions, err := s.Positions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.PositionClosed, positions[0].Status)
	assert.True(t, positions[0].ClosedAt.Valid)
	assert.True(t, c.RemainingQuantity.IsZero())
}

func TestCompleteCycleSettlesProfit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, p, tr := buyFixture("BTCUSDT", dec("100"), dec("200"))
	require.NoError(t, s.OpenCycle(ctx, c, p, tr))

	partial := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Sell,
		Quantity: dec("1"), Price: dec("103"), QuoteValue: dec("103"),
		Fee: decimal.Zero, OrderID: "t-partial",
	}
	require.NoError(t, s.ApplyPartialSell(ctx, c, dec("0.5"), dec("103"), dec("101.455"), partial))

	final := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Sell,
		Quantity: dec("1"), Price: dec("105"), QuoteValue: dec("105"),
		Fee: decimal.Zero, OrderID: "t-final",
	}
	require.NoError(t, s.CompleteCycle(ctx, c, dec("105"), final))

	assert.Equal(t, models.CycleCompleted, c.Status)
	assert.True(t, c.RemainingQuantity.IsZero())
	require.True(t, c.TotalProfit.Valid)
	// Sales 103 + 105 = 208 against 200 invested.
	assert.True(t, c.TotalProfit.Decimal.Equal(dec("8")), "profit %s", c.TotalProfit.Decimal)
	require.True(t, c.ProfitPercent.Valid)
	assert.True(t, c.ProfitPercent.Decimal.Equal(dec("0.04")), "pct %s", c.ProfitPercent.Decimal)
	assert.True(t, c.ClosedAt.Valid)

	// Terminal cycle: the symbol is searching again.
	_, err := s.ActiveCycle(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)

	positions, err := s.Positions(ctx, c.ID)
	require.NoError(t, err)
	for _, pos := range positions {
		assert.Equal(t, models.PositionClosed, pos.Status)
		assert.True(t, pos.RemainingQuantity.IsZero())
	}
}

func TestBotStateUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadBotState(ctx, models.ScopeGlobal)
	assert.ErrorIs(t, err, ErrNotFound)

	st := models.NewBotState(models.ScopeGlobal, time.Now())
	st.PeakBalance = dec("1000")
	st.CurrentBalance = dec("950")
	require.NoError(t, s.SaveBotState(ctx, st))

	st.State = models.RiskPausedDrawdown
	st.MaxDrawdownHit = dec("0.16")
	require.NoError(t, s.SaveBotState(ctx, st))

	got, err := s.LoadBotState(ctx, models.ScopeGlobal)
	require.NoError(t, err)
	assert.Equal(t, models.RiskPausedDrawdown, got.State)
	assert.True(t, got.PeakBalance.Equal(dec("1000")))
	assert.True(t, got.MaxDrawdownHit.Equal(dec("0.16")))

	all, err := s.BotStates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCrashEventLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open, err := s.HasUnresolvedCrash(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, open)

	ev := &models.CrashEvent{
		ID:            uuid.NewString(),
		Symbol:        "ETHUSDT",
		DropPercent:   dec("0.08"),
		WindowMinutes: 60,
		PriceBefore:   dec("2000"),
		PriceAfter:    dec("1840"),
		DetectedAt:    time.Now(),
	}
	require.NoError(t, s.RecordCrashEvent(ctx, ev))

	open, err = s.HasUnresolvedCrash(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, open)

	n, err := s.ResolveCrashEvents(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	open, err = s.HasUnresolvedCrash(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestSessionStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	for i, exit := range []string{"105", "99"} {
		symbol := "BTCUSDT"
		if i == 1 {
			symbol = "ETHUSDT"
		}
		c, p, tr := buyFixture(symbol, dec("100"), dec("100"))
		require.NoError(t, s.OpenCycle(ctx, c, p, tr))
		final := &models.TradeRecord{
			Symbol: symbol, Side: models.Sell,
			Quantity: dec("1"), Price: dec(exit), QuoteValue: dec(exit),
			Fee: decimal.Zero, OrderID: "t-" + exit,
		}
		require.NoError(t, s.CompleteCycle(ctx, c, dec(exit), final))
	}

	stats, err := s.SessionStats(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CompletedCycles)
	assert.Equal(t, 1, stats.ProfitableCount)
	assert.True(t, stats.NetProfit.Equal(dec("4")), "net %s", stats.NetProfit)
	require.True(t, stats.BestProfitPct.Valid)
	assert.True(t, stats.BestProfitPct.Decimal.Equal(dec("0.05")))
	require.True(t, stats.WorstProfitPct.Valid)
	assert.True(t, stats.WorstProfitPct.Decimal.Equal(dec("-0.01")))
}
