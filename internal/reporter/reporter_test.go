package reporter

import (
	"context"
	"testing"
	"time"

	"binance-dca-bot-go/internal/ledger"
	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCycle(t *testing.T, store *ledger.Store, symbol string) *models.Cycle {
	t.Helper()
	c := &models.Cycle{
		Symbol:            symbol,
		Status:            models.CycleActive,
		BuyCount:          1,
		MaxBuys:           5,
		TotalInvested:     dec("100"),
		TotalQuantity:     dec("1"),
		RemainingQuantity: dec("1"),
		AveragePrice:      dec("100"),
		NextBuyPrice:      dec("97"),
		TargetSellPrice:   dec("103"),
		GridPercent:       dec("0.03"),
		EntryPercent:      dec("0.10"),
	}
	p := &models.Position{
		Symbol: symbol, Side: models.Buy, BuyNumber: 1,
		Quantity: dec("1"), RemainingQuantity: dec("1"),
		EntryPrice: dec("100"), InvestedAmount: dec("100"),
		Status: models.PositionOpen,
	}
	tr := &models.TradeRecord{
		Symbol: symbol, Side: models.Buy, Quantity: dec("1"),
		Price: dec("100"), QuoteValue: dec("100"), OrderID: "seed", Description: "cycle open",
	}
	require.NoError(t, store.OpenCycle(context.Background(), c, p, tr))
	return c
}

func TestStatusTable(t *testing.T) {
	store := openTestStore(t)
	seedCycle(t, store, "BTCUSDT")
	require.NoError(t, store.SaveBotState(context.Background(), &models.BotState{
		Scope: "ETHUSDT", State: models.RiskPausedCrash, UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SaveBotState(context.Background(), &models.BotState{
		Scope: models.ScopeGlobal, State: models.RiskRunning, UpdatedAt: time.Now().UTC(),
	}))

	r := New(store, time.Minute, zap.NewNop().Sugar())
	out, err := r.statusTable(context.Background())
	require.NoError(t, err)

	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "1/5")
	assert.Contains(t, out, "103.0000")
	// A paused symbol with no cycle still gets a row.
	assert.Contains(t, out, "ETHUSDT")
	assert.Contains(t, out, "PAUSED_CRASH")
	assert.Contains(t, out, "SEARCHING")
	assert.Contains(t, out, "GLOBAL")
}

func TestSummaryTable(t *testing.T) {
	store := openTestStore(t)
	c := seedCycle(t, store, "BTCUSDT")
	sell := &models.TradeRecord{
		Symbol: "BTCUSDT", Side: models.Sell, Quantity: dec("1"),
		Price: dec("104"), QuoteValue: dec("104"), OrderID: "sell", Description: "full_sell",
	}
	require.NoError(t, store.CompleteCycle(context.Background(), c, dec("104"), sell))

	r := New(store, time.Minute, zap.NewNop().Sugar())
	r.startedAt = time.Now().UTC().Add(-time.Hour)
	for _, b := range []string{"1000", "1100", "990", "1050"} {
		r.ObserveBalance(dec(b))
	}

	out, err := r.summaryTable(context.Background())
	require.NoError(t, err)

	assert.Contains(t, out, "Completed cycles")
	assert.Contains(t, out, "Win rate")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "4.00") // net profit on 100 invested at 104
	assert.Contains(t, out, "10.00%") // drawdown from 1100 to 990
	assert.Contains(t, out, "1050.00")
}

func TestMaxDrawdown(t *testing.T) {
	curve := []decimal.Decimal{dec("1000"), dec("1100"), dec("990"), dec("1050")}
	assert.True(t, maxDrawdown(curve).Equal(dec("0.1")), "got %s", maxDrawdown(curve))

	assert.True(t, maxDrawdown(nil).IsZero())
	assert.True(t, maxDrawdown([]decimal.Decimal{dec("1000")}).IsZero())

	rising := []decimal.Decimal{dec("1000"), dec("1010"), dec("1020")}
	assert.True(t, maxDrawdown(rising).IsZero())
}
