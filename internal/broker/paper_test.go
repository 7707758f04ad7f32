package broker

import (
	"context"
	"testing"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMarket struct {
	price decimal.Decimal
}

func (f *fakeMarket) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeMarket) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	return nil, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPaperBuyDeductsCashAndFee(t *testing.T) {
	market := &fakeMarket{price: dec("100")}
	paper := NewPaper(market, dec("1000"), dec("0.001"), zap.NewNop().Sugar())

	res, err := paper.CreateMarketBuy(context.Background(), "BTCUSDT", dec("100"))
	require.NoError(t, err)

	assert.Equal(t, models.Buy, res.Side)
	assert.True(t, res.Cost.Equal(dec("100")))
	assert.True(t, res.Fee.Equal(dec("0.1")))
	// 100 spent minus 0.1 fee buys 0.999 at price 100.
	assert.True(t, res.Filled.Equal(dec("0.999")), "filled %s", res.Filled)

	cash, err := paper.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("900")))
}

func TestPaperSellRoundTrip(t *testing.T) {
	market := &fakeMarket{price: dec("100")}
	paper := NewPaper(market, dec("1000"), decimal.Zero, zap.NewNop().Sugar())

	_, err := paper.CreateMarketBuy(context.Background(), "BTCUSDT", dec("100"))
	require.NoError(t, err)

	market.price = dec("110")
	res, err := paper.CreateMarketSell(context.Background(), "BTCUSDT", dec("1"))
	require.NoError(t, err)
	assert.True(t, res.Cost.Equal(dec("110")))

	cash, err := paper.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("1010")), "cash %s", cash)
}

func TestPaperRejectsOverspend(t *testing.T) {
	market := &fakeMarket{price: dec("100")}
	paper := NewPaper(market, dec("50"), decimal.Zero, zap.NewNop().Sugar())

	_, err := paper.CreateMarketBuy(context.Background(), "BTCUSDT", dec("100"))
	assert.Error(t, err)

	_, err = paper.CreateMarketSell(context.Background(), "BTCUSDT", dec("1"))
	assert.Error(t, err)
}

func TestPaperTotalBalanceValuesHoldings(t *testing.T) {
	market := &fakeMarket{price: dec("100")}
	paper := NewPaper(market, dec("1000"), decimal.Zero, zap.NewNop().Sugar())

	_, err := paper.CreateMarketBuy(context.Background(), "BTCUSDT", dec("500"))
	require.NoError(t, err)

	market.price = dec("120")
	total, err := paper.GetTotalBalanceUSDT(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	// 500 cash + 5 units now worth 120 each.
	assert.True(t, total.Equal(dec("1100")), "total %s", total)
}
