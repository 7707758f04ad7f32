// Package broker is the engine's only door to the exchange. The live
// implementation speaks to Binance spot through the official client,
// the paper implementation simulates fills against live prices, and a
// websocket stream keeps a last-price cache so ticks rarely pay a REST
// round trip. Every value crossing this boundary is converted to a
// decimal exactly once.
package broker

import (
	"context"
	"math/rand"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker is the order/account capability the engine trades through.
// Implementations must not retry order placement: a duplicate market
// order cannot be undone.
type Broker interface {
	// GetCurrentPrice returns the latest trade price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetBalance returns the free (spendable) balance of one asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	// GetTotalBalanceUSDT values the quote balance plus the base
	// holdings of the given symbols at current prices.
	GetTotalBalanceUSDT(ctx context.Context, symbols []string) (decimal.Decimal, error)
	// CreateMarketBuy spends quoteAmount of the quote currency.
	CreateMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*models.OrderResult, error)
	// CreateMarketSell sells quantity of the base currency.
	CreateMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderResult, error)
	// GetMinOrderValue returns the exchange minimum notional for the symbol.
	GetMinOrderValue(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetQuantityStep returns the lot step; sell quantities are
	// truncated to it. Zero means no step constraint.
	GetQuantityStep(ctx context.Context, symbol string) (decimal.Decimal, error)
	// RecentKlines returns up to limit most recent candles.
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

const (
	readAttempts  = 3
	readBaseDelay = 500 * time.Millisecond
	readMaxDelay  = 2 * time.Second
)

// retryRead runs an idempotent read up to readAttempts times with
// capped exponential backoff and jitter. Order placement never goes
// through here.
func retryRead(ctx context.Context, log *zap.SugaredLogger, op string, fn func() error) error {
	delay := readBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= readAttempts {
			return err
		}
		log.Warnw("read failed, retrying", "op", op, "attempt", attempt, "error", err)
		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > readMaxDelay {
			delay = readMaxDelay
		}
	}
}
