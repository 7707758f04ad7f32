package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketData is the public-endpoint subset Paper delegates to; the
// keyless live broker satisfies it.
type MarketData interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// Paper simulates an account against live market prices: quote cash,
// per-symbol holdings, taker fee deducted in quote. Orders always fill
// at the current price.
type Paper struct {
	market  MarketData
	feeRate decimal.Decimal
	log     *zap.SugaredLogger

	mu          sync.Mutex
	cash        decimal.Decimal
	holdings    map[string]decimal.Decimal
	totalFees   decimal.Decimal
	nextOrderID int64
}

// NewPaper builds the simulated broker with a starting quote balance.
func NewPaper(market MarketData, startBalance, feeRate decimal.Decimal, log *zap.SugaredLogger) *Paper {
	return &Paper{
		market:      market,
		feeRate:     feeRate,
		log:         log,
		cash:        startBalance,
		holdings:    make(map[string]decimal.Decimal),
		totalFees:   decimal.Zero,
		nextOrderID: 1,
	}
}

func (p *Paper) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.market.GetCurrentPrice(ctx, symbol)
}

func (p *Paper) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	return p.market.RecentKlines(ctx, symbol, interval, limit)
}

func (p *Paper) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

func (p *Paper) GetTotalBalanceUSDT(ctx context.Context, symbols []string) (decimal.Decimal, error) {
	p.mu.Lock()
	holdings := make(map[string]decimal.Decimal, len(p.holdings))
	for s, q := range p.holdings {
		holdings[s] = q
	}
	total := p.cash
	p.mu.Unlock()

	for _, symbol := range symbols {
		qty, ok := holdings[symbol]
		if !ok || qty.IsZero() {
			continue
		}
		price, err := p.market.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("value paper holdings %s: %w", symbol, err)
		}
		total = total.Add(qty.Mul(price))
	}
	return total, nil
}

func (p *Paper) CreateMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*models.OrderResult, error) {
	price, err := p.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper buy %s: %w", symbol, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cash.LessThan(quoteAmount) {
		return nil, fmt.Errorf("paper buy %s: insufficient cash %s < %s", symbol, p.cash, quoteAmount)
	}

	fee := quoteAmount.Mul(p.feeRate)
	qty := quoteAmount.Sub(fee).Div(price)
	p.cash = p.cash.Sub(quoteAmount)
	p.holdings[symbol] = p.holdings[symbol].Add(qty)
	p.totalFees = p.totalFees.Add(fee)

	result := p.fill(symbol, models.Buy, price, qty, quoteAmount, fee)
	p.log.Infow("paper buy filled",
		"symbol", symbol, "cost", quoteAmount, "filled", qty, "price", price)
	return result, nil
}

func (p *Paper) CreateMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderResult, error) {
	price, err := p.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper sell %s: %w", symbol, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.holdings[symbol]
	if held.LessThan(quantity) {
		return nil, fmt.Errorf("paper sell %s: insufficient holdings %s < %s", symbol, held, quantity)
	}

	gross := quantity.Mul(price)
	fee := gross.Mul(p.feeRate)
	p.holdings[symbol] = held.Sub(quantity)
	p.cash = p.cash.Add(gross.Sub(fee))
	p.totalFees = p.totalFees.Add(fee)

	result := p.fill(symbol, models.Sell, price, quantity, gross, fee)
	p.log.Infow("paper sell filled",
		"symbol", symbol, "quantity", quantity, "proceeds", gross, "price", price)
	return result, nil
}

// fill builds the order result; callers hold the mutex.
func (p *Paper) fill(symbol string, side models.Side, price, qty, cost, fee decimal.Decimal) *models.OrderResult {
	id := p.nextOrderID
	p.nextOrderID++
	return &models.OrderResult{
		OrderID:       fmt.Sprintf("paper-%d", id),
		ClientOrderID: newClientOrderID(),
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Filled:        qty,
		Cost:          cost,
		Fee:           fee,
		CreatedAt:     time.Now(),
	}
}

// Binance spot floors market orders at 5 USDT; the simulation keeps the
// same rule so paper sizing rejections match live behavior.
func (p *Paper) GetMinOrderValue(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(5), nil
}

func (p *Paper) GetQuantityStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// TotalFees reports accumulated simulated fees for the session report.
func (p *Paper) TotalFees() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFees
}
