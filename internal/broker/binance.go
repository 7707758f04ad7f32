package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// symbolRules caches the per-symbol exchange filters; they change
// rarely enough that one fetch per process is fine.
type symbolRules struct {
	minNotional decimal.Decimal
	stepSize    decimal.Decimal
}

// Binance trades a real spot account through the official client.
type Binance struct {
	client *binance.Client
	stream *Stream // optional; nil falls back to REST prices
	quote  string
	log    *zap.SugaredLogger

	rulesMu sync.Mutex
	rules   map[string]symbolRules
}

// NewBinance builds the live broker. Empty keys still serve public
// endpoints (prices, klines), which is what paper mode relies on.
func NewBinance(apiKey, secretKey, quote string, testnet bool, stream *Stream, log *zap.SugaredLogger) *Binance {
	if testnet {
		binance.UseTestnet = true
	}
	return &Binance{
		client: binance.NewClient(apiKey, secretKey),
		stream: stream,
		quote:  quote,
		log:    log,
		rules:  make(map[string]symbolRules),
	}
}

func (b *Binance) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if b.stream != nil {
		if p, ok := b.stream.LastPrice(symbol); ok {
			return p, nil
		}
	}
	var out decimal.Decimal
	err := retryRead(ctx, b.log, "price", func() error {
		prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price returned for %s", symbol)
		}
		p, err := decimal.NewFromString(prices[0].Price)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", prices[0].Price, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return out, nil
}

func (b *Binance) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := retryRead(ctx, b.log, "balance", func() error {
		account, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		for _, bal := range account.Balances {
			if bal.Asset == asset {
				free, err := decimal.NewFromString(bal.Free)
				if err != nil {
					return fmt.Errorf("parse balance %q: %w", bal.Free, err)
				}
				out = free
				return nil
			}
		}
		out = decimal.Zero
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", asset, err)
	}
	return out, nil
}

func (b *Binance) GetTotalBalanceUSDT(ctx context.Context, symbols []string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := retryRead(ctx, b.log, "total_balance", func() error {
		account, err := b.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		byAsset := make(map[string]decimal.Decimal, len(account.Balances))
		for _, bal := range account.Balances {
			free, err := decimal.NewFromString(bal.Free)
			if err != nil {
				continue
			}
			locked, err := decimal.NewFromString(bal.Locked)
			if err != nil {
				locked = decimal.Zero
			}
			byAsset[bal.Asset] = free.Add(locked)
		}

		sum := byAsset[b.quote]
		for _, symbol := range symbols {
			base := b.baseAsset(symbol)
			held, ok := byAsset[base]
			if !ok || held.IsZero() {
				continue
			}
			price, err := b.GetCurrentPrice(ctx, symbol)
			if err != nil {
				return fmt.Errorf("value %s holdings: %w", base, err)
			}
			sum = sum.Add(held.Mul(price))
		}
		total = sum
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get total balance: %w", err)
	}
	return total, nil
}

func (b *Binance) CreateMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*models.OrderResult, error) {
	clientID := newClientOrderID()
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market buy %s %s: %w", symbol, quoteAmount, err)
	}
	result, err := b.orderResult(symbol, models.Buy, res)
	if err != nil {
		return nil, err
	}
	b.log.Infow("market buy filled",
		"symbol", symbol, "cost", result.Cost, "filled", result.Filled,
		"price", result.Price, "order_id", result.OrderID)
	return result, nil
}

func (b *Binance) CreateMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.OrderResult, error) {
	clientID := newClientOrderID()
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market sell %s %s: %w", symbol, quantity, err)
	}
	result, err := b.orderResult(symbol, models.Sell, res)
	if err != nil {
		return nil, err
	}
	b.log.Infow("market sell filled",
		"symbol", symbol, "quantity", result.Filled, "proceeds", result.Cost,
		"price", result.Price, "order_id", result.OrderID)
	return result, nil
}

// orderResult normalizes a fill response into decimals. Fee is summed
// across partial fills: quote-asset commission counts as is, base-asset
// commission is valued at the fill price.
func (b *Binance) orderResult(symbol string, side models.Side, res *binance.CreateOrderResponse) (*models.OrderResult, error) {
	filled, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse executed qty %q: %w", res.ExecutedQuantity, err)
	}
	cost, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse quote qty %q: %w", res.CummulativeQuoteQuantity, err)
	}

	var price decimal.Decimal
	if !filled.IsZero() {
		price = cost.Div(filled)
	}

	fee := decimal.Zero
	base := b.baseAsset(symbol)
	for _, fill := range res.Fills {
		c, err := decimal.NewFromString(fill.Commission)
		if err != nil {
			continue
		}
		switch fill.CommissionAsset {
		case b.quote:
			fee = fee.Add(c)
		case base:
			p, err := decimal.NewFromString(fill.Price)
			if err == nil {
				fee = fee.Add(c.Mul(p))
			}
		}
	}

	return &models.OrderResult{
		OrderID:       fmt.Sprintf("%d", res.OrderID),
		ClientOrderID: res.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Filled:        filled,
		Cost:          cost,
		Fee:           fee,
		CreatedAt:     time.UnixMilli(res.TransactTime),
	}, nil
}

func (b *Binance) GetMinOrderValue(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rules, err := b.symbolRules(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return rules.minNotional, nil
}

func (b *Binance) GetQuantityStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rules, err := b.symbolRules(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return rules.stepSize, nil
}

func (b *Binance) symbolRules(ctx context.Context, symbol string) (symbolRules, error) {
	b.rulesMu.Lock()
	if cached, ok := b.rules[symbol]; ok {
		b.rulesMu.Unlock()
		return cached, nil
	}
	b.rulesMu.Unlock()

	var parsed symbolRules
	err := retryRead(ctx, b.log, "exchange_info", func() error {
		info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		for _, s := range info.Symbols {
			if s.Symbol != symbol {
				continue
			}
			parsed = parseFilters(s.Filters)
			return nil
		}
		return fmt.Errorf("symbol %s not in exchange info", symbol)
	})
	if err != nil {
		return symbolRules{}, fmt.Errorf("get symbol rules %s: %w", symbol, err)
	}

	b.rulesMu.Lock()
	b.rules[symbol] = parsed
	b.rulesMu.Unlock()
	return parsed, nil
}

// parseFilters walks the raw filter maps; both the legacy MIN_NOTIONAL
// and the current NOTIONAL filter carry the minimum under the same key.
func parseFilters(filters []map[string]interface{}) symbolRules {
	rules := symbolRules{}
	for _, f := range filters {
		ft, _ := f["filterType"].(string)
		switch ft {
		case "NOTIONAL", "MIN_NOTIONAL":
			if raw, ok := f["minNotional"].(string); ok {
				if v, err := decimal.NewFromString(raw); err == nil {
					rules.minNotional = v
				}
			}
		case "LOT_SIZE":
			if raw, ok := f["stepSize"].(string); ok {
				if v, err := decimal.NewFromString(raw); err == nil {
					rules.stepSize = v
				}
			}
		}
	}
	return rules
}

func (b *Binance) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	var out []models.Kline
	err := retryRead(ctx, b.log, "klines", func() error {
		klines, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		parsed := make([]models.Kline, 0, len(klines))
		for _, k := range klines {
			mk, err := parseKline(k)
			if err != nil {
				return err
			}
			parsed = append(parsed, mk)
		}
		out = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
	}
	return out, nil
}

func parseKline(k *binance.Kline) (models.Kline, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return models.Kline{}, fmt.Errorf("parse kline open %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return models.Kline{}, fmt.Errorf("parse kline high %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return models.Kline{}, fmt.Errorf("parse kline low %q: %w", k.Low, err)
	}
	cl, err := decimal.NewFromString(k.Close)
	if err != nil {
		return models.Kline{}, fmt.Errorf("parse kline close %q: %w", k.Close, err)
	}
	vol, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return models.Kline{}, fmt.Errorf("parse kline volume %q: %w", k.Volume, err)
	}
	return models.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cl,
		Volume:    vol,
	}, nil
}

// baseAsset strips the quote suffix: BTCUSDT -> BTC.
func (b *Binance) baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, b.quote)
}
