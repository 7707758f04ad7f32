package indicator

import (
	"context"
	"fmt"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// KlineReader is the one broker capability the local source needs.
type KlineReader interface {
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// LocalSource computes indicator values from exchange klines with
// talib. One kline fetch serves every request that shares a symbol and
// interval.
type LocalSource struct {
	klines KlineReader
	log    *zap.SugaredLogger
}

// NewLocalSource builds the kline-backed source.
func NewLocalSource(klines KlineReader, log *zap.SugaredLogger) *LocalSource {
	return &LocalSource{klines: klines, log: log}
}

func (s *LocalSource) FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	type groupKey struct{ symbol, interval string }
	groups := make(map[groupKey][]Request)
	for _, r := range reqs {
		gk := groupKey{r.Symbol, r.Interval}
		groups[gk] = append(groups[gk], r)
	}

	out := make(map[string]decimal.Decimal)
	var firstErr error
	for gk, group := range groups {
		limit := klineNeed(group)
		klines, err := s.klines.RecentKlines(ctx, gk.symbol, gk.interval, limit)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("klines %s %s: %w", gk.symbol, gk.interval, err)
			}
			continue
		}
		series := toSeries(klines)
		for _, r := range group {
			value, ok := compute(r, series)
			if !ok {
				s.log.Debugw("not enough candles for indicator",
					"indicator", r.Indicator, "symbol", r.Symbol,
					"interval", r.Interval, "candles", len(klines))
				continue
			}
			out[r.Key()] = value
		}
	}
	return out, firstErr
}

// klineNeed sizes one fetch to cover the longest-period request in the
// group, with warmup headroom for EMA seeding.
func klineNeed(group []Request) int {
	maxPeriod := 0
	for _, r := range group {
		if r.Period > maxPeriod {
			maxPeriod = r.Period
		}
	}
	need := maxPeriod*2 + 1
	if need < 100 {
		need = 100
	}
	if need > 500 {
		need = 500
	}
	return need
}

type ohlcvSeries struct {
	highs   []float64
	lows    []float64
	closes  []float64
	volumes []float64
}

// toSeries crosses the float boundary once for talib input.
func toSeries(klines []models.Kline) ohlcvSeries {
	s := ohlcvSeries{
		highs:   make([]float64, len(klines)),
		lows:    make([]float64, len(klines)),
		closes:  make([]float64, len(klines)),
		volumes: make([]float64, len(klines)),
	}
	for i, k := range klines {
		s.highs[i] = money.ToFloat(k.High)
		s.lows[i] = money.ToFloat(k.Low)
		s.closes[i] = money.ToFloat(k.Close)
		s.volumes[i] = money.ToFloat(k.Volume)
	}
	return s
}

func compute(r Request, s ohlcvSeries) (decimal.Decimal, bool) {
	switch r.Indicator {
	case IndRSI:
		if len(s.closes) < r.Period+1 {
			return decimal.Zero, false
		}
		return lastValue(talib.Rsi(s.closes, r.Period))
	case IndEMA:
		if len(s.closes) < r.Period {
			return decimal.Zero, false
		}
		return lastValue(talib.Ema(s.closes, r.Period))
	case IndATR:
		if len(s.closes) < r.Period+1 {
			return decimal.Zero, false
		}
		return lastValue(talib.Atr(s.highs, s.lows, s.closes, r.Period))
	case IndVolumeRatio:
		return volumeRatio(s.volumes, r.Period)
	default:
		return decimal.Zero, false
	}
}

func lastValue(series []float64) (decimal.Decimal, bool) {
	if len(series) == 0 {
		return decimal.Zero, false
	}
	v := series[len(series)-1]
	if v == 0 {
		return decimal.Zero, false
	}
	return money.FromFloat(v), true
}

// volumeRatio compares the latest candle's volume to the simple average
// of the lookback candles before it.
func volumeRatio(volumes []float64, lookback int) (decimal.Decimal, bool) {
	if len(volumes) < lookback+1 {
		return decimal.Zero, false
	}
	current := volumes[len(volumes)-1]
	baseline := talib.Sma(volumes[:len(volumes)-1], lookback)
	avg := baseline[len(baseline)-1]
	if avg == 0 {
		return decimal.Zero, false
	}
	return money.FromFloat(current / avg), true
}
