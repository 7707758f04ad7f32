package indicator

import (
	"context"
	"fmt"
	"time"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Intervals and periods behind the snapshot fields.
const (
	rsiFastInterval = "15m"
	rsiSlowInterval = "1h"
	trendInterval   = "4h"
	rsiPeriod       = 14
	emaPeriod       = 200
	atrPeriod       = 14
	volumeInterval  = "1h"
)

// highVolATRRatio is the atr/price ratio above which the wider grid
// spacing applies.
var highVolATRRatio = decimal.NewFromFloat(0.02)

// ServiceConfig carries the thresholds the entry gate works with.
type ServiceConfig struct {
	RSIOversold        decimal.Decimal
	VolumeLookback     int
	BaseGridPercent    decimal.Decimal
	HighVolGridPercent decimal.Decimal
}

// Service ties cache, limiter and source together into the snapshot
// and entry-gate operations the engine calls.
type Service struct {
	source  Source
	cache   *Cache
	limiter *SlidingLimiter
	cfg     ServiceConfig
	log     *zap.SugaredLogger
}

// NewService wires the indicator pipeline.
func NewService(source Source, cache *Cache, limiter *SlidingLimiter, cfg ServiceConfig, log *zap.SugaredLogger) *Service {
	return &Service{source: source, cache: cache, limiter: limiter, cfg: cfg, log: log}
}

func (s *Service) requests(symbol string) []Request {
	return []Request{
		{Indicator: IndRSI, Symbol: symbol, Interval: rsiFastInterval, Period: rsiPeriod},
		{Indicator: IndRSI, Symbol: symbol, Interval: rsiSlowInterval, Period: rsiPeriod},
		{Indicator: IndEMA, Symbol: symbol, Interval: trendInterval, Period: emaPeriod},
		{Indicator: IndATR, Symbol: symbol, Interval: trendInterval, Period: atrPeriod},
		{Indicator: IndVolumeRatio, Symbol: symbol, Interval: volumeInterval, Period: s.cfg.VolumeLookback},
	}
}

// GetSnapshot returns the per-symbol indicator view. Missing values are
// fetched in one batched call through the rate limiter; a failed fetch
// degrades to whatever the cache still holds rather than erroring.
func (s *Service) GetSnapshot(ctx context.Context, symbol string) models.IndicatorSnapshot {
	reqs := s.requests(symbol)

	var missing []Request
	for _, r := range reqs {
		if _, _, ok := s.cache.Get(r.Key()); !ok {
			missing = append(missing, r)
		}
	}

	if len(missing) > 0 {
		if err := s.limiter.Acquire(ctx); err != nil {
			s.log.Warnw("indicator fetch aborted", "symbol", symbol, "error", err)
		} else {
			values, err := s.source.FetchBatch(ctx, missing)
			if err != nil {
				s.log.Warnw("indicator fetch degraded", "symbol", symbol,
					"missing", len(missing), "got", len(values), "error", err)
			}
			for key, value := range values {
				s.cache.Put(key, value)
			}
		}
	}

	snap := models.IndicatorSnapshot{FetchedAt: time.Now()}
	for _, r := range reqs {
		value, _, ok := s.cache.Get(r.Key())
		if !ok {
			continue
		}
		field := decimal.NewNullDecimal(value)
		switch {
		case r.Indicator == IndRSI && r.Interval == rsiFastInterval:
			snap.RSI15m = field
		case r.Indicator == IndRSI && r.Interval == rsiSlowInterval:
			snap.RSI1h = field
		case r.Indicator == IndEMA:
			snap.EMA200H4 = field
		case r.Indicator == IndATR:
			snap.ATR14H4 = field
		case r.Indicator == IndVolumeRatio:
			snap.VolumeRatio = field
		}
	}
	return snap
}

// EvaluateEntry runs the three-part entry gate at the given price.
// Trend and RSI must both pass; the volume check only annotates the
// reasons. Unavailable trend or RSI data blocks entry.
func (s *Service) EvaluateEntry(ctx context.Context, symbol string, price decimal.Decimal) models.EntryEvaluation {
	snap := s.GetSnapshot(ctx, symbol)
	eval := models.EntryEvaluation{CanEnter: true}
	add := func(format string, args ...interface{}) {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf(format, args...))
	}

	if !snap.EMA200H4.Valid {
		eval.CanEnter = false
		add("trend unknown: ema200 %s unavailable", trendInterval)
	} else if price.GreaterThan(snap.EMA200H4.Decimal) {
		add("price %s above ema200 %s", price, snap.EMA200H4.Decimal.StringFixed(4))
	} else {
		eval.CanEnter = false
		add("price %s not above ema200 %s", price, snap.EMA200H4.Decimal.StringFixed(4))
	}

	switch {
	case !snap.RSI15m.Valid && !snap.RSI1h.Valid:
		eval.CanEnter = false
		add("rsi unavailable on %s and %s", rsiFastInterval, rsiSlowInterval)
	case snap.RSI15m.Valid && snap.RSI15m.Decimal.LessThan(s.cfg.RSIOversold):
		add("rsi %s %s below oversold %s", rsiFastInterval, snap.RSI15m.Decimal.StringFixed(2), s.cfg.RSIOversold)
	case snap.RSI1h.Valid && snap.RSI1h.Decimal.LessThan(s.cfg.RSIOversold):
		add("rsi %s %s below oversold %s", rsiSlowInterval, snap.RSI1h.Decimal.StringFixed(2), s.cfg.RSIOversold)
	default:
		eval.CanEnter = false
		add("rsi not oversold (threshold %s)", s.cfg.RSIOversold)
	}

	// Advisory only: thin volume is worth knowing, not worth blocking.
	switch {
	case !snap.VolumeRatio.Valid:
		add("volume ratio unavailable (advisory)")
	case snap.VolumeRatio.Decimal.GreaterThan(decimal.NewFromInt(1)):
		add("volume %sx above average", snap.VolumeRatio.Decimal.StringFixed(2))
	default:
		add("volume %sx below average (advisory)", snap.VolumeRatio.Decimal.StringFixed(2))
	}

	return eval
}

// AdaptGridPercent picks the grid spacing for a new cycle from current
// volatility. The result is frozen into the cycle at open.
func (s *Service) AdaptGridPercent(atr, price decimal.Decimal) decimal.Decimal {
	ratio, ok := money.SafeDiv(atr, price)
	if ok && ratio.GreaterThan(highVolATRRatio) {
		return s.cfg.HighVolGridPercent
	}
	return s.cfg.BaseGridPercent
}
