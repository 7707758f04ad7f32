package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	values map[string]decimal.Decimal
	err    error
	calls  [][]Request
}

func (s *stubSource) FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	s.calls = append(s.calls, reqs)
	return s.values, s.err
}

func testConfig() ServiceConfig {
	return ServiceConfig{
		RSIOversold:        decimal.NewFromInt(35),
		VolumeLookback:     20,
		BaseGridPercent:    decimal.NewFromFloat(0.03),
		HighVolGridPercent: decimal.NewFromFloat(0.05),
	}
}

func newTestService(src Source) *Service {
	return NewService(src, NewCache(time.Minute), NewSlidingLimiter(100, time.Second, 0), testConfig(), zap.NewNop().Sugar())
}

func fullValues(symbol string) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		symbol + ":rsi:15m":         decimal.NewFromInt(25),
		symbol + ":rsi:1h":          decimal.NewFromInt(60),
		symbol + ":ema:4h":          decimal.NewFromInt(90),
		symbol + ":atr:4h":          decimal.NewFromInt(1),
		symbol + ":volume_ratio:1h": decimal.NewFromFloat(1.5),
	}
}

func TestGetSnapshotBatchesAndCaches(t *testing.T) {
	src := &stubSource{values: fullValues("BTCUSDT")}
	svc := newTestService(src)
	ctx := context.Background()

	snap := svc.GetSnapshot(ctx, "BTCUSDT")
	require.Len(t, src.calls, 1)
	assert.Len(t, src.calls[0], 5, "all five indicators fetched in one batch")
	assert.True(t, snap.RSI15m.Valid)
	assert.True(t, snap.RSI15m.Decimal.Equal(decimal.NewFromInt(25)))
	assert.True(t, snap.EMA200H4.Valid)
	assert.True(t, snap.VolumeRatio.Valid)

	// Second snapshot is served from cache, no new upstream call.
	svc.GetSnapshot(ctx, "BTCUSDT")
	assert.Len(t, src.calls, 1)
}

func TestGetSnapshotFetchesOnlyMissing(t *testing.T) {
	src := &stubSource{values: fullValues("BTCUSDT")}
	svc := newTestService(src)
	svc.cache.Put("BTCUSDT:ema:4h", decimal.NewFromInt(80))

	svc.GetSnapshot(context.Background(), "BTCUSDT")
	require.Len(t, src.calls, 1)
	assert.Len(t, src.calls[0], 4, "cached ema must not be re-fetched")
	for _, r := range src.calls[0] {
		assert.NotEqual(t, IndEMA, r.Indicator)
	}
}

func TestGetSnapshotDegradesOnFetchFailure(t *testing.T) {
	src := &stubSource{err: errors.New("upstream down")}
	svc := newTestService(src)
	svc.cache.Put("BTCUSDT:rsi:15m", decimal.NewFromInt(28))

	snap := svc.GetSnapshot(context.Background(), "BTCUSDT")
	assert.True(t, snap.RSI15m.Valid, "cached value survives the failed fetch")
	assert.False(t, snap.EMA200H4.Valid)
	assert.False(t, snap.VolumeRatio.Valid)
}

func TestEvaluateEntryAllChecksPass(t *testing.T) {
	src := &stubSource{values: fullValues("BTCUSDT")}
	svc := newTestService(src)

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.True(t, eval.CanEnter)
	assert.Len(t, eval.Reasons, 3)
}

func TestEvaluateEntryBlockedBelowEMA(t *testing.T) {
	values := fullValues("BTCUSDT")
	values["BTCUSDT:ema:4h"] = decimal.NewFromInt(120)
	svc := newTestService(&stubSource{values: values})

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.False(t, eval.CanEnter)
}

func TestEvaluateEntryBlockedWithoutOversoldRSI(t *testing.T) {
	values := fullValues("BTCUSDT")
	values["BTCUSDT:rsi:15m"] = decimal.NewFromInt(50)
	values["BTCUSDT:rsi:1h"] = decimal.NewFromInt(55)
	svc := newTestService(&stubSource{values: values})

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.False(t, eval.CanEnter)
}

func TestEvaluateEntrySlowRSISuffices(t *testing.T) {
	values := fullValues("BTCUSDT")
	values["BTCUSDT:rsi:15m"] = decimal.NewFromInt(50)
	values["BTCUSDT:rsi:1h"] = decimal.NewFromInt(30)
	svc := newTestService(&stubSource{values: values})

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.True(t, eval.CanEnter)
}

func TestEvaluateEntryLowVolumeIsAdvisoryOnly(t *testing.T) {
	values := fullValues("BTCUSDT")
	values["BTCUSDT:volume_ratio:1h"] = decimal.NewFromFloat(0.4)
	svc := newTestService(&stubSource{values: values})

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.True(t, eval.CanEnter, "thin volume must not block entry")
}

func TestEvaluateEntryMissingDataBlocks(t *testing.T) {
	svc := newTestService(&stubSource{values: map[string]decimal.Decimal{}})

	eval := svc.EvaluateEntry(context.Background(), "BTCUSDT", decimal.NewFromInt(100))
	assert.False(t, eval.CanEnter)
}

func TestAdaptGridPercent(t *testing.T) {
	svc := newTestService(&stubSource{})

	// atr/price = 0.03 > 0.02 -> high volatility spacing.
	got := svc.AdaptGridPercent(decimal.NewFromInt(3), decimal.NewFromInt(100))
	assert.True(t, got.Equal(decimal.NewFromFloat(0.05)))

	// atr/price = 0.01 -> base spacing.
	got = svc.AdaptGridPercent(decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.True(t, got.Equal(decimal.NewFromFloat(0.03)))

	// Unknown price falls back to base spacing.
	got = svc.AdaptGridPercent(decimal.NewFromInt(1), decimal.Zero)
	assert.True(t, got.Equal(decimal.NewFromFloat(0.03)))
}
