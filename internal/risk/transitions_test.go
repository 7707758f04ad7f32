package risk

import (
	"testing"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func runningState(scope string) models.BotState {
	return *models.NewBotState(scope, time.Now())
}

func TestApplyBalanceTracksPeak(t *testing.T) {
	st := runningState(models.ScopeGlobal)
	maxDD := dec("0.15")
	now := time.Now()

	out := applyBalance(st, dec("1000"), maxDD, now)
	assert.True(t, out.state.PeakBalance.Equal(dec("1000")))
	assert.True(t, out.drawdown.IsZero())
	assert.False(t, out.tripped)

	out = applyBalance(out.state, dec("1200"), maxDD, now)
	assert.True(t, out.state.PeakBalance.Equal(dec("1200")))

	// A dip does not lower the peak.
	out = applyBalance(out.state, dec("1100"), maxDD, now)
	assert.True(t, out.state.PeakBalance.Equal(dec("1200")))
	assert.True(t, out.drawdown.Equal(dec("1").Div(dec("12"))), "drawdown %s", out.drawdown)
}

func TestApplyBalanceWarnsBelowLimit(t *testing.T) {
	st := runningState(models.ScopeGlobal)
	maxDD := dec("0.15")
	now := time.Now()

	out := applyBalance(st, dec("1000"), maxDD, now)
	// 12% drawdown: past 75% of the 15% limit, below the limit.
	out = applyBalance(out.state, dec("880"), maxDD, now)
	assert.True(t, out.warned)
	assert.False(t, out.tripped)
	assert.Equal(t, models.RiskRunning, out.state.State)
}

func TestApplyBalanceTripsOnceAndKeepsHighWaterMark(t *testing.T) {
	st := runningState(models.ScopeGlobal)
	maxDD := dec("0.15")
	now := time.Now()

	out := applyBalance(st, dec("1000"), maxDD, now)
	out = applyBalance(out.state, dec("840"), maxDD, now)
	require.True(t, out.tripped)
	assert.Equal(t, models.RiskPausedDrawdown, out.state.State)
	assert.True(t, out.state.MaxDrawdownHit.Equal(dec("0.16")), "hit %s", out.state.MaxDrawdownHit)

	// Repeated breaches while paused do not re-trip and never lower
	// the high-water mark.
	out = applyBalance(out.state, dec("900"), maxDD, now)
	assert.False(t, out.tripped)
	assert.Equal(t, models.RiskPausedDrawdown, out.state.State)
	assert.True(t, out.state.MaxDrawdownHit.Equal(dec("0.16")), "hit %s", out.state.MaxDrawdownHit)
}

func TestApplyCrashOnlyFromRunning(t *testing.T) {
	now := time.Now()
	st := runningState("BTCUSDT")

	next, changed := applyCrash(st, now)
	require.True(t, changed)
	assert.Equal(t, models.RiskPausedCrash, next.State)
	assert.True(t, next.CrashDetectedAt.Valid)

	_, changed = applyCrash(next, now)
	assert.False(t, changed)
}

func TestApplyRecovery(t *testing.T) {
	now := time.Now()
	st := runningState("BTCUSDT")
	crashed, _ := applyCrash(st, now)

	next, changed := applyRecovery(crashed, now)
	require.True(t, changed)
	assert.Equal(t, models.RiskRunning, next.State)
	assert.False(t, next.CrashDetectedAt.Valid)

	_, changed = applyRecovery(next, now)
	assert.False(t, changed)
}

func TestApplyCycleProfitCountsAndResets(t *testing.T) {
	now := time.Now()
	threshold := dec("0.005")
	st := runningState("BTCUSDT")

	// Two low-profit cycles, then a healthy one resets the counter.
	next, tripped := applyCycleProfit(st, dec("0.001"), threshold, 3, 12*time.Hour, now)
	assert.False(t, tripped)
	assert.Equal(t, 1, next.ConsecutiveLowProfitCycles)

	next, tripped = applyCycleProfit(next, dec("-0.002"), threshold, 3, 12*time.Hour, now)
	assert.False(t, tripped)
	assert.Equal(t, 2, next.ConsecutiveLowProfitCycles)

	next, tripped = applyCycleProfit(next, dec("0.03"), threshold, 3, 12*time.Hour, now)
	assert.False(t, tripped)
	assert.Equal(t, 0, next.ConsecutiveLowProfitCycles)
}

func TestApplyCycleProfitPausesAtCount(t *testing.T) {
	now := time.Now()
	threshold := dec("0.005")
	st := runningState("BTCUSDT")

	var tripped bool
	for i := 0; i < 3; i++ {
		st, tripped = applyCycleProfit(st, dec("0.001"), threshold, 3, 12*time.Hour, now)
	}
	require.True(t, tripped)
	assert.Equal(t, models.RiskPausedLateral, st.State)
	// Counter resets in the same transition that pauses.
	assert.Equal(t, 0, st.ConsecutiveLowProfitCycles)
	require.True(t, st.PausedUntil.Valid)
	assert.Equal(t, now.Add(12*time.Hour), st.PausedUntil.Time)
}

func TestApplyLateralExpiry(t *testing.T) {
	now := time.Now()
	st := runningState("BTCUSDT")
	for i := 0; i < 3; i++ {
		st, _ = applyCycleProfit(st, dec("0.001"), dec("0.005"), 3, time.Hour, now)
	}
	require.Equal(t, models.RiskPausedLateral, st.State)

	_, resumed := applyLateralExpiry(st, now.Add(30*time.Minute))
	assert.False(t, resumed)

	next, resumed := applyLateralExpiry(st, now.Add(2*time.Hour))
	require.True(t, resumed)
	assert.Equal(t, models.RiskRunning, next.State)
	assert.False(t, next.PausedUntil.Valid)
}
