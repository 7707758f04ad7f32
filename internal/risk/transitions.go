// Package risk guards trading with a pause state machine per scope:
// one GLOBAL record driven by drawdown, and one record per symbol
// driven by crash and lateral-market detection. Transitions are pure
// functions over the persisted BotState; the Manager wraps them with
// the ledger, the broker's price history and the notifier.
package risk

import (
	"database/sql"
	"time"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/shopspring/decimal"
)

// warnFraction of the max drawdown at which a warning fires.
var warnFraction = decimal.NewFromFloat(0.75)

// balanceOutcome is what one balance update did to the GLOBAL state.
type balanceOutcome struct {
	state    models.BotState
	drawdown decimal.Decimal
	tripped  bool // crossed into PAUSED_DRAWDOWN on this update
	warned   bool // inside the warning band, below the max
}

// applyBalance folds a balance observation into the state: peak is a
// running maximum, maxDrawdownHit a monotone high-water mark, and the
// pause trips only on the RUNNING edge so repeated breaches stay
// silent.
func applyBalance(st models.BotState, balance, maxDrawdown decimal.Decimal, now time.Time) balanceOutcome {
	out := balanceOutcome{state: st}
	out.state.CurrentBalance = balance
	if balance.GreaterThan(out.state.PeakBalance) {
		out.state.PeakBalance = balance
	}

	dd, ok := money.SafeDiv(out.state.PeakBalance.Sub(balance), out.state.PeakBalance)
	if !ok || dd.IsNegative() {
		dd = decimal.Zero
	}
	out.drawdown = dd
	if dd.GreaterThan(out.state.MaxDrawdownHit) {
		out.state.MaxDrawdownHit = dd
	}

	switch {
	case dd.GreaterThanOrEqual(maxDrawdown):
		if out.state.State == models.RiskRunning {
			out.state.State = models.RiskPausedDrawdown
			out.tripped = true
		}
	case dd.GreaterThanOrEqual(maxDrawdown.Mul(warnFraction)):
		out.warned = true
	}
	out.state.UpdatedAt = now
	return out
}

// applyCrash pauses a running symbol scope. Returns the new state and
// whether this call made the transition.
func applyCrash(st models.BotState, now time.Time) (models.BotState, bool) {
	if st.State != models.RiskRunning {
		return st, false
	}
	st.State = models.RiskPausedCrash
	st.CrashDetectedAt = sql.NullTime{Time: now, Valid: true}
	st.UpdatedAt = now
	return st, true
}

// applyRecovery resumes a crash-paused scope.
func applyRecovery(st models.BotState, now time.Time) (models.BotState, bool) {
	if st.State != models.RiskPausedCrash {
		return st, false
	}
	st.State = models.RiskRunning
	st.CrashDetectedAt = sql.NullTime{}
	st.UpdatedAt = now
	return st, true
}

// applyCycleProfit folds one completed cycle into the lateral counter:
// a low-profit result increments it, anything else resets it. Reaching
// maxCount pauses the scope until now+pauseFor and resets the counter
// in the same transition.
func applyCycleProfit(st models.BotState, profitPct, threshold decimal.Decimal, maxCount int, pauseFor time.Duration, now time.Time) (models.BotState, bool) {
	if profitPct.Abs().GreaterThanOrEqual(threshold) {
		st.ConsecutiveLowProfitCycles = 0
		st.UpdatedAt = now
		return st, false
	}

	st.ConsecutiveLowProfitCycles++
	if st.ConsecutiveLowProfitCycles < maxCount {
		st.UpdatedAt = now
		return st, false
	}

	st.State = models.RiskPausedLateral
	st.PausedUntil = sql.NullTime{Time: now.Add(pauseFor), Valid: true}
	st.ConsecutiveLowProfitCycles = 0
	st.UpdatedAt = now
	return st, true
}

// applyLateralExpiry auto-resumes a lateral pause whose deadline has
// passed.
func applyLateralExpiry(st models.BotState, now time.Time) (models.BotState, bool) {
	if st.State != models.RiskPausedLateral || !st.PausedUntil.Valid {
		return st, false
	}
	if now.Before(st.PausedUntil.Time) {
		return st, false
	}
	st.State = models.RiskRunning
	st.PausedUntil = sql.NullTime{}
	st.UpdatedAt = now
	return st, true
}
