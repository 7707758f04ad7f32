package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// ScopeGlobal is the scope key for account-wide risk state; every other
// scope key is a symbol.
const ScopeGlobal = "GLOBAL"

// RiskState is the pause state of one risk scope.
type RiskState string

const (
	RiskRunning        RiskState = "RUNNING"
	RiskPausedDrawdown RiskState = "PAUSED_DRAWDOWN"
	RiskPausedCrash    RiskState = "PAUSED_CRASH"
	RiskPausedLateral  RiskState = "PAUSED_LATERAL"
)

// Paused reports whether the state blocks trading.
func (s RiskState) Paused() bool { return s != RiskRunning }

// BotState is the persisted risk record for one scope (GLOBAL or a
// symbol). One row per scope, created lazily as RUNNING, never deleted.
type BotState struct {
	Scope                      string          `json:"scope"`
	State                      RiskState       `json:"state"`
	PeakBalance                decimal.Decimal `json:"peak_balance"`
	CurrentBalance             decimal.Decimal `json:"current_balance"`
	MaxDrawdownHit             decimal.Decimal `json:"max_drawdown_hit"`
	PausedUntil                sql.NullTime    `json:"paused_until"`
	CrashDetectedAt            sql.NullTime    `json:"crash_detected_at"`
	ConsecutiveLowProfitCycles int             `json:"consecutive_low_profit_cycles"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

// NewBotState returns the lazily-created initial record for a scope.
func NewBotState(scope string, now time.Time) *BotState {
	return &BotState{
		Scope:          scope,
		State:          RiskRunning,
		PeakBalance:    decimal.Zero,
		CurrentBalance: decimal.Zero,
		MaxDrawdownHit: decimal.Zero,
		UpdatedAt:      now,
	}
}

// CrashEvent records one detected crash for a symbol. Detection while
// an unresolved event exists must not create a second row.
type CrashEvent struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	DropPercent   decimal.Decimal `json:"drop_percent"`
	WindowMinutes int             `json:"window_minutes"`
	PriceBefore   decimal.Decimal `json:"price_before"`
	PriceAfter    decimal.Decimal `json:"price_after"`
	Resolved      bool            `json:"resolved"`
	DetectedAt    time.Time       `json:"detected_at"`
	ResolvedAt    sql.NullTime    `json:"resolved_at"`
}
