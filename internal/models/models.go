package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an executed order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// CycleStatus tracks where an averaging campaign is in its lifecycle.
// There is no stored SEARCHING status: a symbol with no non-terminal
// cycle row is searching by definition.
type CycleStatus string

const (
	CycleActive      CycleStatus = "ACTIVE"
	CyclePaused      CycleStatus = "PAUSED"
	CyclePartialSell CycleStatus = "PARTIAL_SELL"
	CycleTrailing    CycleStatus = "TRAILING"
	CycleCompleted   CycleStatus = "COMPLETED"
)

// Terminal reports whether the status ends the cycle.
func (s CycleStatus) Terminal() bool { return s == CycleCompleted }

// PositionStatus is derived from remaining quantity, never set directly.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "OPEN"
	PositionPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionClosed          PositionStatus = "CLOSED"
)

// Cycle is one averaging campaign for a symbol: every buy lowers the
// weighted average, one exit (trailing or full) ends it.
type Cycle struct {
	ID                int64               `json:"id"`
	Symbol            string              `json:"symbol"`
	Status            CycleStatus         `json:"status"`
	BuyCount          int                 `json:"buy_count"`
	MaxBuys           int                 `json:"max_buys"`
	TotalInvested     decimal.Decimal     `json:"total_invested"`
	TotalQuantity     decimal.Decimal     `json:"total_quantity"`
	RemainingQuantity decimal.Decimal     `json:"remaining_quantity"`
	AveragePrice      decimal.Decimal     `json:"average_price"`
	NextBuyPrice      decimal.Decimal     `json:"next_buy_price"`
	TargetSellPrice   decimal.Decimal     `json:"target_sell_price"`
	GridPercent       decimal.Decimal     `json:"grid_percent"`
	EntryPercent      decimal.Decimal     `json:"entry_percent"`
	PartialSellDone   bool                `json:"partial_sell_done"`
	TrailingHighPrice decimal.NullDecimal `json:"trailing_high_price"`
	TrailingStopPrice decimal.NullDecimal `json:"trailing_stop_price"`
	EntrySnapshot     sql.NullString      `json:"entry_snapshot"`
	TotalProfit       decimal.NullDecimal `json:"total_profit"`
	ProfitPercent     decimal.NullDecimal `json:"profit_percent"`
	CreatedAt         time.Time           `json:"created_at"`
	ClosedAt          sql.NullTime        `json:"closed_at"`
}

// Position is a single executed buy inside a cycle. Partial sells
// reduce RemainingQuantity; the row is closed when it reaches zero.
type Position struct {
	ID                int64               `json:"id"`
	CycleID           int64               `json:"cycle_id"`
	Symbol            string              `json:"symbol"`
	Side              Side                `json:"side"`
	BuyNumber         int                 `json:"buy_number"`
	Quantity          decimal.Decimal     `json:"quantity"`
	RemainingQuantity decimal.Decimal     `json:"remaining_quantity"`
	EntryPrice        decimal.Decimal     `json:"entry_price"`
	InvestedAmount    decimal.Decimal     `json:"invested_amount"`
	Fee               decimal.Decimal     `json:"fee"`
	Status            PositionStatus      `json:"status"`
	ExitPrice         decimal.NullDecimal `json:"exit_price"`
	Profit            decimal.NullDecimal `json:"profit"`
	ProfitPercent     decimal.NullDecimal `json:"profit_percent"`
	CreatedAt         time.Time           `json:"created_at"`
	ClosedAt          sql.NullTime        `json:"closed_at"`
}

// IsOpen reports whether any quantity remains.
func (p *Position) IsOpen() bool { return p.Status != PositionClosed }

// DeriveStatus recomputes Status from quantities. Zero remaining means
// closed; any prior reduction means partially closed.
func (p *Position) DeriveStatus() PositionStatus {
	switch {
	case p.RemainingQuantity.IsZero():
		return PositionClosed
	case p.RemainingQuantity.LessThan(p.Quantity):
		return PositionPartiallyClosed
	default:
		return PositionOpen
	}
}

// IndicatorSnapshot is the per-symbol view the entry gate works from.
// Fields are null when the value was unavailable and nothing usable
// was cached.
type IndicatorSnapshot struct {
	RSI15m      decimal.NullDecimal `json:"rsi_15m"`
	RSI1h       decimal.NullDecimal `json:"rsi_1h"`
	EMA200H4    decimal.NullDecimal `json:"ema200_4h"`
	ATR14H4     decimal.NullDecimal `json:"atr14_4h"`
	VolumeRatio decimal.NullDecimal `json:"volume_ratio"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// EntryEvaluation is the outcome of the entry gate, with one reason
// line per check so declines are auditable.
type EntryEvaluation struct {
	CanEnter bool     `json:"can_enter"`
	Reasons  []string `json:"reasons"`
}

// CapitalDecision is a sizing verdict, not an error: a declined buy
// carries the first constraint that failed.
type CapitalDecision struct {
	Approved bool            `json:"approved"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

// ActionType discriminates the one action a tick may take.
type ActionType string

const (
	ActionWait         ActionType = "WAIT"
	ActionOpenCycle    ActionType = "OPEN_CYCLE"
	ActionDCABuy       ActionType = "DCA_BUY"
	ActionPartialSell  ActionType = "PARTIAL_SELL"
	ActionTrailingSell ActionType = "TRAILING_SELL"
	ActionFullSell     ActionType = "FULL_SELL"
)

// Action is the tagged decision returned by tick evaluation. QuoteAmount
// is set for buys, Quantity for sells; Reason explains WAIT decisions.
type Action struct {
	Type        ActionType      `json:"type"`
	Symbol      string          `json:"symbol"`
	QuoteAmount decimal.Decimal `json:"quote_amount,omitempty"`
	Quantity    decimal.Decimal `json:"quantity,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// OrderResult is an executed market order normalized to decimals. The
// broker converts exchange strings/floats exactly once to build it.
type OrderResult struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Filled        decimal.Decimal `json:"filled"`
	Cost          decimal.Decimal `json:"cost"`
	Fee           decimal.Decimal `json:"fee"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TradeRecord is one row of the executed-order audit trail.
type TradeRecord struct {
	ID          int64           `json:"id"`
	CycleID     int64           `json:"cycle_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	QuoteValue  decimal.Decimal `json:"quote_value"`
	Fee         decimal.Decimal `json:"fee"`
	OrderID     string          `json:"order_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Description string          `json:"description,omitempty"`
}

// Kline is one OHLCV candle with engine-side decimal fields.
type Kline struct {
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// CycleSummary is the reporter's per-symbol digest.
type CycleSummary struct {
	Symbol          string
	Status          CycleStatus
	BuyCount        int
	MaxBuys         int
	TotalInvested   decimal.Decimal
	AveragePrice    decimal.Decimal
	NextBuyPrice    decimal.Decimal
	TargetSellPrice decimal.Decimal
	CreatedAt       time.Time
}

// SessionStats aggregates completed cycles for the shutdown report.
type SessionStats struct {
	CompletedCycles int
	ProfitableCount int
	NetProfit       decimal.Decimal
	BestProfitPct   decimal.NullDecimal
	WorstProfitPct  decimal.NullDecimal
}
