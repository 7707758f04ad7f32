// Package engine runs the per-symbol decision tick: risk gate, price
// and indicator reads, cycle evaluation, and execution of the one
// action the tick decided on. Sell conditions are always evaluated
// before buy conditions, and an action failure aborts only that action,
// never the process.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"binance-dca-bot-go/internal/broker"
	"binance-dca-bot-go/internal/ledger"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var one = decimal.NewFromInt(1)

// Indicators is the snapshot/entry-gate surface the engine consults.
type Indicators interface {
	GetSnapshot(ctx context.Context, symbol string) models.IndicatorSnapshot
	EvaluateEntry(ctx context.Context, symbol string, price decimal.Decimal) models.EntryEvaluation
	AdaptGridPercent(atr, price decimal.Decimal) decimal.Decimal
}

// RiskGate is the risk-manager surface a tick walks through.
type RiskGate interface {
	CanTrade(ctx context.Context, symbol string) (bool, models.RiskState, string, error)
	TryRecover(ctx context.Context, symbol string, rsi decimal.NullDecimal) (bool, error)
	UpdateBalance(ctx context.Context, balance decimal.Decimal) (bool, error)
	CheckCrash(ctx context.Context, symbol string, price decimal.Decimal) (bool, error)
	OnCycleCompleted(ctx context.Context, symbol string, profitPct decimal.Decimal) error
}

// Sizer validates and sizes prospective buys.
type Sizer interface {
	CanExecuteBuy(ctx context.Context, total, currentInvested decimal.Decimal, symbol string) (models.CapitalDecision, error)
}

// CycleStore is the ledger surface the engine mutates cycles through.
type CycleStore interface {
	ActiveCycle(ctx context.Context, symbol string) (*models.Cycle, error)
	OpenCycle(ctx context.Context, c *models.Cycle, p *models.Position, t *models.TradeRecord) error
	AppendPosition(ctx context.Context, c *models.Cycle, p *models.Position, t *models.TradeRecord, profitTarget decimal.Decimal) error
	ApplyPartialSell(ctx context.Context, c *models.Cycle, sellPercent, trailingHigh, trailingStop decimal.Decimal, t *models.TradeRecord) error
	UpdateTrailingStop(ctx context.Context, c *models.Cycle, high, stop decimal.Decimal) error
	CompleteCycle(ctx context.Context, c *models.Cycle, exitPrice decimal.Decimal, t *models.TradeRecord) error
	SetCycleStatus(ctx context.Context, c *models.Cycle, status models.CycleStatus) error
}

// Notifier publishes trading events.
type Notifier interface {
	Alert(title, body string)
	Info(title, body string)
}

// BalanceObserver is fed every total-balance reading; the reporter
// uses it for the session equity curve.
type BalanceObserver interface {
	ObserveBalance(balance decimal.Decimal)
}

// Config carries the engine's strategy knobs.
type Config struct {
	Symbols      []string
	Strategy     models.StrategyConfig
	EntryPercent decimal.Decimal
}

// Engine decides and executes one action per symbol per tick.
type Engine struct {
	broker   broker.Broker
	store    CycleStore
	ind      Indicators
	capital  Sizer
	risk     RiskGate
	notifier Notifier
	observer BalanceObserver // optional
	cfg      Config
	log      *zap.SugaredLogger

	busyMu sync.Mutex
	busy   map[string]*atomic.Bool
}

// New wires the engine.
func New(b broker.Broker, store CycleStore, ind Indicators, capital Sizer, risk RiskGate, notifier Notifier, cfg Config, log *zap.SugaredLogger) *Engine {
	return &Engine{
		broker:   b,
		store:    store,
		ind:      ind,
		capital:  capital,
		risk:     risk,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		busy:     make(map[string]*atomic.Bool),
	}
}

// SetBalanceObserver registers an optional equity-curve sink.
func (e *Engine) SetBalanceObserver(o BalanceObserver) { e.observer = o }

// Tick runs one decision pass for a symbol. Ticks are non-reentrant
// per symbol: an invocation while one is in flight no-ops with a
// warning instead of queueing.
func (e *Engine) Tick(ctx context.Context, symbol string) {
	flag := e.busyFlag(symbol)
	if !flag.CompareAndSwap(false, true) {
		e.log.Warnw("tick already in flight, skipping", "symbol", symbol)
		return
	}
	defer flag.Store(false)

	if err := e.tick(ctx, symbol); err != nil {
		e.log.Errorw("tick failed", "symbol", symbol, "error", err)
	}
}

func (e *Engine) busyFlag(symbol string) *atomic.Bool {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	flag, ok := e.busy[symbol]
	if !ok {
		flag = &atomic.Bool{}
		e.busy[symbol] = flag
	}
	return flag
}

func (e *Engine) tick(ctx context.Context, symbol string) error {
	ok, state, reason, err := e.risk.CanTrade(ctx, symbol)
	if err != nil {
		return fmt.Errorf("risk gate: %w", err)
	}
	if !ok {
		if state != models.RiskPausedCrash {
			e.log.Debugw("tick blocked", "symbol", symbol, "reason", reason)
			return nil
		}
		snap := e.ind.GetSnapshot(ctx, symbol)
		recovered, err := e.risk.TryRecover(ctx, symbol, bestRSI(snap))
		if err != nil {
			return fmt.Errorf("crash recovery: %w", err)
		}
		if !recovered {
			e.log.Debugw("tick blocked", "symbol", symbol, "reason", reason)
			return nil
		}
		if err := e.setCycleStatus(ctx, symbol, models.CyclePaused, models.CycleActive); err != nil {
			return err
		}
	}

	price, err := e.broker.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	snap := e.ind.GetSnapshot(ctx, symbol)

	total, err := e.broker.GetTotalBalanceUSDT(ctx, e.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("fetch total balance: %w", err)
	}
	if e.observer != nil {
		e.observer.ObserveBalance(total)
	}
	paused, err := e.risk.UpdateBalance(ctx, total)
	if err != nil {
		return fmt.Errorf("drawdown check: %w", err)
	}
	if paused {
		return nil
	}

	crashed, err := e.risk.CheckCrash(ctx, symbol, price)
	if err != nil {
		return fmt.Errorf("crash check: %w", err)
	}
	if crashed {
		// A mid-accumulation cycle sits out the crash pause; trailing
		// cycles keep their state and simply stop ticking.
		return e.setCycleStatus(ctx, symbol, models.CycleActive, models.CyclePaused)
	}

	cycle, err := e.store.ActiveCycle(ctx, symbol)
	if errors.Is(err, ledger.ErrNotFound) {
		cycle = nil
	} else if err != nil {
		return fmt.Errorf("load cycle: %w", err)
	}

	// The trailing high only ever ratchets upward; do it before the
	// stop comparison so a rising price can never trigger the stop it
	// just loosened away from.
	if cycle != nil && cycle.Status == models.CycleTrailing {
		if err := e.ratchetTrailing(ctx, cycle, price); err != nil {
			return err
		}
	}

	action := e.evaluate(ctx, symbol, cycle, price, snap, total)
	e.execute(ctx, symbol, cycle, action, snap)

	e.log.Infow("tick", "symbol", symbol, "price", price,
		"action", action.Type, "reason", action.Reason)
	return nil
}

func (e *Engine) ratchetTrailing(ctx context.Context, cycle *models.Cycle, price decimal.Decimal) error {
	if !cycle.TrailingHighPrice.Valid || !price.GreaterThan(cycle.TrailingHighPrice.Decimal) {
		return nil
	}
	stop := price.Mul(one.Sub(e.cfg.Strategy.TrailingStopPercent))
	if err := e.store.UpdateTrailingStop(ctx, cycle, price, stop); err != nil {
		return fmt.Errorf("ratchet trailing stop: %w", err)
	}
	e.log.Debugw("trailing stop ratcheted", "symbol", cycle.Symbol,
		"high", price, "stop", stop)
	return nil
}

// evaluate picks the single action for this tick from the cycle's
// current state, SEARCHING rules when there is no cycle.
func (e *Engine) evaluate(ctx context.Context, symbol string, cycle *models.Cycle, price decimal.Decimal, snap models.IndicatorSnapshot, total decimal.Decimal) models.Action {
	if cycle == nil {
		return e.evaluateSearching(ctx, symbol, price, total)
	}
	switch cycle.Status {
	case models.CycleActive:
		return e.evaluateActive(ctx, cycle, price, snap, total)
	case models.CyclePartialSell, models.CycleTrailing:
		return e.evaluateTrailing(cycle, price)
	case models.CyclePaused:
		return wait(symbol, "cycle paused")
	default:
		return wait(symbol, "cycle in terminal state")
	}
}

func (e *Engine) evaluateSearching(ctx context.Context, symbol string, price, total decimal.Decimal) models.Action {
	eval := e.ind.EvaluateEntry(ctx, symbol, price)
	if !eval.CanEnter {
		return wait(symbol, "entry gate: "+strings.Join(eval.Reasons, "; "))
	}

	dec, err := e.capital.CanExecuteBuy(ctx, total, decimal.Zero, symbol)
	if err != nil {
		e.log.Warnw("capital check failed", "symbol", symbol, "error", err)
		return wait(symbol, "capital check unavailable")
	}
	if !dec.Approved {
		return wait(symbol, dec.Reason)
	}
	return models.Action{
		Type:        models.ActionOpenCycle,
		Symbol:      symbol,
		QuoteAmount: dec.Amount,
		Reason:      strings.Join(eval.Reasons, "; "),
	}
}

func (e *Engine) evaluateActive(ctx context.Context, cycle *models.Cycle, price decimal.Decimal, snap models.IndicatorSnapshot, total decimal.Decimal) models.Action {
	symbol := cycle.Symbol

	// Sell before buy: reaching the target takes priority over a
	// simultaneous drop condition.
	if price.GreaterThanOrEqual(cycle.TargetSellPrice) {
		sellQty := cycle.RemainingQuantity.Mul(e.cfg.Strategy.PartialSellPercent)
		minOrder, err := e.broker.GetMinOrderValue(ctx, symbol)
		if err == nil && sellQty.Mul(price).LessThan(minOrder) {
			// The partial slice is too small for the exchange; close
			// the whole cycle instead of leaving an unsellable rest.
			return models.Action{
				Type:     models.ActionFullSell,
				Symbol:   symbol,
				Quantity: cycle.RemainingQuantity,
				Reason:   fmt.Sprintf("target %s reached, partial slice below minimum", cycle.TargetSellPrice),
			}
		}
		return models.Action{
			Type:     models.ActionPartialSell,
			Symbol:   symbol,
			Quantity: sellQty,
			Reason:   fmt.Sprintf("price %s reached target %s", price, cycle.TargetSellPrice),
		}
	}

	if price.LessThanOrEqual(cycle.NextBuyPrice) {
		if cycle.BuyCount >= cycle.MaxBuys {
			return wait(symbol, fmt.Sprintf("max buys %d reached", cycle.MaxBuys))
		}
		if !snap.EMA200H4.Valid || !price.GreaterThan(snap.EMA200H4.Decimal) {
			return wait(symbol, "dca blocked: price not above ema200")
		}
		dec, err := e.capital.CanExecuteBuy(ctx, total, cycle.TotalInvested, symbol)
		if err != nil {
			e.log.Warnw("capital check failed", "symbol", symbol, "error", err)
			return wait(symbol, "capital check unavailable")
		}
		if !dec.Approved {
			return wait(symbol, dec.Reason)
		}
		return models.Action{
			Type:        models.ActionDCABuy,
			Symbol:      symbol,
			QuoteAmount: dec.Amount,
			Reason:      fmt.Sprintf("price %s at or below next buy %s", price, cycle.NextBuyPrice),
		}
	}

	return wait(symbol, fmt.Sprintf("holding between next buy %s and target %s",
		cycle.NextBuyPrice, cycle.TargetSellPrice))
}

func (e *Engine) evaluateTrailing(cycle *models.Cycle, price decimal.Decimal) models.Action {
	if cycle.TrailingStopPrice.Valid && price.LessThanOrEqual(cycle.TrailingStopPrice.Decimal) {
		return models.Action{
			Type:     models.ActionTrailingSell,
			Symbol:   cycle.Symbol,
			Quantity: cycle.RemainingQuantity,
			Reason: fmt.Sprintf("price %s hit trailing stop %s",
				price, cycle.TrailingStopPrice.Decimal),
		}
	}
	return wait(cycle.Symbol, fmt.Sprintf("trailing, stop at %s",
		cycle.TrailingStopPrice.Decimal))
}

// execute carries out the one decided action. Broker failures abort
// only the action: they are logged and never retried within the tick,
// since a duplicate market order cannot be undone.
func (e *Engine) execute(ctx context.Context, symbol string, cycle *models.Cycle, action models.Action, snap models.IndicatorSnapshot) {
	switch action.Type {
	case models.ActionWait:
	case models.ActionOpenCycle:
		e.openCycle(ctx, symbol, action, snap)
	case models.ActionDCABuy:
		e.dcaBuy(ctx, cycle, action)
	case models.ActionPartialSell:
		e.partialSell(ctx, cycle, action)
	case models.ActionTrailingSell, models.ActionFullSell:
		e.closeCycle(ctx, cycle, action)
	}
}

func (e *Engine) openCycle(ctx context.Context, symbol string, action models.Action, snap models.IndicatorSnapshot) {
	order, err := e.broker.CreateMarketBuy(ctx, symbol, action.QuoteAmount)
	if err != nil {
		e.log.Errorw("open cycle buy failed", "symbol", symbol, "error", err)
		return
	}

	grid := e.cfg.Strategy.GridPercent
	if snap.ATR14H4.Valid {
		grid = e.ind.AdaptGridPercent(snap.ATR14H4.Decimal, order.Price)
	}
	average, ok := money.SafeDiv(order.Cost, order.Filled)
	if !ok {
		e.log.Errorw("open cycle: zero filled quantity", "symbol", symbol, "order", order.OrderID)
		return
	}
	snapJSON, _ := json.Marshal(snap)

	cycle := &models.Cycle{
		Symbol:            symbol,
		Status:            models.CycleActive,
		BuyCount:          1,
		MaxBuys:           e.cfg.Strategy.MaxBuys,
		TotalInvested:     order.Cost,
		TotalQuantity:     order.Filled,
		RemainingQuantity: order.Filled,
		AveragePrice:      average,
		NextBuyPrice:      order.Price.Mul(one.Sub(grid)),
		TargetSellPrice:   average.Mul(one.Add(e.cfg.Strategy.ProfitTargetPercent)),
		GridPercent:       grid,
		EntryPercent:      e.cfg.EntryPercent,
		EntrySnapshot:     sql.NullString{String: string(snapJSON), Valid: true},
		CreatedAt:         order.CreatedAt,
	}
	pos := positionFromOrder(order, 1)
	trade := tradeFromOrder(order, "cycle open")

	if err := e.store.OpenCycle(ctx, cycle, pos, trade); err != nil {
		e.log.Errorw("persist new cycle failed", "symbol", symbol, "error", err)
		return
	}

	e.log.Infow("cycle opened", "symbol", symbol, "invested", order.Cost,
		"entry", order.Price, "grid_pct", grid, "next_buy", cycle.NextBuyPrice,
		"target", cycle.TargetSellPrice)
	e.notifier.Info("Cycle opened: "+symbol,
		fmt.Sprintf("Bought %s for %s at %s. Next buy %s, target %s.",
			order.Filled, order.Cost.StringFixed(2), order.Price.StringFixed(4),
			cycle.NextBuyPrice.StringFixed(4), cycle.TargetSellPrice.StringFixed(4)))
}

func (e *Engine) dcaBuy(ctx context.Context, cycle *models.Cycle, action models.Action) {
	order, err := e.broker.CreateMarketBuy(ctx, cycle.Symbol, action.QuoteAmount)
	if err != nil {
		e.log.Errorw("dca buy failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	pos := positionFromOrder(order, cycle.BuyCount+1)
	trade := tradeFromOrder(order, fmt.Sprintf("dca buy %d", cycle.BuyCount+1))
	if err := e.store.AppendPosition(ctx, cycle, pos, trade, e.cfg.Strategy.ProfitTargetPercent); err != nil {
		e.log.Errorw("persist dca buy failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	e.log.Infow("dca buy recorded", "symbol", cycle.Symbol, "buy_number", pos.BuyNumber,
		"entry", order.Price, "average", cycle.AveragePrice,
		"next_buy", cycle.NextBuyPrice, "target", cycle.TargetSellPrice)
	e.notifier.Info(fmt.Sprintf("DCA buy %d: %s", pos.BuyNumber, cycle.Symbol),
		fmt.Sprintf("Bought %s at %s. Average now %s, target %s.",
			order.Filled, order.Price.StringFixed(4),
			cycle.AveragePrice.StringFixed(4), cycle.TargetSellPrice.StringFixed(4)))
}

func (e *Engine) partialSell(ctx context.Context, cycle *models.Cycle, action models.Action) {
	qty, ok := e.sellableQuantity(ctx, cycle.Symbol, action.Quantity)
	if !ok {
		return
	}
	order, err := e.broker.CreateMarketSell(ctx, cycle.Symbol, qty)
	if err != nil {
		e.log.Errorw("partial sell failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	high := order.Price
	stop := high.Mul(one.Sub(e.cfg.Strategy.TrailingStopPercent))
	trade := tradeFromOrder(order, "partial sell")
	if err := e.store.ApplyPartialSell(ctx, cycle, e.cfg.Strategy.PartialSellPercent, high, stop, trade); err != nil {
		e.log.Errorw("persist partial sell failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	e.log.Infow("partial sell executed", "symbol", cycle.Symbol,
		"sold", order.Filled, "proceeds", order.Cost,
		"remaining", cycle.RemainingQuantity, "trailing_stop", stop)
	e.notifier.Info("Partial profit: "+cycle.Symbol,
		fmt.Sprintf("Sold %s at %s for %s. Trailing stop armed at %s.",
			order.Filled, order.Price.StringFixed(4), order.Cost.StringFixed(2),
			stop.StringFixed(4)))
}

func (e *Engine) closeCycle(ctx context.Context, cycle *models.Cycle, action models.Action) {
	qty, ok := e.sellableQuantity(ctx, cycle.Symbol, action.Quantity)
	if !ok {
		return
	}
	order, err := e.broker.CreateMarketSell(ctx, cycle.Symbol, qty)
	if err != nil {
		e.log.Errorw("closing sell failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	trade := tradeFromOrder(order, strings.ToLower(string(action.Type)))
	if err := e.store.CompleteCycle(ctx, cycle, order.Price, trade); err != nil {
		e.log.Errorw("persist cycle completion failed", "symbol", cycle.Symbol, "error", err)
		return
	}

	profitPct := decimal.Zero
	if cycle.ProfitPercent.Valid {
		profitPct = cycle.ProfitPercent.Decimal
	}
	if err := e.risk.OnCycleCompleted(ctx, cycle.Symbol, profitPct); err != nil {
		e.log.Errorw("lateral check failed", "symbol", cycle.Symbol, "error", err)
	}

	profit := decimal.Zero
	if cycle.TotalProfit.Valid {
		profit = cycle.TotalProfit.Decimal
	}
	e.log.Infow("cycle completed", "symbol", cycle.Symbol, "exit", order.Price,
		"profit", profit, "profit_pct", profitPct.Mul(money.Hundred))
	e.notifier.Info("Cycle completed: "+cycle.Symbol,
		fmt.Sprintf("Closed at %s. Profit %s (%s%%).",
			order.Price.StringFixed(4), profit.StringFixed(2),
			profitPct.Mul(money.Hundred).StringFixed(2)))
}

// sellableQuantity truncates qty to the exchange lot step, reporting
// false when nothing executable remains.
func (e *Engine) sellableQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, bool) {
	step, err := e.broker.GetQuantityStep(ctx, symbol)
	if err != nil {
		e.log.Warnw("lot step unavailable, selling untruncated", "symbol", symbol, "error", err)
		step = decimal.Zero
	}
	out := money.TruncateStep(qty, step)
	if out.IsZero() {
		e.log.Warnw("sell quantity truncates to zero", "symbol", symbol, "quantity", qty, "step", step)
		return decimal.Zero, false
	}
	return out, true
}

// setCycleStatus moves the symbol's active cycle from one status to
// another, a no-op when there is no cycle or it is in another state.
func (e *Engine) setCycleStatus(ctx context.Context, symbol string, from, to models.CycleStatus) error {
	cycle, err := e.store.ActiveCycle(ctx, symbol)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cycle: %w", err)
	}
	if cycle.Status != from {
		return nil
	}
	if err := e.store.SetCycleStatus(ctx, cycle, to); err != nil {
		return fmt.Errorf("set cycle status: %w", err)
	}
	e.log.Infow("cycle status changed", "symbol", symbol, "from", from, "to", to)
	return nil
}

// bestRSI picks the fast RSI, falling back to the slow one.
func bestRSI(snap models.IndicatorSnapshot) decimal.NullDecimal {
	if snap.RSI15m.Valid {
		return snap.RSI15m
	}
	return snap.RSI1h
}

func wait(symbol, reason string) models.Action {
	return models.Action{Type: models.ActionWait, Symbol: symbol, Reason: reason}
}

func positionFromOrder(order *models.OrderResult, buyNumber int) *models.Position {
	return &models.Position{
		Symbol:            order.Symbol,
		Side:              models.Buy,
		BuyNumber:         buyNumber,
		Quantity:          order.Filled,
		RemainingQuantity: order.Filled,
		EntryPrice:        order.Price,
		InvestedAmount:    order.Cost,
		Fee:               order.Fee,
		Status:            models.PositionOpen,
		CreatedAt:         order.CreatedAt,
	}
}

func tradeFromOrder(order *models.OrderResult, description string) *models.TradeRecord {
	return &models.TradeRecord{
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Filled,
		Price:       order.Price,
		QuoteValue:  order.Cost,
		Fee:         order.Fee,
		OrderID:     order.OrderID,
		Description: description,
		CreatedAt:   order.CreatedAt,
	}
}
