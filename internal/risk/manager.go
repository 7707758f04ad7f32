package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-dca-bot-go/internal/ledger"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StateStore is the ledger subset the manager persists through.
type StateStore interface {
	LoadBotState(ctx context.Context, scope string) (*models.BotState, error)
	SaveBotState(ctx context.Context, st *models.BotState) error
	RecordCrashEvent(ctx context.Context, ev *models.CrashEvent) error
	HasUnresolvedCrash(ctx context.Context, symbol string) (bool, error)
	ResolveCrashEvents(ctx context.Context, symbol string) (int64, error)
}

// KlineReader supplies the OHLC history the crash detector compares
// against.
type KlineReader interface {
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// Notifier receives one message per pause entry and exit. Edge-only:
// the manager never notifies while a pause merely persists.
type Notifier interface {
	Alert(title, body string)
}

// Manager drives the pause state machine for the GLOBAL scope and
// every symbol scope.
type Manager struct {
	store    StateStore
	klines   KlineReader
	notifier Notifier
	cfg      models.RiskConfig
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewManager wires the risk manager.
func NewManager(store StateStore, klines KlineReader, notifier Notifier, cfg models.RiskConfig, log *zap.SugaredLogger) *Manager {
	return &Manager{
		store:    store,
		klines:   klines,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// state loads the record for a scope, lazily creating a RUNNING one.
func (m *Manager) state(ctx context.Context, scope string) (*models.BotState, error) {
	st, err := m.store.LoadBotState(ctx, scope)
	if errors.Is(err, ledger.ErrNotFound) {
		return models.NewBotState(scope, m.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateBalance folds a fresh total balance into the GLOBAL scope and
// reports whether this update tripped the drawdown pause.
func (m *Manager) UpdateBalance(ctx context.Context, balance decimal.Decimal) (bool, error) {
	st, err := m.state(ctx, models.ScopeGlobal)
	if err != nil {
		return false, err
	}

	out := applyBalance(*st, balance, m.cfg.MaxDrawdownPercent, m.now())
	if err := m.store.SaveBotState(ctx, &out.state); err != nil {
		return false, err
	}

	ddPct := out.drawdown.Mul(money.Hundred)
	switch {
	case out.tripped:
		m.log.Errorw("drawdown pause tripped",
			"drawdown_pct", ddPct, "peak", out.state.PeakBalance, "balance", balance)
		m.notifier.Alert("Drawdown pause",
			fmt.Sprintf("Drawdown %s%% reached the %s%% limit. All trading paused.",
				ddPct.StringFixed(2), m.cfg.MaxDrawdownPercent.Mul(money.Hundred).StringFixed(2)))
	case out.warned:
		m.log.Warnw("drawdown approaching limit",
			"drawdown_pct", ddPct, "peak", out.state.PeakBalance, "balance", balance)
	}
	return out.tripped, nil
}

// CheckCrash compares the price now to the close of the configured
// window ago. A drop at or past the threshold pauses the symbol and
// records one crash event; while an event is unresolved no duplicate is
// written.
func (m *Manager) CheckCrash(ctx context.Context, symbol string, price decimal.Decimal) (bool, error) {
	st, err := m.state(ctx, symbol)
	if err != nil {
		return false, err
	}
	if st.State != models.RiskRunning {
		return false, nil
	}

	klines, err := m.klines.RecentKlines(ctx, symbol, "1m", m.cfg.CrashWindowMinutes)
	if err != nil {
		return false, fmt.Errorf("crash check %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return false, nil
	}
	before := klines[0].Close
	drop, ok := money.PctChange(before, price)
	if !ok || drop.Neg().LessThan(m.cfg.CrashDropPercent) {
		return false, nil
	}

	unresolved, err := m.store.HasUnresolvedCrash(ctx, symbol)
	if err != nil {
		return false, err
	}
	if unresolved {
		return false, nil
	}

	next, changed := applyCrash(*st, m.now())
	if !changed {
		return false, nil
	}
	if err := m.store.SaveBotState(ctx, &next); err != nil {
		return false, err
	}
	ev := &models.CrashEvent{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		DropPercent:   drop.Neg(),
		WindowMinutes: m.cfg.CrashWindowMinutes,
		PriceBefore:   before,
		PriceAfter:    price,
		DetectedAt:    m.now(),
	}
	if err := m.store.RecordCrashEvent(ctx, ev); err != nil {
		return false, err
	}

	dropPct := drop.Neg().Mul(money.Hundred)
	m.log.Errorw("crash detected", "symbol", symbol,
		"drop_pct", dropPct, "window_min", m.cfg.CrashWindowMinutes,
		"before", before, "now", price)
	m.notifier.Alert("Crash pause: "+symbol,
		fmt.Sprintf("%s fell %s%% in %d minutes. New buys suspended.",
			symbol, dropPct.StringFixed(2), m.cfg.CrashWindowMinutes))
	return true, nil
}

// TryRecover resumes a crash-paused symbol once RSI clears the
// recovery threshold, resolving its open crash events.
func (m *Manager) TryRecover(ctx context.Context, symbol string, rsi decimal.NullDecimal) (bool, error) {
	st, err := m.state(ctx, symbol)
	if err != nil {
		return false, err
	}
	if st.State != models.RiskPausedCrash {
		return false, nil
	}
	if !rsi.Valid || rsi.Decimal.LessThan(m.cfg.CrashRecoveryRSI) {
		m.log.Debugw("crash recovery not met", "symbol", symbol, "rsi", rsi)
		return false, nil
	}

	next, changed := applyRecovery(*st, m.now())
	if !changed {
		return false, nil
	}
	if _, err := m.store.ResolveCrashEvents(ctx, symbol); err != nil {
		return false, err
	}
	if err := m.store.SaveBotState(ctx, &next); err != nil {
		return false, err
	}

	m.log.Infow("crash recovered", "symbol", symbol, "rsi", rsi.Decimal)
	m.notifier.Alert("Crash recovered: "+symbol,
		fmt.Sprintf("%s RSI %s cleared the recovery threshold %s. Trading resumed.",
			symbol, rsi.Decimal.StringFixed(2), m.cfg.CrashRecoveryRSI))
	return true, nil
}

// OnCycleCompleted feeds one completed cycle's profit into the lateral
// detector for the symbol.
func (m *Manager) OnCycleCompleted(ctx context.Context, symbol string, profitPct decimal.Decimal) error {
	st, err := m.state(ctx, symbol)
	if err != nil {
		return err
	}

	next, tripped := applyCycleProfit(*st, profitPct, m.cfg.LateralProfitThreshold,
		m.cfg.LateralCycleCount, time.Duration(m.cfg.LateralPauseHours)*time.Hour, m.now())
	if err := m.store.SaveBotState(ctx, &next); err != nil {
		return err
	}
	if tripped {
		m.log.Warnw("lateral market pause", "symbol", symbol,
			"paused_until", next.PausedUntil.Time)
		m.notifier.Alert("Lateral pause: "+symbol,
			fmt.Sprintf("%d consecutive low-profit cycles on %s. Paused until %s.",
				m.cfg.LateralCycleCount, symbol,
				next.PausedUntil.Time.Format(time.RFC3339)))
	}
	return nil
}

// CanTrade is the single gate at the top of every tick. It denies
// while the GLOBAL scope or the symbol scope is paused, except that an
// expired lateral pause auto-resumes the symbol and lets the tick
// proceed. The returned state is the one that blocked.
func (m *Manager) CanTrade(ctx context.Context, symbol string) (bool, models.RiskState, string, error) {
	global, err := m.state(ctx, models.ScopeGlobal)
	if err != nil {
		return false, "", "", err
	}
	if global.State.Paused() {
		return false, global.State, "global scope is " + string(global.State), nil
	}

	st, err := m.state(ctx, symbol)
	if err != nil {
		return false, "", "", err
	}
	switch st.State {
	case models.RiskRunning:
		return true, st.State, "", nil
	case models.RiskPausedLateral:
		next, resumed := applyLateralExpiry(*st, m.now())
		if !resumed {
			return false, st.State, fmt.Sprintf("%s lateral pause until %s",
				symbol, st.PausedUntil.Time.Format(time.RFC3339)), nil
		}
		if err := m.store.SaveBotState(ctx, &next); err != nil {
			return false, st.State, "", err
		}
		m.log.Infow("lateral pause expired", "symbol", symbol)
		m.notifier.Alert("Lateral pause expired: "+symbol,
			symbol+" resumed after its lateral-market pause.")
		return true, next.State, "", nil
	default:
		return false, st.State, symbol + " scope is " + string(st.State), nil
	}
}
