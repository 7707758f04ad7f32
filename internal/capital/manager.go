// Package capital sizes entries and bounds exposure. Its verdicts are
// decisions, not errors: a declined buy carries the first constraint
// that failed, in policy order, so a WAIT tick can say why.
package capital

import (
	"context"
	"fmt"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountReader is the broker subset sizing needs: the exchange floor
// for an order and the spendable quote balance.
type AccountReader interface {
	GetMinOrderValue(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Manager computes entry size and maximum exposure from the total
// account balance and validates prospective buys.
type Manager struct {
	broker AccountReader
	cfg    models.CapitalConfig
	quote  string
	log    *zap.SugaredLogger
}

// NewManager builds the capital manager for one quote currency.
func NewManager(broker AccountReader, cfg models.CapitalConfig, quote string, log *zap.SugaredLogger) *Manager {
	return &Manager{broker: broker, cfg: cfg, quote: quote, log: log}
}

// EntrySize is the quote amount one buy commits.
func (m *Manager) EntrySize(total decimal.Decimal) decimal.Decimal {
	return money.Pct(total, m.cfg.EntryPercent)
}

// MaxExposure is the most capital one cycle may hold at once.
func (m *Manager) MaxExposure(total decimal.Decimal) decimal.Decimal {
	return money.Pct(total, m.cfg.MaxExposurePercent)
}

// CanExecuteBuy validates one prospective buy, checking in order:
// projected exposure against the cap, entry size against the exchange
// minimum, and entry size against free balance. The ordering is
// deliberate: exposure is a strategy decision and is settled before any
// exchange-specific constraint is consulted. The first failing check
// declines with its reason. The returned error is reserved for broker
// read failures.
func (m *Manager) CanExecuteBuy(ctx context.Context, total, currentInvested decimal.Decimal, symbol string) (models.CapitalDecision, error) {
	entry := m.EntrySize(total)
	maxExposure := m.MaxExposure(total)

	projected := currentInvested.Add(entry)
	if projected.GreaterThan(maxExposure) {
		return models.CapitalDecision{
			Reason: fmt.Sprintf("exposure %s + entry %s exceeds max %s",
				currentInvested.StringFixed(2), entry.StringFixed(2), maxExposure.StringFixed(2)),
		}, nil
	}

	minOrder, err := m.broker.GetMinOrderValue(ctx, symbol)
	if err != nil {
		return models.CapitalDecision{}, fmt.Errorf("min order value %s: %w", symbol, err)
	}
	if entry.LessThan(minOrder) {
		return models.CapitalDecision{
			Reason: fmt.Sprintf("entry %s below exchange minimum %s",
				entry.StringFixed(2), minOrder.StringFixed(2)),
		}, nil
	}

	free, err := m.broker.GetBalance(ctx, m.quote)
	if err != nil {
		return models.CapitalDecision{}, fmt.Errorf("free balance %s: %w", m.quote, err)
	}
	if free.LessThan(entry) {
		return models.CapitalDecision{
			Reason: fmt.Sprintf("free balance %s below entry %s",
				free.StringFixed(2), entry.StringFixed(2)),
		}, nil
	}

	m.log.Debugw("buy approved", "symbol", symbol, "amount", entry, "exposure", projected)
	return models.CapitalDecision{Approved: true, Amount: entry}, nil
}
