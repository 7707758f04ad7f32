package capital

import (
	"context"
	"errors"
	"testing"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAccount struct {
	minOrder decimal.Decimal
	free     decimal.Decimal
	err      error
}

func (m *mockAccount) GetMinOrderValue(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.minOrder, m.err
}

func (m *mockAccount) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return m.free, m.err
}

func newManager(acct *mockAccount) *Manager {
	cfg := models.CapitalConfig{
		EntryPercent:       decimal.NewFromFloat(0.10),
		MaxExposurePercent: decimal.NewFromFloat(0.50),
	}
	return NewManager(acct, cfg, "USDT", zap.NewNop().Sugar())
}

func TestEntrySizeAndMaxExposure(t *testing.T) {
	m := newManager(&mockAccount{})
	total := decimal.NewFromInt(1000)

	assert.True(t, m.EntrySize(total).Equal(decimal.NewFromInt(100)))
	assert.True(t, m.MaxExposure(total).Equal(decimal.NewFromInt(500)))
}

func TestCanExecuteBuyApproves(t *testing.T) {
	acct := &mockAccount{minOrder: decimal.NewFromInt(5), free: decimal.NewFromInt(800)}
	m := newManager(acct)

	dec, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(1000), decimal.Zero, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, dec.Approved)
	assert.True(t, dec.Amount.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, dec.Reason)
}

func TestCanExecuteBuyDeclinesOnExposure(t *testing.T) {
	acct := &mockAccount{minOrder: decimal.NewFromInt(5), free: decimal.NewFromInt(800)}
	m := newManager(acct)

	// 450 invested + 100 entry breaks the 500 cap.
	dec, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(1000), decimal.NewFromInt(450), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "exceeds max")
}

func TestCanExecuteBuyDeclinesBelowMinimum(t *testing.T) {
	acct := &mockAccount{minOrder: decimal.NewFromInt(10), free: decimal.NewFromInt(50)}
	m := newManager(acct)

	dec, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(50), decimal.Zero, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "below exchange minimum")
}

func TestCanExecuteBuyDeclinesOnFreeBalance(t *testing.T) {
	acct := &mockAccount{minOrder: decimal.NewFromInt(5), free: decimal.NewFromInt(30)}
	m := newManager(acct)

	dec, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(1000), decimal.Zero, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "free balance")
}

func TestCanExecuteBuyChecksExposureBeforeBroker(t *testing.T) {
	// Broker reads fail, but exposure is rejected first and never
	// consults the broker.
	acct := &mockAccount{err: errors.New("api down")}
	m := newManager(acct)

	dec, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(1000), decimal.NewFromInt(500), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "exceeds max")
}

func TestCanExecuteBuySurfacesBrokerErrors(t *testing.T) {
	acct := &mockAccount{err: errors.New("api down")}
	m := newManager(acct)

	_, err := m.CanExecuteBuy(context.Background(), decimal.NewFromInt(1000), decimal.Zero, "BTCUSDT")
	require.Error(t, err)
}
