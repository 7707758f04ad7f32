package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"binance-dca-bot-go/internal/models"
)

// SaveBotState upserts the one risk record for a scope.
func (s *Store) SaveBotState(ctx context.Context, st *models.BotState) error {
	st.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_states (scope, state,
		peak_balance, current_balance, max_drawdown_hit, paused_until,
		crash_detected_at, consecutive_low_profit_cycles, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			state = excluded.state,
			peak_balance = excluded.peak_balance,
			current_balance = excluded.current_balance,
			max_drawdown_hit = excluded.max_drawdown_hit,
			paused_until = excluded.paused_until,
			crash_detected_at = excluded.crash_detected_at,
			consecutive_low_profit_cycles = excluded.consecutive_low_profit_cycles,
			updated_at = excluded.updated_at`,
		st.Scope, st.State, st.PeakBalance, st.CurrentBalance, st.MaxDrawdownHit,
		st.PausedUntil, st.CrashDetectedAt, st.ConsecutiveLowProfitCycles, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save bot state %s: %w", st.Scope, err)
	}
	return nil
}

// LoadBotState reads the risk record for a scope, ErrNotFound when the
// scope has never been touched.
func (s *Store) LoadBotState(ctx context.Context, scope string) (*models.BotState, error) {
	st := &models.BotState{}
	err := s.db.QueryRowContext(ctx, `SELECT scope, state, peak_balance,
		current_balance, max_drawdown_hit, paused_until, crash_detected_at,
		consecutive_low_profit_cycles, updated_at
		FROM bot_states WHERE scope = ?`, scope).
		Scan(&st.Scope, &st.State, &st.PeakBalance, &st.CurrentBalance,
			&st.MaxDrawdownHit, &st.PausedUntil, &st.CrashDetectedAt,
			&st.ConsecutiveLowProfitCycles, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bot state %s: %w", scope, err)
	}
	return st, nil
}

// BotStates returns every persisted scope record.
func (s *Store) BotStates(ctx context.Context) ([]*models.BotState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, state, peak_balance,
		current_balance, max_drawdown_hit, paused_until, crash_detected_at,
		consecutive_low_profit_cycles, updated_at FROM bot_states ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("list bot states: %w", err)
	}
	defer rows.Close()

	var out []*models.BotState
	for rows.Next() {
		st := &models.BotState{}
		err := rows.Scan(&st.Scope, &st.State, &st.PeakBalance, &st.CurrentBalance,
			&st.MaxDrawdownHit, &st.PausedUntil, &st.CrashDetectedAt,
			&st.ConsecutiveLowProfitCycles, &st.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan bot state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordCrashEvent persists one detected crash.
func (s *Store) RecordCrashEvent(ctx context.Context, ev *models.CrashEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO crash_events (id, symbol,
		drop_percent, window_minutes, price_before, price_after, resolved, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		ev.ID, ev.Symbol, ev.DropPercent, ev.WindowMinutes, ev.PriceBefore,
		ev.PriceAfter, ev.DetectedAt)
	if err != nil {
		return fmt.Errorf("record crash event %s: %w", ev.Symbol, err)
	}
	return nil
}

// HasUnresolvedCrash reports whether a crash event for symbol is still
// open; detection must not duplicate events while one is unresolved.
func (s *Store) HasUnresolvedCrash(ctx context.Context, symbol string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crash_events WHERE symbol = ? AND resolved = 0`,
		symbol).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count crash events %s: %w", symbol, err)
	}
	return n > 0, nil
}

// ResolveCrashEvents marks every open crash event for symbol resolved,
// returning how many it touched.
func (s *Store) ResolveCrashEvents(ctx context.Context, symbol string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE crash_events SET resolved = 1,
		resolved_at = ? WHERE symbol = ? AND resolved = 0`,
		sql.NullTime{Time: time.Now(), Valid: true}, symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve crash events %s: %w", symbol, err)
	}
	return res.RowsAffected()
}
