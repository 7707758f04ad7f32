package ledger

import (
	"context"
	"fmt"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ActiveSummaries digests every non-terminal cycle for the status
// report.
func (s *Store) ActiveSummaries(ctx context.Context) ([]models.CycleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, status, buy_count, max_buys,
		total_invested, average_price, next_buy_price, target_sell_price, created_at
		FROM cycles WHERE status != ? ORDER BY symbol`, models.CycleCompleted)
	if err != nil {
		return nil, fmt.Errorf("active summaries: %w", err)
	}
	defer rows.Close()

	var out []models.CycleSummary
	for rows.Next() {
		var cs models.CycleSummary
		err := rows.Scan(&cs.Symbol, &cs.Status, &cs.BuyCount, &cs.MaxBuys,
			&cs.TotalInvested, &cs.AveragePrice, &cs.NextBuyPrice,
			&cs.TargetSellPrice, &cs.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// SessionStats aggregates cycles completed since the given time for the
// shutdown report.
func (s *Store) SessionStats(ctx context.Context, since time.Time) (*models.SessionStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT total_profit, profit_percent
		FROM cycles WHERE status = ? AND closed_at >= ?`,
		models.CycleCompleted, since)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := &models.SessionStats{NetProfit: decimal.Zero}
	for rows.Next() {
		var profit, pct decimal.NullDecimal
		if err := rows.Scan(&profit, &pct); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.CompletedCycles++
		if profit.Valid {
			stats.NetProfit = stats.NetProfit.Add(profit.Decimal)
			if profit.Decimal.IsPositive() {
				stats.ProfitableCount++
			}
		}
		if pct.Valid {
			if !stats.BestProfitPct.Valid || pct.Decimal.GreaterThan(stats.BestProfitPct.Decimal) {
				stats.BestProfitPct = pct
			}
			if !stats.WorstProfitPct.Valid || pct.Decimal.LessThan(stats.WorstProfitPct.Decimal) {
				stats.WorstProfitPct = pct
			}
		}
	}
	return stats, rows.Err()
}
