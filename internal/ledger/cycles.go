package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/shopspring/decimal"
)

const cycleColumns = `id, symbol, status, buy_count, max_buys, total_invested,
	total_quantity, remaining_quantity, average_price, next_buy_price,
	target_sell_price, grid_percent, entry_percent, partial_sell_done,
	trailing_high_price, trailing_stop_price, entry_snapshot, total_profit,
	profit_percent, created_at, closed_at`

const positionColumns = `id, cycle_id, symbol, side, buy_number, quantity,
	remaining_quantity, entry_price, invested_amount, fee, status, exit_price,
	profit, profit_percent, created_at, closed_at`

// OpenCycle persists a new cycle with its first position and the buy
// trade in one transaction. The caller has already computed the
// single-buy aggregates on c.
func (s *Store) OpenCycle(ctx context.Context, c *models.Cycle, p *models.Position, t *models.TradeRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO cycles (symbol, status, buy_count,
			max_buys, total_invested, total_quantity, remaining_quantity, average_price,
			next_buy_price, target_sell_price, grid_percent, entry_percent,
			partial_sell_done, entry_snapshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Symbol, c.Status, c.BuyCount, c.MaxBuys, c.TotalInvested,
			c.TotalQuantity, c.RemainingQuantity, c.AveragePrice, c.NextBuyPrice,
			c.TargetSellPrice, c.GridPercent, c.EntryPercent, c.PartialSellDone,
			c.EntrySnapshot, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("cycle id: %w", err)
		}
		c.ID = id
		p.CycleID = id
		t.CycleID = id
		if err := insertPosition(ctx, tx, p); err != nil {
			return err
		}
		return insertTrade(ctx, tx, t)
	})
}

// AppendPosition records one DCA buy: it inserts the position, then
// recomputes the cycle aggregates from the open positions read inside
// the same transaction, so no reader ever sees the new position with a
// stale average. nextBuyPrice steps down from this entry by the frozen
// grid percent; targetSellPrice follows the new average.
func (s *Store) AppendPosition(ctx context.Context, c *models.Cycle, p *models.Position, t *models.TradeRecord, profitTarget decimal.Decimal) error {
	one := decimal.NewFromInt(1)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		p.CycleID = c.ID
		t.CycleID = c.ID
		if err := insertPosition(ctx, tx, p); err != nil {
			return err
		}
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}

		open, err := openPositionsTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		invested, quantity, remaining := decimal.Zero, decimal.Zero, decimal.Zero
		for _, op := range open {
			invested = invested.Add(op.InvestedAmount)
			quantity = quantity.Add(op.Quantity)
			remaining = remaining.Add(op.RemainingQuantity)
		}
		average, ok := money.SafeDiv(invested, quantity)
		if !ok {
			return fmt.Errorf("cycle %d: zero total quantity after buy", c.ID)
		}

		c.BuyCount = len(open)
		c.TotalInvested = invested
		c.TotalQuantity = quantity
		c.RemainingQuantity = remaining
		c.AveragePrice = average
		c.NextBuyPrice = p.EntryPrice.Mul(one.Sub(c.GridPercent))
		c.TargetSellPrice = average.Mul(one.Add(profitTarget))

		_, err = tx.ExecContext(ctx, `UPDATE cycles SET buy_count = ?,
			total_invested = ?, total_quantity = ?, remaining_quantity = ?,
			average_price = ?, next_buy_price = ?, target_sell_price = ?
			WHERE id = ?`,
			c.BuyCount, c.TotalInvested, c.TotalQuantity, c.RemainingQuantity,
			c.AveragePrice, c.NextBuyPrice, c.TargetSellPrice, c.ID)
		if err != nil {
			return fmt.Errorf("update cycle %d aggregates: %w", c.ID, err)
		}
		return nil
	})
}

// ApplyPartialSell reduces every open position by sellPercent, closes
// any that reach zero, arms the trailing stop and moves the cycle to
// TRAILING, all in one transaction.
func (s *Store) ApplyPartialSell(ctx context.Context, c *models.Cycle, sellPercent, trailingHigh, trailingStop decimal.Decimal, t *models.TradeRecord) error {
	now := time.Now()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		t.CycleID = c.ID
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}

		open, err := openPositionsTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		remaining := decimal.Zero
		for _, op := range open {
			sold := op.RemainingQuantity.Mul(sellPercent)
			op.RemainingQuantity = op.RemainingQuantity.Sub(sold)
			op.Status = op.DeriveStatus()
			closedAt := sql.NullTime{}
			if op.Status == models.PositionClosed {
				closedAt = sql.NullTime{Time: now, Valid: true}
			}
			_, err := tx.ExecContext(ctx, `UPDATE positions SET remaining_quantity = ?,
				status = ?, closed_at = ? WHERE id = ?`,
				op.RemainingQuantity, op.Status, closedAt, op.ID)
			if err != nil {
				return fmt.Errorf("reduce position %d: %w", op.ID, err)
			}
			remaining = remaining.Add(op.RemainingQuantity)
		}

		c.RemainingQuantity = remaining
		c.PartialSellDone = true
		c.Status = models.CycleTrailing
		c.TrailingHighPrice = decimal.NewNullDecimal(trailingHigh)
		c.TrailingStopPrice = decimal.NewNullDecimal(trailingStop)

		_, err = tx.ExecContext(ctx, `UPDATE cycles SET status = ?,
			remaining_quantity = ?, partial_sell_done = 1,
			trailing_high_price = ?, trailing_stop_price = ? WHERE id = ?`,
			c.Status, c.RemainingQuantity, c.TrailingHighPrice, c.TrailingStopPrice, c.ID)
		if err != nil {
			return fmt.Errorf("update cycle %d after partial sell: %w", c.ID, err)
		}
		return nil
	})
}

// UpdateTrailingStop ratchets the trailing fields upward. Single-row
// write, no transaction needed.
func (s *Store) UpdateTrailingStop(ctx context.Context, c *models.Cycle, high, stop decimal.Decimal) error {
	c.TrailingHighPrice = decimal.NewNullDecimal(high)
	c.TrailingStopPrice = decimal.NewNullDecimal(stop)
	_, err := s.db.ExecContext(ctx, `UPDATE cycles SET trailing_high_price = ?,
		trailing_stop_price = ? WHERE id = ?`,
		c.TrailingHighPrice, c.TrailingStopPrice, c.ID)
	if err != nil {
		return fmt.Errorf("update trailing stop cycle %d: %w", c.ID, err)
	}
	return nil
}

// CompleteCycle closes all remaining positions at exitPrice, records
// the final sell trade, and settles the cycle: totalProfit is total
// sale proceeds net of fees (partial sells included) minus total
// invested; profitPercent is the fraction of invested capital.
func (s *Store) CompleteCycle(ctx context.Context, c *models.Cycle, exitPrice decimal.Decimal, t *models.TradeRecord) error {
	now := time.Now()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		t.CycleID = c.ID
		if err := insertTrade(ctx, tx, t); err != nil {
			return err
		}

		open, err := openPositionsTx(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		for _, op := range open {
			profit := exitPrice.Sub(op.EntryPrice).Mul(op.RemainingQuantity)
			profitPct, _ := money.PctChange(op.EntryPrice, exitPrice)
			_, err := tx.ExecContext(ctx, `UPDATE positions SET remaining_quantity = ?,
				status = ?, exit_price = ?, profit = ?, profit_percent = ?, closed_at = ?
				WHERE id = ?`,
				decimal.Zero, models.PositionClosed, decimal.NewNullDecimal(exitPrice),
				decimal.NewNullDecimal(profit), decimal.NewNullDecimal(profitPct),
				sql.NullTime{Time: now, Valid: true}, op.ID)
			if err != nil {
				return fmt.Errorf("close position %d: %w", op.ID, err)
			}
		}

		// Total sale value across every sell of this cycle, fees
		// deducted, including the trade recorded above.
		rows, err := tx.QueryContext(ctx,
			`SELECT quote_value, fee FROM trade_log WHERE cycle_id = ? AND side = ?`,
			c.ID, models.Sell)
		if err != nil {
			return fmt.Errorf("sum sales cycle %d: %w", c.ID, err)
		}
		defer rows.Close()
		totalSale := decimal.Zero
		for rows.Next() {
			var value, fee decimal.Decimal
			if err := rows.Scan(&value, &fee); err != nil {
				return fmt.Errorf("scan sale row: %w", err)
			}
			totalSale = totalSale.Add(value.Sub(fee))
		}
		if err := rows.Err(); err != nil {
			return err
		}

		profit := totalSale.Sub(c.TotalInvested)
		profitPct, _ := money.SafeDiv(profit, c.TotalInvested)

		c.Status = models.CycleCompleted
		c.RemainingQuantity = decimal.Zero
		c.TotalProfit = decimal.NewNullDecimal(profit)
		c.ProfitPercent = decimal.NewNullDecimal(profitPct)
		c.ClosedAt = sql.NullTime{Time: now, Valid: true}

		_, err = tx.ExecContext(ctx, `UPDATE cycles SET status = ?,
			remaining_quantity = ?, total_profit = ?, profit_percent = ?, closed_at = ?
			WHERE id = ?`,
			c.Status, c.RemainingQuantity, c.TotalProfit, c.ProfitPercent, c.ClosedAt, c.ID)
		if err != nil {
			return fmt.Errorf("complete cycle %d: %w", c.ID, err)
		}
		return nil
	})
}

// SetCycleStatus flips the status of one cycle; used for the
// PAUSED side-state.
func (s *Store) SetCycleStatus(ctx context.Context, c *models.Cycle, status models.CycleStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cycles SET status = ? WHERE id = ?`, status, c.ID)
	if err != nil {
		return fmt.Errorf("set cycle %d status %s: %w", c.ID, status, err)
	}
	c.Status = status
	return nil
}

// ActiveCycle returns the one non-terminal cycle for symbol, or
// ErrNotFound when the symbol is searching.
func (s *Store) ActiveCycle(ctx context.Context, symbol string) (*models.Cycle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles
		WHERE symbol = ? AND status != ? ORDER BY id DESC LIMIT 1`,
		symbol, models.CycleCompleted)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active cycle %s: %w", symbol, err)
	}
	return c, nil
}

// Positions returns every position of a cycle, oldest first.
func (s *Store) Positions(ctx context.Context, cycleID int64) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE cycle_id = ? ORDER BY buy_number`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("positions cycle %d: %w", cycleID, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func openPositionsTx(ctx context.Context, tx *sql.Tx, cycleID int64) ([]*models.Position, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE cycle_id = ? AND status != ? ORDER BY buy_number`,
		cycleID, models.PositionClosed)
	if err != nil {
		return nil, fmt.Errorf("open positions cycle %d: %w", cycleID, err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func insertPosition(ctx context.Context, tx *sql.Tx, p *models.Position) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO positions (cycle_id, symbol, side,
		buy_number, quantity, remaining_quantity, entry_price, invested_amount,
		fee, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CycleID, p.Symbol, p.Side, p.BuyNumber, p.Quantity, p.RemainingQuantity,
		p.EntryPrice, p.InvestedAmount, p.Fee, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("position id: %w", err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *models.TradeRecord) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO trade_log (cycle_id, symbol, side,
		quantity, price, quote_value, fee, order_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CycleID, t.Symbol, t.Side, t.Quantity, t.Price, t.QuoteValue, t.Fee,
		t.OrderID, t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("trade id: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row rowScanner) (*models.Cycle, error) {
	c := &models.Cycle{}
	err := row.Scan(&c.ID, &c.Symbol, &c.Status, &c.BuyCount, &c.MaxBuys,
		&c.TotalInvested, &c.TotalQuantity, &c.RemainingQuantity, &c.AveragePrice,
		&c.NextBuyPrice, &c.TargetSellPrice, &c.GridPercent, &c.EntryPercent,
		&c.PartialSellDone, &c.TrailingHighPrice, &c.TrailingStopPrice,
		&c.EntrySnapshot, &c.TotalProfit, &c.ProfitPercent, &c.CreatedAt, &c.ClosedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var out []*models.Position
	for rows.Next() {
		p := &models.Position{}
		err := rows.Scan(&p.ID, &p.CycleID, &p.Symbol, &p.Side, &p.BuyNumber,
			&p.Quantity, &p.RemainingQuantity, &p.EntryPrice, &p.InvestedAmount,
			&p.Fee, &p.Status, &p.ExitPrice, &p.Profit, &p.ProfitPercent,
			&p.CreatedAt, &p.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
