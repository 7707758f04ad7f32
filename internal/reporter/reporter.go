// Package reporter renders periodic status tables and the shutdown
// session summary from the ledger and the balance series the engine
// feeds it.
package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/money"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the ledger surface the reporter reads.
type Store interface {
	ActiveSummaries(ctx context.Context) ([]models.CycleSummary, error)
	BotStates(ctx context.Context) ([]*models.BotState, error)
	SessionStats(ctx context.Context, since time.Time) (*models.SessionStats, error)
}

// Reporter accumulates the session equity curve and renders tables.
type Reporter struct {
	store     Store
	interval  time.Duration
	log       *zap.SugaredLogger
	startedAt time.Time

	mu     sync.Mutex
	equity []decimal.Decimal
}

// New builds a reporter; interval is how often Run logs a status table.
func New(store Store, interval time.Duration, log *zap.SugaredLogger) *Reporter {
	return &Reporter{
		store:     store,
		interval:  interval,
		log:       log,
		startedAt: time.Now().UTC(),
	}
}

// ObserveBalance appends one total-balance reading to the session
// equity curve. Called from engine ticks.
func (r *Reporter) ObserveBalance(balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity = append(r.equity, balance)
}

// Run logs a status table every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.LogStatus(ctx)
		}
	}
}

// LogStatus renders the current cycles/risk table into the log.
func (r *Reporter) LogStatus(ctx context.Context) {
	out, err := r.statusTable(ctx)
	if err != nil {
		r.log.Warnw("status report failed", "error", err)
		return
	}
	r.log.Infof("status\n%s", out)
}

func (r *Reporter) statusTable(ctx context.Context) (string, error) {
	summaries, err := r.store.ActiveSummaries(ctx)
	if err != nil {
		return "", fmt.Errorf("load cycle summaries: %w", err)
	}
	states, err := r.store.BotStates(ctx)
	if err != nil {
		return "", fmt.Errorf("load risk states: %w", err)
	}

	risk := make(map[string]models.RiskState, len(states))
	global := models.RiskRunning
	for _, st := range states {
		if st.Scope == models.ScopeGlobal {
			global = st.State
			continue
		}
		risk[st.Scope] = st.State
	}
	riskOf := func(symbol string) models.RiskState {
		if st, ok := risk[symbol]; ok {
			return st
		}
		return models.RiskRunning
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"SYMBOL", "RISK", "CYCLE", "BUYS", "INVESTED", "AVG PRICE", "NEXT BUY", "TARGET"})
	inCycle := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		inCycle[s.Symbol] = true
		tw.AppendRow(table.Row{
			s.Symbol,
			riskOf(s.Symbol),
			s.Status,
			fmt.Sprintf("%d/%d", s.BuyCount, s.MaxBuys),
			s.TotalInvested.StringFixed(2),
			s.AveragePrice.StringFixed(4),
			s.NextBuyPrice.StringFixed(4),
			s.TargetSellPrice.StringFixed(4),
		})
	}
	for _, st := range states {
		if st.Scope == models.ScopeGlobal || inCycle[st.Scope] {
			continue
		}
		tw.AppendRow(table.Row{st.Scope, st.State, "SEARCHING", "-", "-", "-", "-", "-"})
	}
	tw.AppendFooter(table.Row{"GLOBAL", global, "", "", "", "", "", ""})
	return tw.Render(), nil
}

// LogSessionSummary renders the end-of-session report. Called once
// during shutdown, after the scheduler has stopped.
func (r *Reporter) LogSessionSummary(ctx context.Context) {
	out, err := r.summaryTable(ctx)
	if err != nil {
		r.log.Warnw("session summary failed", "error", err)
		return
	}
	r.log.Infof("session summary\n%s", out)
}

func (r *Reporter) summaryTable(ctx context.Context) (string, error) {
	stats, err := r.store.SessionStats(ctx, r.startedAt)
	if err != nil {
		return "", fmt.Errorf("load session stats: %w", err)
	}

	r.mu.Lock()
	curve := make([]decimal.Decimal, len(r.equity))
	copy(curve, r.equity)
	r.mu.Unlock()

	winRate := decimal.Zero
	if stats.CompletedCycles > 0 {
		winRate, _ = money.SafeDiv(
			decimal.NewFromInt(int64(stats.ProfitableCount)),
			decimal.NewFromInt(int64(stats.CompletedCycles)))
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"METRIC", "VALUE"})
	tw.AppendRow(table.Row{"Session start", r.startedAt.Format("2006-01-02 15:04:05")})
	tw.AppendRow(table.Row{"Completed cycles", stats.CompletedCycles})
	tw.AppendRow(table.Row{"Profitable cycles", stats.ProfitableCount})
	tw.AppendRow(table.Row{"Win rate", winRate.Mul(money.Hundred).StringFixed(1) + "%"})
	tw.AppendRow(table.Row{"Net profit", stats.NetProfit.StringFixed(2)})
	if stats.BestProfitPct.Valid {
		tw.AppendRow(table.Row{"Best cycle", stats.BestProfitPct.Decimal.Mul(money.Hundred).StringFixed(2) + "%"})
	}
	if stats.WorstProfitPct.Valid {
		tw.AppendRow(table.Row{"Worst cycle", stats.WorstProfitPct.Decimal.Mul(money.Hundred).StringFixed(2) + "%"})
	}
	tw.AppendRow(table.Row{"Max drawdown", maxDrawdown(curve).Mul(money.Hundred).StringFixed(2) + "%"})
	if n := len(curve); n > 0 {
		tw.AppendRow(table.Row{"Final balance", curve[n-1].StringFixed(2)})
	}
	return tw.Render(), nil
}

// maxDrawdown returns the largest peak-to-trough fraction of the
// equity series.
func maxDrawdown(curve []decimal.Decimal) decimal.Decimal {
	if len(curve) < 2 {
		return decimal.Zero
	}
	peak := curve[0]
	maxDD := decimal.Zero
	for _, equity := range curve {
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd, ok := money.SafeDiv(peak.Sub(equity), peak)
		if ok && dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}
