package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the engine on a fixed interval, ticking each symbol
// in order. Symbols run sequentially so one pass never races another;
// the per-symbol busy guard in the engine covers external callers.
type Scheduler struct {
	engine   *Engine
	symbols  []string
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewScheduler builds a scheduler for the given symbols.
func NewScheduler(e *Engine, symbols []string, interval time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{engine: e, symbols: symbols, interval: interval, log: log}
}

// Run ticks until ctx is cancelled. It blocks; callers run it in a
// goroutine and cancel the context to stop. The first pass runs
// immediately rather than waiting an interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infow("scheduler started", "symbols", s.symbols, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return
		}
		s.tickSymbol(ctx, symbol)
	}
}

// tickSymbol isolates a panic to the symbol that raised it; the other
// symbols in the pass still run.
func (s *Scheduler) tickSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("tick panicked", "symbol", symbol, "panic", r)
		}
	}()
	s.engine.Tick(ctx, symbol)
}
