// Package indicator feeds the entry gate: a TTL cache over batched
// fetches from either a bulk indicator API or local kline computation,
// behind a sliding-window rate limit.
package indicator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Indicator kinds a Source can be asked for.
const (
	IndRSI         = "rsi"
	IndEMA         = "ema"
	IndATR         = "atr"
	IndVolumeRatio = "volume_ratio"
)

// Request names one value to fetch.
type Request struct {
	Indicator string
	Symbol    string
	Interval  string
	Period    int
}

// Key is the cache key and the id used to match batched results.
func (r Request) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.Symbol, r.Indicator, r.Interval)
}

// Source answers a batch of requests in one upstream round trip. A
// request the source cannot answer is simply absent from the map; an
// error may still come with partial results.
type Source interface {
	FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error)
}

// Chain asks primary first and falls back to secondary for whatever is
// still missing. Used to back the bulk API with local computation.
type Chain struct {
	primary   Source
	secondary Source
}

// NewChain builds the two-level source.
func NewChain(primary, secondary Source) *Chain {
	return &Chain{primary: primary, secondary: secondary}
}

func (c *Chain) FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	out, primaryErr := c.primary.FetchBatch(ctx, reqs)
	if out == nil {
		out = make(map[string]decimal.Decimal)
	}

	var missing []Request
	for _, r := range reqs {
		if _, ok := out[r.Key()]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	rest, secondaryErr := c.secondary.FetchBatch(ctx, missing)
	for k, v := range rest {
		out[k] = v
	}
	if secondaryErr != nil && primaryErr != nil {
		return out, fmt.Errorf("all sources failed: %v; fallback: %w", primaryErr, secondaryErr)
	}
	return out, nil
}
