package indicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// APISource fetches a whole batch from a taapi-style /bulk endpoint in
// one POST. Volume-ratio requests are not answerable upstream and are
// left for the fallback source.
type APISource struct {
	baseURL string
	secret  string
	quote   string
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewAPISource builds the bulk HTTP source. quote is needed to render
// symbols the way the API expects (BTCUSDT -> BTC/USDT).
func NewAPISource(baseURL, secret, quote string, timeout time.Duration, log *zap.SugaredLogger) *APISource {
	return &APISource{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		quote:   quote,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type bulkIndicator struct {
	ID        string `json:"id"`
	Indicator string `json:"indicator"`
	Period    int    `json:"period,omitempty"`
}

type bulkConstruct struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Indicators []bulkIndicator `json:"indicators"`
}

type bulkRequest struct {
	Secret    string          `json:"secret"`
	Construct []bulkConstruct `json:"construct"`
}

func (s *APISource) FetchBatch(ctx context.Context, reqs []Request) (map[string]decimal.Decimal, error) {
	constructs := s.buildConstructs(reqs)
	out := make(map[string]decimal.Decimal)
	if len(constructs) == 0 {
		return out, nil
	}

	body, err := json.Marshal(bulkRequest{Secret: s.secret, Construct: constructs})
	if err != nil {
		return out, fmt.Errorf("encode bulk request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/bulk", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build bulk request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("bulk fetch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read bulk response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("bulk fetch: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if !gjson.ValidBytes(raw) {
		return out, fmt.Errorf("bulk fetch: response is not valid json")
	}

	for _, item := range gjson.GetBytes(raw, "data").Array() {
		id := item.Get("id").String()
		value := item.Get("result.value")
		if id == "" || !value.Exists() {
			if errs := item.Get("errors").Array(); len(errs) > 0 {
				s.log.Warnw("indicator api error", "id", id, "errors", errs)
			}
			continue
		}
		out[id] = decimal.NewFromFloat(value.Float())
	}
	return out, nil
}

// buildConstructs groups answerable requests by symbol+interval; the
// request key doubles as the result id.
func (s *APISource) buildConstructs(reqs []Request) []bulkConstruct {
	type groupKey struct{ symbol, interval string }
	groups := make(map[groupKey][]bulkIndicator)
	var order []groupKey
	for _, r := range reqs {
		if r.Indicator == IndVolumeRatio {
			continue
		}
		gk := groupKey{r.Symbol, r.Interval}
		if _, seen := groups[gk]; !seen {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], bulkIndicator{
			ID:        Request{r.Indicator, r.Symbol, r.Interval, r.Period}.Key(),
			Indicator: r.Indicator,
			Period:    r.Period,
		})
	}

	constructs := make([]bulkConstruct, 0, len(order))
	for _, gk := range order {
		constructs = append(constructs, bulkConstruct{
			Exchange:   "binance",
			Symbol:     s.slashSymbol(gk.symbol),
			Interval:   gk.interval,
			Indicators: groups[gk],
		})
	}
	return constructs
}

func (s *APISource) slashSymbol(symbol string) string {
	base := strings.TrimSuffix(symbol, s.quote)
	if base == symbol {
		return symbol
	}
	return base + "/" + s.quote
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
