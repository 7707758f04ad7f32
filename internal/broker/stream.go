package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	mainnetStreamURL = "wss://stream.binance.com:9443/stream"
	testnetStreamURL = "wss://stream.testnet.binance.vision/stream"

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Stream maintains a last-price cache fed by Binance's combined
// mini-ticker stream so ticks do not pay REST weight for price reads.
// It reconnects forever with capped backoff until Stop is called.
type Stream struct {
	url     string
	symbols []string
	log     *zap.SugaredLogger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewStream prepares a stream for the given symbols; call Start to
// connect.
func NewStream(symbols []string, testnet bool, log *zap.SugaredLogger) *Stream {
	base := mainnetStreamURL
	if testnet {
		base = testnetStreamURL
	}
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = strings.ToLower(s) + "@miniTicker"
	}
	return &Stream{
		url:     base + "?streams=" + strings.Join(names, "/"),
		symbols: symbols,
		log:     log,
		prices:  make(map[string]decimal.Decimal),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the connect/reconnect loop in the background.
func (s *Stream) Start() {
	s.started = true
	go func() {
		defer close(s.doneCh)
		delay := time.Second
		for {
			select {
			case <-s.stopCh:
				return
			default:
			}

			conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
			if err != nil {
				s.log.Warnw("price stream dial failed", "error", err, "retry_in", delay)
				select {
				case <-s.stopCh:
					return
				case <-time.After(delay):
				}
				delay *= 2
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				continue
			}

			s.log.Infow("price stream connected", "symbols", s.symbols)
			delay = time.Second
			if err := s.readLoop(conn); err != nil {
				s.log.Warnw("price stream dropped", "error", err)
			}
			conn.Close()
		}
	}()
}

// readLoop handles one established connection: pong-extended read
// deadline, periodic pings, and price updates until an error or Stop.
func (s *Stream) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-s.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case <-s.stopCh:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteMessage(websocket.CloseMessage, msg)
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var envelope struct {
			Data struct {
				Symbol string      `json:"s"`
				Close  json.Number `json:"c"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			s.log.Debugw("unparseable stream message", "error", err)
			continue
		}
		if envelope.Data.Symbol == "" {
			continue
		}
		price, err := decimal.NewFromString(envelope.Data.Close.String())
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.prices[envelope.Data.Symbol] = price
		s.mu.Unlock()
	}
}

// LastPrice returns the cached price for symbol, if any update arrived.
func (s *Stream) LastPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Stop terminates the loops; safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	if s.started {
		<-s.doneCh
	}
}
