package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/pricecache"
)

const (
	wsPingInterval = 20 * time.Second
	wsReadTimeout  = 30 * time.Second
	wsReconnectMin = time.Second
	wsReconnectMax = 30 * time.Second
)

// tickerMessage is the subset of the exchange's ticker stream payload
// that HOPE cares about.
type tickerMessage struct {
	Symbol string `json:"s"`
	Price  string `json:"c"`
	Time   int64  `json:"E"`
}

// FeedClient streams live trades/tickers into the Price Cache over a
// reconnecting WebSocket, mirroring the teacher's ping/read-loop
// reconnect idiom adapted from subscribe-per-market to a combined
// ticker stream (spec §4.2, §6).
type FeedClient struct {
	url    string
	prices *pricecache.Cache

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]bool
}

// NewFeedClient constructs a feed client against a combined-stream
// WebSocket endpoint, writing observed prices into prices.
func NewFeedClient(url string, prices *pricecache.Cache) *FeedClient {
	return &FeedClient{url: url, prices: prices, symbols: make(map[string]bool)}
}

// Subscribe marks symbol for subscription. If already connected, the
// subscription message is sent immediately; otherwise it takes effect
// on the next (re)connect.
func (f *FeedClient) Subscribe(symbol string) {
	f.mu.Lock()
	f.symbols[symbol] = true
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]any{
			"method": "SUBSCRIBE",
			"params": []string{symbol + "@ticker"},
			"id":     time.Now().UnixNano(),
		})
	}
}

// Run connects and reconnects with exponential backoff until ctx is
// canceled (spec §5: L-loops run until shutdown, backpressure-tolerant
// reconnection).
func (f *FeedClient) Run(ctx context.Context) {
	backoff := wsReconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connectAndServe(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("exchange: feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (f *FeedClient) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	symbols := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s+"@ticker")
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	if len(symbols) > 0 {
		if err := conn.WriteJSON(map[string]any{"method": "SUBSCRIBE", "params": symbols, "id": 1}); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(loopCtx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		f.processMessage(raw)
	}
}

func (f *FeedClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (f *FeedClient) processMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}
	f.prices.OnTick(msg.Symbol, price, time.UnixMilli(msg.Time).UTC())
}
