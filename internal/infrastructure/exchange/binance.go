package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	BinanceWSURL   = "wss://stream.binance.com:9443/ws"
)

// BinanceAdapter implements domain.MarketData against the Binance spot
// REST API, plus an optional miniTicker websocket stream for callers
// that prefer pushed prices over polling.
type BinanceAdapter struct {
	baseURL   string
	wsURL     string
	client    *http.Client
	wsConn    *websocket.Conn
	callbacks []func(symbol string, price decimal.Decimal)
	mu        sync.Mutex
}

func NewBinanceAdapter(baseURL, wsURL string) *BinanceAdapter {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	return &BinanceAdapter{
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// --- REST API ---

func (b *BinanceAdapter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("binance API error: %s", string(body))
	}
	return body, nil
}

func (b *BinanceAdapter) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := b.get(ctx, "/api/v3/ticker/price?symbol="+url.QueryEscape(symbol))
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", result.Price, err)
	}
	return price, nil
}

func (b *BinanceAdapter) Candles(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if startMs > 0 {
		params.Set("startTime", strconv.FormatInt(startMs, 10))
	}
	if endMs > 0 {
		params.Set("endTime", strconv.FormatInt(endMs, 10))
	}

	body, err := b.get(ctx, "/api/v3/klines?"+params.Encode())
	if err != nil {
		return nil, err
	}

	// Klines come back as arrays: [openTime, open, high, low, close,
	// volume, closeTime, ...] with prices as strings.
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, ok := k[0].(float64)
		if !ok {
			continue
		}

		c := domain.Candle{OpenTime: time.UnixMilli(int64(openTime)).UTC()}
		fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		valid := true
		for i, dst := range fields {
			s, ok := k[i+1].(string)
			if !ok {
				valid = false
				break
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				valid = false
				break
			}
			*dst = d
		}
		if valid {
			candles = append(candles, c)
		}
	}
	return candles, nil
}

// --- Websocket stream ---

// OnPriceUpdate registers a callback invoked for every miniTicker close
// received on the stream.
func (b *BinanceAdapter) OnPriceUpdate(callback func(symbol string, price decimal.Decimal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// ConnectWS dials the stream (if not already connected) and subscribes
// to miniTicker updates for the given symbols.
func (b *BinanceAdapter) ConnectWS(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn != nil {
		return b.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return err
	}
	b.wsConn = c

	go b.readLoop(c)

	return b.subscribe(symbols)
}

func (b *BinanceAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = strings.ToLower(s) + "@miniTicker"
	}
	subMsg := map[string]any{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     time.Now().UnixMilli(),
	}
	return b.wsConn.WriteJSON(subMsg)
}

func (b *BinanceAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Println("WS read error:", err)
			return
		}

		var event struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			Close     string `json:"c"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.EventType != "24hrMiniTicker" || event.Close == "" {
			continue
		}

		price, err := decimal.NewFromString(event.Close)
		if err != nil {
			continue
		}

		b.mu.Lock()
		callbacks := make([]func(string, decimal.Decimal), len(b.callbacks))
		copy(callbacks, b.callbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(event.Symbol, price)
		}
	}
}
