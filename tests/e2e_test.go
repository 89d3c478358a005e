package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_paper_bot/internal/domain"
	"github.com/vitos/crypto_paper_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_paper_bot/internal/usecase"
	"github.com/vitos/crypto_paper_bot/internal/web"
)

func TestBacktestEndToEnd(t *testing.T) {
	// 1. Setup SQLite
	dbPath := "test_e2e_backtest.db"
	os.Remove(dbPath)
	defer os.Remove(dbPath)

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	defer store.Close()

	// 2. Setup Mock Market with the reference scenario
	market := &MockMarket{Series: ScenarioCandles(100)}

	// 3. Wire Engine + Runner + Web Server
	log := zap.NewNop()
	engine := usecase.NewEngine(store, log)
	runner := usecase.NewLiveRunner(engine, market, time.Second, log)
	server := web.NewServer(0, engine, runner, market, store, log)
	h := server.Handler()

	// 4. Start a backtest through the API
	body, _ := json.Marshal(map[string]any{
		"mode":            "BACKTEST",
		"symbol":          "BTCUSDT",
		"interval":        "1m",
		"initial_balance": "10000",
		"risk_pct":        "0.1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/bot/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Start failed: %d %s", rec.Code, rec.Body.String())
	}

	// 5. Verify trades through the API: one buy at 83, one full sell at 92
	req = httptest.NewRequest(http.MethodGet, "/api/trades?mode=BACKTEST&symbol=BTCUSDT", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ListTrades failed: %d", rec.Code)
	}

	var trades []domain.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &trades); err != nil {
		t.Fatalf("Failed to decode trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(trades))
	}

	// Newest first: the sell leads
	sell, buy := trades[0], trades[1]
	if sell.Side != domain.SideSell || buy.Side != domain.SideBuy {
		t.Fatalf("Expected SELL then BUY in listing, got %s then %s", sell.Side, buy.Side)
	}
	if !buy.Price.Equal(d("83")) || !buy.Quantity.Equal(d("12.04819277")) || !buy.Fee.Equal(d("1.00000000")) {
		t.Errorf("Unexpected buy: qty=%s price=%s fee=%s", buy.Quantity, buy.Price, buy.Fee)
	}
	if !sell.Price.Equal(d("92")) || !sell.Quantity.Equal(d("12.04819277")) || !sell.Fee.Equal(d("1.10843373")) {
		t.Errorf("Unexpected sell: qty=%s price=%s fee=%s", sell.Quantity, sell.Price, sell.Fee)
	}
	if !sell.RealizedPnL.Equal(d("108.43373493")) {
		t.Errorf("Expected realized pnl 108.43373493, got %s", sell.RealizedPnL)
	}

	// 6. Verify snapshots: one per candle, final equity all in cash
	req = httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots?mode=BACKTEST&symbol=BTCUSDT", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ListSnapshots failed: %d", rec.Code)
	}

	var snaps []domain.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("Failed to decode snapshots: %v", err)
	}
	if len(snaps) != 60 {
		t.Fatalf("Expected 60 snapshots, got %d", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if !last.CashBalance.Equal(d("10106.32530111")) {
		t.Errorf("Expected final cash 10106.32530111, got %s", last.CashBalance)
	}
	if !last.PositionQty.IsZero() || !last.PositionValue.IsZero() {
		t.Errorf("Expected flat final position, got qty=%s value=%s", last.PositionQty, last.PositionValue)
	}
	if !last.TotalValue.Equal(d("10106.32530111")) {
		t.Errorf("Expected final total 10106.32530111, got %s", last.TotalValue)
	}

	// 7. Restarting appends to history; an explicit reset clears it
	req = httptest.NewRequest(http.MethodPost, "/api/bot/start", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Restart failed: %d %s", rec.Code, rec.Body.String())
	}

	again, err := store.ListTrades(context.Background(), domain.ModeBacktest, "BTCUSDT", 500)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(again) != 4 {
		t.Errorf("Expected 4 trades after restart, got %d", len(again))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/bot/reset?mode=BACKTEST&symbol=BTCUSDT", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Reset failed: %d", rec.Code)
	}
	again, err = store.ListTrades(context.Background(), domain.ModeBacktest, "BTCUSDT", 500)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected empty history after reset, got %d trades", len(again))
	}
}

func TestLiveSessionEndToEnd(t *testing.T) {
	// 1. Setup SQLite
	dbPath := "test_e2e_live.db"
	os.Remove(dbPath)
	defer os.Remove(dbPath)

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	defer store.Close()

	// 2. Wire a live session driven by manual runner ticks
	market := &MockMarket{}
	log := zap.NewNop()
	engine := usecase.NewEngine(store, log)
	runner := usecase.NewLiveRunner(engine, market, time.Second, log)
	server := web.NewServer(0, engine, runner, market, store, log)
	h := server.Handler()

	body, _ := json.Marshal(map[string]any{
		"mode":            "LIVE",
		"symbol":          "ETHUSDT",
		"interval":        "1m",
		"initial_balance": "5000",
		"risk_pct":        "0.2",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/bot/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Start failed: %d %s", rec.Code, rec.Body.String())
	}
	if !runner.RiskPct().Equal(d("0.2")) {
		t.Errorf("Expected runner risk 0.2, got %s", runner.RiskPct())
	}

	// 3. Feed the scenario prices through the poller
	ctx := context.Background()
	for _, p := range ScenarioPrices(100) {
		market.Price = p
		runner.Tick(ctx)
	}
	if market.LastSym != "ETHUSDT" {
		t.Errorf("Expected polls for ETHUSDT, got %q", market.LastSym)
	}

	// 4. The live session stays running and traded the same round trip
	req = httptest.NewRequest(http.MethodGet, "/api/bot/status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var status domain.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if !status.Running || status.Mode != domain.ModeLive {
		t.Fatalf("Expected running live session, got %+v", status)
	}

	trades, err := store.ListTrades(ctx, domain.ModeLive, "ETHUSDT", 500)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(trades))
	}
	if trades[1].Side != domain.SideBuy || !trades[1].Price.Equal(d("83")) {
		t.Errorf("Unexpected buy: side=%s price=%s", trades[1].Side, trades[1].Price)
	}
	if trades[0].Side != domain.SideSell || !trades[0].Price.Equal(d("92")) {
		t.Errorf("Unexpected sell: side=%s price=%s", trades[0].Side, trades[0].Price)
	}

	// 5. Pause stops the session; further ticks do nothing
	req = httptest.NewRequest(http.MethodPost, "/api/bot/pause", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Pause failed: %d", rec.Code)
	}

	before := market.Ticks
	runner.Tick(ctx)
	if market.Ticks != before {
		t.Error("Expected no polls after pause")
	}

	snaps, err := store.ListSnapshots(ctx, domain.ModeLive, "ETHUSDT", 2000)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snaps) != 60 {
		t.Errorf("Expected 60 snapshots, got %d", len(snaps))
	}
}
