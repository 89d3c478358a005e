package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_paper_bot/internal/domain"
	"github.com/vitos/crypto_paper_bot/internal/usecase"
)

const (
	defaultTradesLimit    = 500
	defaultSnapshotsLimit = 2000
	defaultCandlesLimit   = 500
	maxCandlesLimit       = 1000
)

// StartRequest starts a session in either mode. start_time/end_time are
// optional RFC3339 timestamps bounding the backtest candle range.
type StartRequest struct {
	Mode           domain.Mode     `json:"mode"`
	Symbol         string          `json:"symbol"`
	Interval       string          `json:"interval"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	RiskPct        decimal.Decimal `json:"risk_pct"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Mode.Valid() {
		http.Error(w, "mode must be BACKTEST or LIVE", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Interval) == "" {
		http.Error(w, "symbol and interval are required", http.StatusBadRequest)
		return
	}

	// Prevent overlapping sessions.
	s.engine.Stop()

	if req.Mode == domain.ModeBacktest {
		startMs, err := parseISOToMs(req.StartTime)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		endMs, err := parseISOToMs(req.EndTime)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		candles, err := s.market.Candles(r.Context(), req.Symbol, req.Interval, startMs, endMs, maxCandlesLimit)
		if err != nil {
			s.logger.Error("Failed to fetch candles", zap.Error(err))
			http.Error(w, "failed to fetch candles", http.StatusInternalServerError)
			return
		}

		if err := s.engine.StartBacktest(r.Context(), req.Symbol, req.Interval, candles, req.InitialBalance, req.RiskPct); err != nil {
			s.startError(w, err)
			return
		}
	} else {
		if err := s.runner.SetRiskPct(req.RiskPct); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.engine.StartLive(r.Context(), req.Symbol, req.Interval, req.InitialBalance); err != nil {
			s.startError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) startError(w http.ResponseWriter, err error) {
	if errors.Is(err, usecase.ErrInvalidRiskPct) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("Failed to start session", zap.Error(err))
	http.Error(w, "failed to start session", http.StatusInternalServerError)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(r.URL.Query().Get("mode"))
	symbol := r.URL.Query().Get("symbol")
	if !mode.Valid() || symbol == "" {
		http.Error(w, "mode and symbol are required", http.StatusBadRequest)
		return
	}

	if err := s.engine.Reset(r.Context(), mode, symbol); err != nil {
		s.logger.Error("Failed to reset session", zap.Error(err))
		http.Error(w, "failed to reset session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(r.URL.Query().Get("mode"))
	symbol := r.URL.Query().Get("symbol")
	limit := queryInt(r, "limit", defaultTradesLimit)
	if !mode.Valid() || symbol == "" {
		http.Error(w, "mode and symbol are required", http.StatusBadRequest)
		return
	}

	trades, err := s.ledger.ListTrades(r.Context(), mode, symbol, limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(r.URL.Query().Get("mode"))
	symbol := r.URL.Query().Get("symbol")
	limit := queryInt(r, "limit", defaultSnapshotsLimit)
	if !mode.Valid() || symbol == "" {
		http.Error(w, "mode and symbol are required", http.StatusBadRequest)
		return
	}

	snapshots, err := s.ledger.ListSnapshots(r.Context(), mode, symbol, limit)
	if err != nil {
		s.logger.Error("Failed to list snapshots", zap.Error(err))
		http.Error(w, "failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if snapshots == nil {
		snapshots = []*domain.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	if symbol == "" || interval == "" {
		http.Error(w, "symbol and interval are required", http.StatusBadRequest)
		return
	}

	startMs := queryInt64(r, "startMs")
	endMs := queryInt64(r, "endMs")
	limit := queryInt(r, "limit", defaultCandlesLimit)
	if limit > maxCandlesLimit {
		limit = maxCandlesLimit
	}

	candles, err := s.market.Candles(r.Context(), symbol, interval, startMs, endMs, limit)
	if err != nil {
		s.logger.Error("Failed to fetch candles", zap.Error(err))
		http.Error(w, "failed to fetch candles", http.StatusInternalServerError)
		return
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	s.writeJSON(w, http.StatusOK, candles)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func parseISOToMs(iso string) (int64, error) {
	if strings.TrimSpace(iso) == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return 0, errors.New("invalid datetime: " + iso + " (expected e.g. 2026-01-01T00:00:00Z)")
	}
	return t.UnixMilli(), nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
