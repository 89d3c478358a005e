package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/crypto_paper_bot/internal/domain"
	"github.com/vitos/crypto_paper_bot/internal/usecase"
)

type Server struct {
	router *http.ServeMux
	server *http.Server
	engine *usecase.Engine
	runner *usecase.LiveRunner
	market domain.MarketData
	ledger domain.Ledger
	logger *zap.Logger
}

func NewServer(
	port int,
	engine *usecase.Engine,
	runner *usecase.LiveRunner,
	market domain.MarketData,
	ledger domain.Ledger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router: http.NewServeMux(),
		engine: engine,
		runner: runner,
		market: market,
		ledger: ledger,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Bot control
	s.router.HandleFunc("GET /api/bot/status", s.handleStatus)
	s.router.HandleFunc("POST /api/bot/start", s.handleStart)
	s.router.HandleFunc("POST /api/bot/pause", s.handlePause)
	s.router.HandleFunc("POST /api/bot/reset", s.handleReset)

	// Ledger data
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/portfolio/snapshots", s.handleSnapshots)

	// Market data passthrough
	s.router.HandleFunc("GET /api/market/candles", s.handleCandles)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
