package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

// LiveRunner owns the live polling cadence: it periodically fetches the
// latest price and feeds it into the engine. The engine itself has no
// clock; every tick the runner checks whether a live session is
// running, so the loop can be started once at boot and left alone.
type LiveRunner struct {
	engine *Engine
	market domain.MarketData
	logger *zap.Logger
	poll   time.Duration

	mu      sync.Mutex
	riskPct decimal.Decimal
}

func NewLiveRunner(engine *Engine, market domain.MarketData, poll time.Duration, logger *zap.Logger) *LiveRunner {
	return &LiveRunner{
		engine:  engine,
		market:  market,
		logger:  logger,
		poll:    poll,
		riskPct: decimal.RequireFromString("0.1"),
	}
}

// SetRiskPct updates the fraction of cash spent per buy. Values outside
// (0, 1] are rejected, never clamped.
func (r *LiveRunner) SetRiskPct(riskPct decimal.Decimal) error {
	if err := validateRiskPct(riskPct); err != nil {
		return err
	}
	r.mu.Lock()
	r.riskPct = riskPct
	r.mu.Unlock()
	return nil
}

func (r *LiveRunner) RiskPct() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.riskPct
}

// Run polls until ctx is cancelled.
func (r *LiveRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one poll: no-op unless a live session is running.
func (r *LiveRunner) Tick(ctx context.Context) {
	st := r.engine.Status()
	if !st.Running || st.Mode != domain.ModeLive {
		return
	}

	price, err := r.market.LatestPrice(ctx, st.Symbol)
	if err != nil {
		r.logger.Error("failed to fetch latest price", zap.String("symbol", st.Symbol), zap.Error(err))
		return
	}

	if err := r.engine.ProcessLiveTick(ctx, price, time.Now().UTC(), r.RiskPct()); err != nil {
		r.logger.Error("failed to process live tick", zap.String("symbol", st.Symbol), zap.Error(err))
	}
}
