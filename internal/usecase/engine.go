package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

// Rolling close window bounds. The window is trimmed in a batch: it may
// grow to maxWindow entries, then the oldest are dropped down to
// keepWindow. Indicators only ever read the newest SlowPeriod entries,
// so the trim timing never changes observable signal values.
const (
	maxWindow  = 2000
	keepWindow = 500
)

// ErrInvalidRiskPct is returned when risk_pct is outside (0, 1].
var ErrInvalidRiskPct = errors.New("risk_pct must be in (0, 1]")

// Engine runs one trading session at a time, in backtest or live mode.
// Both modes drive the same decision cycle, so replaying a price
// sequence and ticking it live produce identical trades and snapshots.
//
// Entry points serialize on an internal mutex; Stop and Status stay
// lock-free so a long backtest can be halted cooperatively.
type Engine struct {
	ledger domain.Ledger
	logger *zap.Logger

	sessionMu sync.Mutex // serializes decision cycles and session setup

	running  atomic.Bool
	statusMu sync.Mutex // guards mode/symbol/interval
	mode     domain.Mode
	symbol   string
	interval string

	closes   []decimal.Decimal
	prevFast *decimal.Decimal
	prevSlow *decimal.Decimal
}

func NewEngine(ledger domain.Ledger, logger *zap.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		logger: logger,
		mode:   domain.ModeBacktest,
	}
}

// Status reports the current session.
func (e *Engine) Status() domain.Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return domain.Status{
		Running:  e.running.Load(),
		Mode:     e.mode,
		Symbol:   e.symbol,
		Interval: e.interval,
	}
}

// Stop halts the session from any state. Idempotent; a running backtest
// notices the flag between cycles.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Reset deletes all trades and snapshots for mode+symbol and zeroes the
// position. Callers must stop the matching session first.
func (e *Engine) Reset(ctx context.Context, mode domain.Mode, symbol string) error {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	accountID, err := e.ledger.DefaultAccountID(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	err = e.ledger.InTx(ctx, func(tx domain.Ledger) error {
		if err := tx.PurgeSession(ctx, accountID, mode, symbol); err != nil {
			return fmt.Errorf("purge session: %w", err)
		}
		return tx.UpsertPosition(ctx, accountID, symbol, decimal.Zero, decimal.Zero)
	})
	if err != nil {
		return err
	}
	e.logger.Info("session reset", zap.String("mode", string(mode)), zap.String("symbol", symbol))
	return nil
}

// StartBacktest stops any running session, resets the account to
// initialBalance and replays candles synchronously, one decision cycle
// per candle close. The call returns once the sequence is exhausted,
// an external Stop halts it, or a collaborator fails.
func (e *Engine) StartBacktest(ctx context.Context, symbol, interval string, candles []domain.Candle, initialBalance, riskPct decimal.Decimal) error {
	if err := validateRiskPct(riskPct); err != nil {
		return err
	}

	e.running.Store(false)
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	accountID, err := e.ledger.DefaultAccountID(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	if err := e.initSession(ctx, domain.ModeBacktest, symbol, interval, accountID, initialBalance); err != nil {
		return err
	}

	e.logger.Info("backtest started",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("candles", len(candles)))

	for _, c := range candles {
		if !e.running.Load() {
			break
		}
		if err := e.cycle(ctx, accountID, c.Close, c.OpenTime, riskPct); err != nil {
			return err
		}
	}

	e.running.Store(false)
	e.logger.Info("backtest finished", zap.String("symbol", symbol))
	return nil
}

// StartLive stops any running session, resets the account to
// initialBalance, clears the rolling window and returns immediately.
// Ticks are delivered afterwards via ProcessLiveTick.
func (e *Engine) StartLive(ctx context.Context, symbol, interval string, initialBalance decimal.Decimal) error {
	e.running.Store(false)
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	accountID, err := e.ledger.DefaultAccountID(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	if err := e.initSession(ctx, domain.ModeLive, symbol, interval, accountID, initialBalance); err != nil {
		return err
	}

	e.logger.Info("live session started",
		zap.String("symbol", symbol),
		zap.String("interval", interval))
	return nil
}

// ProcessLiveTick runs exactly one decision cycle for a live price. It
// is a no-op unless a live session is running.
func (e *Engine) ProcessLiveTick(ctx context.Context, price decimal.Decimal, ts time.Time, riskPct decimal.Decimal) error {
	if err := validateRiskPct(riskPct); err != nil {
		return err
	}

	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if !e.running.Load() || e.currentMode() != domain.ModeLive {
		return nil
	}

	accountID, err := e.ledger.DefaultAccountID(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	return e.cycle(ctx, accountID, price, ts, riskPct)
}

func (e *Engine) currentMode() domain.Mode {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.mode
}

func (e *Engine) initSession(ctx context.Context, mode domain.Mode, symbol, interval string, accountID int64, initialBalance decimal.Decimal) error {
	if err := e.ledger.SetCash(ctx, accountID, initialBalance); err != nil {
		return fmt.Errorf("reset cash: %w", err)
	}
	if err := e.ledger.UpsertPosition(ctx, accountID, symbol, decimal.Zero, decimal.Zero); err != nil {
		return fmt.Errorf("reset position: %w", err)
	}

	e.statusMu.Lock()
	e.mode = mode
	e.symbol = symbol
	e.interval = interval
	e.statusMu.Unlock()

	e.closes = nil
	e.prevFast = nil
	e.prevSlow = nil
	e.running.Store(true)
	return nil
}

// cycle processes one price point: window append+trim, signal, trade
// decision, snapshot. Ledger mutations of a cycle are grouped in one
// transaction, and prevFast/prevSlow only advance after it commits, so
// a failed cycle leaves both store and indicator state untouched.
func (e *Engine) cycle(ctx context.Context, accountID int64, price decimal.Decimal, ts time.Time, riskPct decimal.Decimal) error {
	e.appendClose(price)

	mode := e.currentMode()
	symbol := e.Status().Symbol

	if len(e.closes) < SlowPeriod+2 {
		return e.ledger.InTx(ctx, func(tx domain.Ledger) error {
			return e.writeSnapshot(ctx, tx, accountID, mode, symbol, price, ts)
		})
	}

	sig := ComputeSignal(e.closes, e.prevFast, e.prevSlow)

	err := e.ledger.InTx(ctx, func(tx domain.Ledger) error {
		pos, err := tx.Position(ctx, accountID, symbol)
		if err != nil {
			return fmt.Errorf("read position: %w", err)
		}

		hasPosition := pos.Quantity.Sign() > 0
		buyOK := sig.CrossUp && sig.RSI.Cmp(rsiBuyCeiling) < 0
		sellOK := sig.CrossDn || sig.RSI.Cmp(rsiSellFloor) > 0

		if !hasPosition && buyOK {
			if err := e.tryBuy(ctx, tx, accountID, mode, symbol, price, ts, riskPct); err != nil {
				return err
			}
		} else if hasPosition && sellOK {
			if err := e.sellAll(ctx, tx, accountID, mode, symbol, price, ts); err != nil {
				return err
			}
		}

		return e.writeSnapshot(ctx, tx, accountID, mode, symbol, price, ts)
	})
	if err != nil {
		return err
	}

	e.prevFast = &sig.Fast
	e.prevSlow = &sig.Slow
	return nil
}

func (e *Engine) appendClose(price decimal.Decimal) {
	e.closes = append(e.closes, price)
	if len(e.closes) > maxWindow {
		trimmed := make([]decimal.Decimal, keepWindow)
		copy(trimmed, e.closes[len(e.closes)-keepWindow:])
		e.closes = trimmed
	}
}

// tryBuy spends cash*riskPct at the given price. Zero spend, zero
// quantity and insufficient funds are silent no-trade outcomes, not
// errors; there are no partial fills.
func (e *Engine) tryBuy(ctx context.Context, tx domain.Ledger, accountID int64, mode domain.Mode, symbol string, price decimal.Decimal, ts time.Time, riskPct decimal.Decimal) error {
	cash, err := tx.Cash(ctx, accountID)
	if err != nil {
		return fmt.Errorf("read cash: %w", err)
	}

	spend := cash.Mul(riskPct).Round(moneyScale)
	if spend.Sign() <= 0 {
		return nil
	}

	quantity := spend.DivRound(price, moneyScale)
	if quantity.Sign() <= 0 {
		return nil
	}

	fee := spend.Mul(FeeRate).Round(moneyScale)
	totalCost := spend.Add(fee)
	if cash.Cmp(totalCost) < 0 {
		return nil
	}

	pos, err := tx.Position(ctx, accountID, symbol)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	newQuantity := pos.Quantity.Add(quantity)
	newAvg := pos.AvgEntryPrice.Mul(pos.Quantity).
		Add(price.Mul(quantity)).
		DivRound(newQuantity, moneyScale)

	if err := tx.SetCash(ctx, accountID, cash.Sub(totalCost)); err != nil {
		return fmt.Errorf("debit cash: %w", err)
	}
	if err := tx.UpsertPosition(ctx, accountID, symbol, newQuantity, newAvg); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if err := tx.InsertTrade(ctx, &domain.Trade{
		AccountID:   accountID,
		Mode:        mode,
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Quantity:    quantity,
		Price:       price,
		Fee:         fee,
		RealizedPnL: decimal.Zero,
		ExecutedAt:  ts,
	}); err != nil {
		return fmt.Errorf("record buy: %w", err)
	}

	e.logger.Info("buy executed",
		zap.String("symbol", symbol),
		zap.String("qty", quantity.String()),
		zap.String("price", price.String()))
	return nil
}

// sellAll liquidates the whole position. A zero position is a silent
// no-op; this engine never sells partially.
func (e *Engine) sellAll(ctx context.Context, tx domain.Ledger, accountID int64, mode domain.Mode, symbol string, price decimal.Decimal, ts time.Time) error {
	pos, err := tx.Position(ctx, accountID, symbol)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if pos.Quantity.Sign() <= 0 {
		return nil
	}

	proceeds := pos.Quantity.Mul(price).Round(moneyScale)
	fee := proceeds.Mul(FeeRate).Round(moneyScale)
	realized := price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity).Round(moneyScale)

	cash, err := tx.Cash(ctx, accountID)
	if err != nil {
		return fmt.Errorf("read cash: %w", err)
	}
	if err := tx.SetCash(ctx, accountID, cash.Add(proceeds.Sub(fee))); err != nil {
		return fmt.Errorf("credit cash: %w", err)
	}
	if err := tx.UpsertPosition(ctx, accountID, symbol, decimal.Zero, decimal.Zero); err != nil {
		return fmt.Errorf("zero position: %w", err)
	}
	if err := tx.InsertTrade(ctx, &domain.Trade{
		AccountID:   accountID,
		Mode:        mode,
		Symbol:      symbol,
		Side:        domain.SideSell,
		Quantity:    pos.Quantity,
		Price:       price,
		Fee:         fee,
		RealizedPnL: realized,
		ExecutedAt:  ts,
	}); err != nil {
		return fmt.Errorf("record sell: %w", err)
	}

	e.logger.Info("sell executed",
		zap.String("symbol", symbol),
		zap.String("qty", pos.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("realized_pnl", realized.String()))
	return nil
}

func (e *Engine) writeSnapshot(ctx context.Context, tx domain.Ledger, accountID int64, mode domain.Mode, symbol string, price decimal.Decimal, ts time.Time) error {
	cash, err := tx.Cash(ctx, accountID)
	if err != nil {
		return fmt.Errorf("read cash: %w", err)
	}
	pos, err := tx.Position(ctx, accountID, symbol)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	posValue := pos.Quantity.Mul(price).Round(moneyScale)
	total := cash.Add(posValue).Round(moneyScale)

	if err := tx.InsertSnapshot(ctx, &domain.Snapshot{
		AccountID:     accountID,
		Mode:          mode,
		Symbol:        symbol,
		TakenAt:       ts,
		CashBalance:   cash,
		PositionQty:   pos.Quantity,
		PositionValue: posValue,
		TotalValue:    total,
	}); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

func validateRiskPct(riskPct decimal.Decimal) error {
	if riskPct.Sign() <= 0 || riskPct.Cmp(decimal.NewFromInt(1)) > 0 {
		return ErrInvalidRiskPct
	}
	return nil
}
