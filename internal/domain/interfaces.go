package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData defines the interface for fetching prices from an exchange.
type MarketData interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Candles returns historical bars, oldest first. startMs/endMs are
	// epoch milliseconds; zero means unbounded.
	Candles(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]Candle, error)
}

// Ledger defines storage operations for the paper account: cash,
// positions, trades and portfolio snapshots.
type Ledger interface {
	DefaultAccountID(ctx context.Context) (int64, error)

	Cash(ctx context.Context, accountID int64) (decimal.Decimal, error)
	SetCash(ctx context.Context, accountID int64, cash decimal.Decimal) error

	Position(ctx context.Context, accountID int64, symbol string) (Position, error)
	UpsertPosition(ctx context.Context, accountID int64, symbol string, quantity, avgEntry decimal.Decimal) error

	InsertTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, mode Mode, symbol string, limit int) ([]*Trade, error)

	InsertSnapshot(ctx context.Context, snapshot *Snapshot) error
	ListSnapshots(ctx context.Context, mode Mode, symbol string, limit int) ([]*Snapshot, error)

	// PurgeSession deletes all trades and snapshots recorded for the
	// given mode+symbol on the account.
	PurgeSession(ctx context.Context, accountID int64, mode Mode, symbol string) error

	// InTx runs fn against a Ledger bound to a single transaction. If fn
	// returns an error the transaction is rolled back and nothing it
	// wrote is visible.
	InTx(ctx context.Context, fn func(tx Ledger) error) error
}
