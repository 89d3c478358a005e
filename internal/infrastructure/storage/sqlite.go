package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

// SQLiteStore implements domain.Ledger. Monetary values are stored as
// TEXT so decimals round-trip exactly; REAL columns would reintroduce
// the binary-float drift the engine is built to avoid.
type SQLiteStore struct {
	db *sql.DB
	q  querier // *sql.DB normally, *sql.Tx inside InTx
}

// querier is the subset of database/sql shared by DB and Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, q: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cash_balance TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			account_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			quantity TEXT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			fee TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			executed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_mode_symbol ON trades(mode, symbol);`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			symbol TEXT NOT NULL,
			taken_at DATETIME NOT NULL,
			cash_balance TEXT NOT NULL,
			position_qty TEXT NOT NULL,
			position_value TEXT NOT NULL,
			total_value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_mode_symbol ON portfolio_snapshots(mode, symbol);`,
		// Seed the single default account.
		`INSERT INTO accounts (cash_balance)
			SELECT '0' WHERE NOT EXISTS (SELECT 1 FROM accounts);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// InTx runs fn in a single transaction. Nested calls reuse the
// enclosing transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx domain.Ledger) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	bound := &SQLiteStore{db: s.db, q: tx}
	if err := fn(bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Account operations

func (s *SQLiteStore) DefaultAccountID(ctx context.Context) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `SELECT id FROM accounts ORDER BY id ASC LIMIT 1`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("default account: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Cash(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var raw string
	err := s.q.QueryRowContext(ctx, `SELECT cash_balance FROM accounts WHERE id = ?`, accountID).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get cash: %w", err)
	}
	return parseDecimal(raw)
}

func (s *SQLiteStore) SetCash(ctx context.Context, accountID int64, cash decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, `UPDATE accounts SET cash_balance = ? WHERE id = ?`, cash.String(), accountID)
	return err
}

// Position operations

func (s *SQLiteStore) Position(ctx context.Context, accountID int64, symbol string) (domain.Position, error) {
	var qty, avg string
	err := s.q.QueryRowContext(ctx,
		`SELECT quantity, avg_entry_price FROM positions WHERE account_id = ? AND symbol = ?`,
		accountID, symbol).Scan(&qty, &avg)
	if err == sql.ErrNoRows {
		return domain.Position{Quantity: decimal.Zero, AvgEntryPrice: decimal.Zero}, nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("get position: %w", err)
	}

	quantity, err := parseDecimal(qty)
	if err != nil {
		return domain.Position{}, err
	}
	avgEntry, err := parseDecimal(avg)
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{Quantity: quantity, AvgEntryPrice: avgEntry}, nil
}

func (s *SQLiteStore) UpsertPosition(ctx context.Context, accountID int64, symbol string, quantity, avgEntry decimal.Decimal) error {
	query := `INSERT INTO positions (account_id, symbol, quantity, avg_entry_price, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(account_id, symbol) DO UPDATE SET
			  quantity=excluded.quantity,
			  avg_entry_price=excluded.avg_entry_price,
			  updated_at=excluded.updated_at`
	_, err := s.q.ExecContext(ctx, query, accountID, symbol, quantity.String(), avgEntry.String(), time.Now().UTC())
	return err
}

// Trade operations

func (s *SQLiteStore) InsertTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (account_id, mode, symbol, side, quantity, price, fee, realized_pnl, executed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		trade.AccountID, string(trade.Mode), trade.Symbol, string(trade.Side),
		trade.Quantity.String(), trade.Price.String(), trade.Fee.String(),
		trade.RealizedPnL.String(), trade.ExecutedAt)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, mode domain.Mode, symbol string, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, account_id, mode, symbol, side, quantity, price, fee, realized_pnl, executed_at
			  FROM trades WHERE mode = ? AND symbol = ?
			  ORDER BY executed_at DESC, id DESC LIMIT ?`
	rows, err := s.q.QueryContext(ctx, query, string(mode), symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var qty, price, fee, pnl string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Mode, &t.Symbol, &t.Side,
			&qty, &price, &fee, &pnl, &t.ExecutedAt); err != nil {
			return nil, err
		}
		if t.Quantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if t.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if t.Fee, err = parseDecimal(fee); err != nil {
			return nil, err
		}
		if t.RealizedPnL, err = parseDecimal(pnl); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// Snapshot operations

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	query := `INSERT INTO portfolio_snapshots (account_id, mode, symbol, taken_at, cash_balance, position_qty, position_value, total_value)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		snapshot.AccountID, string(snapshot.Mode), snapshot.Symbol, snapshot.TakenAt,
		snapshot.CashBalance.String(), snapshot.PositionQty.String(),
		snapshot.PositionValue.String(), snapshot.TotalValue.String())
	return err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, mode domain.Mode, symbol string, limit int) ([]*domain.Snapshot, error) {
	query := `SELECT id, account_id, mode, symbol, taken_at, cash_balance, position_qty, position_value, total_value
			  FROM portfolio_snapshots WHERE mode = ? AND symbol = ?
			  ORDER BY taken_at ASC, id ASC LIMIT ?`
	rows, err := s.q.QueryContext(ctx, query, string(mode), symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.Snapshot
	for rows.Next() {
		var sn domain.Snapshot
		var cash, qty, posValue, total string
		if err := rows.Scan(&sn.ID, &sn.AccountID, &sn.Mode, &sn.Symbol, &sn.TakenAt,
			&cash, &qty, &posValue, &total); err != nil {
			return nil, err
		}
		if sn.CashBalance, err = parseDecimal(cash); err != nil {
			return nil, err
		}
		if sn.PositionQty, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if sn.PositionValue, err = parseDecimal(posValue); err != nil {
			return nil, err
		}
		if sn.TotalValue, err = parseDecimal(total); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &sn)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStore) PurgeSession(ctx context.Context, accountID int64, mode domain.Mode, symbol string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM trades WHERE account_id = ? AND mode = ? AND symbol = ?`,
		accountID, string(mode), symbol); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM portfolio_snapshots WHERE account_id = ? AND mode = ? AND symbol = ?`,
		accountID, string(mode), symbol); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", raw, err)
	}
	return d, nil
}
