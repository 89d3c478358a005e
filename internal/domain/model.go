package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects how the bot is fed prices: a historical candle replay or
// live ticks from the exchange.
type Mode string

const (
	ModeBacktest Mode = "BACKTEST"
	ModeLive     Mode = "LIVE"
)

func (m Mode) Valid() bool {
	return m == ModeBacktest || m == ModeLive
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Candle is one OHLCV bar from the exchange.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Position is the paper holding for one account+symbol. Quantity zero
// means flat; AvgEntryPrice is kept at zero in that case.
type Position struct {
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// Trade is one simulated fill, append-only.
type Trade struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"-"`
	Mode        Mode            `json:"mode"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Snapshot is a point-in-time valuation of cash plus position, written
// once per decision cycle. The snapshot series is the equity curve.
type Snapshot struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"-"`
	Mode          Mode            `json:"mode"`
	Symbol        string          `json:"symbol"`
	TakenAt       time.Time       `json:"taken_at"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// Signal is the strategy output for one decision cycle.
type Signal struct {
	Fast    decimal.Decimal
	Slow    decimal.Decimal
	RSI     decimal.Decimal
	CrossUp bool
	CrossDn bool
}

// Status describes the current bot session.
type Status struct {
	Running  bool   `json:"running"`
	Mode     Mode   `json:"mode"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}
