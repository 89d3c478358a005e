package tests

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

type MockMarket struct {
	Price   decimal.Decimal
	Series  []domain.Candle
	Ticks   int
	LastSym string
}

func (m *MockMarket) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.Ticks++
	m.LastSym = symbol
	return m.Price, nil
}

func (m *MockMarket) Candles(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]domain.Candle, error) {
	m.LastSym = symbol
	return m.Series, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ScenarioPrices builds the reference scenario: 26 closes falling by 1
// from start, a choppy +2/-1 recovery of 20 closes, then 14 closes
// rising by 2. The crossover buy lands in the recovery and the RSI
// sell trigger fires during the rise.
func ScenarioPrices(start int64) []decimal.Decimal {
	var prices []decimal.Decimal
	p := decimal.NewFromInt(start)

	for i := 0; i < 26; i++ {
		prices = append(prices, p)
		p = p.Sub(d("1"))
	}
	for k := 0; k < 20; k++ {
		if k%2 == 0 {
			p = p.Add(d("2"))
		} else {
			p = p.Sub(d("1"))
		}
		prices = append(prices, p)
	}
	for i := 0; i < 14; i++ {
		p = p.Add(d("2"))
		prices = append(prices, p)
	}
	return prices
}

func ScenarioCandles(start int64) []domain.Candle {
	prices := ScenarioPrices(start)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := make([]domain.Candle, len(prices))
	for i, p := range prices {
		candles[i] = domain.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     p,
			High:     p,
			Low:      p,
			Close:    p,
			Volume:   decimal.NewFromInt(1),
		}
	}
	return candles
}
