package usecase_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_paper_bot/internal/usecase"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decs(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestSimpleMovingAverage(t *testing.T) {
	if got := usecase.SimpleMovingAverage(nil); !got.IsZero() {
		t.Errorf("empty input: expected 0, got %s", got)
	}

	// 1..12 averages to 6.5
	got := usecase.SimpleMovingAverage(decs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12))
	if !got.Equal(dec("6.5")) {
		t.Errorf("expected 6.5, got %s", got)
	}

	// Non-terminating division rounds to 8 digits, half-up
	got = usecase.SimpleMovingAverage(decs(10, 20, 40))
	if !got.Equal(dec("23.33333333")) {
		t.Errorf("expected 23.33333333, got %s", got)
	}
}

func TestRelativeStrengthIndex(t *testing.T) {
	// Fewer than period+1 closes: neutral 50
	got := usecase.RelativeStrengthIndex(decs(100, 101, 102), usecase.RSIPeriod)
	if !got.Equal(dec("50")) {
		t.Errorf("short window: expected 50, got %s", got)
	}

	// All gains: avg loss is zero, RSI pegs at 100
	rising := make([]decimal.Decimal, 0, 15)
	for i := int64(0); i < 15; i++ {
		rising = append(rising, decimal.NewFromInt(100+i))
	}
	got = usecase.RelativeStrengthIndex(rising, usecase.RSIPeriod)
	if !got.Equal(dec("100")) {
		t.Errorf("all gains: expected 100, got %s", got)
	}

	// All losses: RSI bottoms at 0
	falling := make([]decimal.Decimal, 0, 15)
	for i := int64(0); i < 15; i++ {
		falling = append(falling, decimal.NewFromInt(100-i))
	}
	got = usecase.RelativeStrengthIndex(falling, usecase.RSIPeriod)
	if !got.Equal(dec("0")) {
		t.Errorf("all losses: expected 0, got %s", got)
	}

	// Seven +2 deltas and seven -1 deltas: avg gain 1, avg loss 0.5,
	// rs 2, rsi = 100 - 100/3 = 66.66666667
	mixed := decs(100, 102, 101, 103, 102, 104, 103, 105, 104, 106, 105, 107, 106, 108, 107)
	got = usecase.RelativeStrengthIndex(mixed, usecase.RSIPeriod)
	if !got.Equal(dec("66.66666667")) {
		t.Errorf("mixed deltas: expected 66.66666667, got %s", got)
	}
}

func TestComputeSignal_RisingWindow(t *testing.T) {
	// 28 closes rising by 1 from 100: fast SMA covers 116..127,
	// slow covers 102..127, every delta is a gain.
	closes := make([]decimal.Decimal, 0, 28)
	for i := int64(0); i < 28; i++ {
		closes = append(closes, decimal.NewFromInt(100+i))
	}

	sig := usecase.ComputeSignal(closes, nil, nil)
	if !sig.Fast.Equal(dec("121.5")) {
		t.Errorf("expected fast 121.5, got %s", sig.Fast)
	}
	if !sig.Slow.Equal(dec("114.5")) {
		t.Errorf("expected slow 114.5, got %s", sig.Slow)
	}
	if !sig.RSI.Equal(dec("100")) {
		t.Errorf("expected rsi 100, got %s", sig.RSI)
	}
	// No previous averages: crossover flags must stay false even though
	// fast is above slow.
	if sig.CrossUp || sig.CrossDn {
		t.Errorf("expected no crossover on first signal, got up=%v dn=%v", sig.CrossUp, sig.CrossDn)
	}
}

func TestComputeSignal_Crossovers(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 28)
	for i := int64(0); i < 28; i++ {
		closes = append(closes, decimal.NewFromInt(100+i))
	}
	// fast=121.5, slow=114.5 for this window

	prevBelow := dec("110")
	prevAbove := dec("120")

	sig := usecase.ComputeSignal(closes, &prevBelow, &prevAbove)
	if !sig.CrossUp {
		t.Error("expected cross up when prev fast <= prev slow and fast > slow")
	}
	if sig.CrossDn {
		t.Error("unexpected cross down")
	}

	// prev fast == prev slow still counts as crossing from at-or-below
	equal := dec("115")
	sig = usecase.ComputeSignal(closes, &equal, &equal)
	if !sig.CrossUp {
		t.Error("expected cross up from equal previous averages")
	}

	// fast already above slow on the previous cycle: no crossover
	sig = usecase.ComputeSignal(closes, &prevAbove, &prevBelow)
	if sig.CrossUp || sig.CrossDn {
		t.Errorf("expected no crossover, got up=%v dn=%v", sig.CrossUp, sig.CrossDn)
	}

	// Falling window for the cross-down direction
	falling := make([]decimal.Decimal, 0, 28)
	for i := int64(0); i < 28; i++ {
		falling = append(falling, decimal.NewFromInt(200-i))
	}
	sig = usecase.ComputeSignal(falling, &prevAbove, &prevBelow)
	if !sig.CrossDn {
		t.Error("expected cross down when prev fast >= prev slow and fast < slow")
	}
	if sig.CrossUp {
		t.Error("unexpected cross up")
	}
}
