package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_paper_bot/internal/domain"
)

// Strategy parameters. The bot trades a fast/slow SMA crossover gated
// by RSI; every division or multiplication that feeds the ledger is
// rounded to 8 fractional digits, half away from zero, so a backtest
// and a live run over the same prices produce bit-identical numbers.
const (
	FastPeriod = 12
	SlowPeriod = 26
	RSIPeriod  = 14

	moneyScale = 8
)

var (
	FeeRate = decimal.RequireFromString("0.001") // 0.1% per fill

	rsiBuyCeiling = decimal.NewFromInt(70)
	rsiSellFloor  = decimal.NewFromInt(75)

	hundred = decimal.NewFromInt(100)
	fifty   = decimal.NewFromInt(50)
)

// SimpleMovingAverage returns the arithmetic mean of values, rounded to
// 8 fractional digits. Empty input yields zero.
func SimpleMovingAverage(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(values))), moneyScale)
}

// RelativeStrengthIndex computes RSI over the last period deltas of
// closes. With fewer than period+1 closes it returns the neutral 50;
// callers gate on window size so this is only a guard.
func RelativeStrengthIndex(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) < period+1 {
		return fifty
	}

	gains := decimal.Zero
	losses := decimal.Zero
	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i].Sub(closes[i-1])
		if diff.Sign() > 0 {
			gains = gains.Add(diff)
		} else {
			losses = losses.Add(diff.Abs())
		}
	}

	p := decimal.NewFromInt(int64(period))
	avgGain := gains.DivRound(p, moneyScale)
	avgLoss := losses.DivRound(p, moneyScale)

	if avgLoss.IsZero() {
		return hundred
	}

	rs := avgGain.DivRound(avgLoss, moneyScale)
	return hundred.Sub(hundred.DivRound(decimal.NewFromInt(1).Add(rs), moneyScale))
}

// ComputeSignal derives the crossover signal from the close window
// (newest last) and the previous cycle's moving averages. prevFast and
// prevSlow are nil on the first evaluated cycle of a session, which
// makes both crossover flags false. Pure: no state, no mutation.
func ComputeSignal(closes []decimal.Decimal, prevFast, prevSlow *decimal.Decimal) domain.Signal {
	fast := SimpleMovingAverage(closes[len(closes)-FastPeriod:])
	slow := SimpleMovingAverage(closes[len(closes)-SlowPeriod:])
	rsi := RelativeStrengthIndex(closes, RSIPeriod)

	crossUp := prevFast != nil && prevSlow != nil &&
		prevFast.Cmp(*prevSlow) <= 0 && fast.Cmp(slow) > 0

	crossDn := prevFast != nil && prevSlow != nil &&
		prevFast.Cmp(*prevSlow) >= 0 && fast.Cmp(slow) < 0

	return domain.Signal{Fast: fast, Slow: slow, RSI: rsi, CrossUp: crossUp, CrossDn: crossDn}
}
