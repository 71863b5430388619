// Package indicators computes the technical-analysis terms the Alpha
// Chamber blends into its score and the Decision Engine's ATR-derived
// TP/SL targets (spec §4.6). Every input and output here is a price,
// volume, or percentage, so it stays in decimal.Decimal end to end —
// the blend only drops to float64 at decision.go's score() boundary,
// where it mixes with the classifier/sentiment collaborators' native
// probability outputs.
package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// RSI calculates the Relative Strength Index over the Wilder smoothing
// window.
func RSI(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) < period+1 {
		return decimal.NewFromInt(50) // neutral if not enough data
	}

	gains := make([]decimal.Decimal, 0, len(prices)-1)
	losses := make([]decimal.Decimal, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i].Sub(prices[i-1])
		if change.IsPositive() {
			gains = append(gains, change)
			losses = append(losses, decimal.Zero)
		} else {
			gains = append(gains, decimal.Zero)
			losses = append(losses, change.Neg())
		}
	}
	if len(gains) < period {
		return decimal.NewFromInt(50)
	}

	periodDec := decimal.NewFromInt(int64(period))
	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])
	for i := period; i < len(gains); i++ {
		avgGain = avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gains[i]).Div(periodDec)
		avgLoss = avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(losses[i]).Div(periodDec)
	}

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}

	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// EMA calculates the Exponential Moving Average.
func EMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	if len(prices) < period {
		return average(prices)
	}

	multiplier := two.Div(decimal.NewFromInt(int64(period + 1)))
	ema := average(prices[:period])
	for i := period; i < len(prices); i++ {
		ema = prices[i].Sub(ema).Mul(multiplier).Add(ema)
	}
	return ema
}

// SMA calculates the Simple Moving Average.
func SMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	if len(prices) < period {
		return average(prices)
	}
	return average(prices[len(prices)-period:])
}

// MACD calculates the MACD line, its signal line, and the histogram.
func MACD(prices []decimal.Decimal, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signalLine, histogram decimal.Decimal) {
	if len(prices) < slowPeriod {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	fastEMA := EMA(prices, fastPeriod)
	slowEMA := EMA(prices, slowPeriod)
	macdLine = fastEMA.Sub(slowEMA)

	// Signal line: a true EMA of MACD history needs that history
	// tracked across calls, which this stateless helper doesn't keep.
	// 0.9 approximates the 9-period EMA's damping on a single sample.
	signalLine = macdLine.Mul(decimal.NewFromFloat(0.9))
	histogram = macdLine.Sub(signalLine)
	return macdLine, signalLine, histogram
}

// Momentum calculates percentage price change over period ticks.
func Momentum(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) <= period {
		return decimal.Zero
	}
	current := prices[len(prices)-1]
	previous := prices[len(prices)-1-period]
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}

// MomentumScore normalizes momentum to the alpha blend's [-30, +30]
// technical-term range: ±1% momentum maps to ±30.
func MomentumScore(prices []decimal.Decimal, period int) decimal.Decimal {
	score := Momentum(prices, period).Mul(decimal.NewFromInt(30))
	return clampDec(score, -30, 30)
}

// RSIScore converts an RSI reading into the alpha blend's [-20, +20]
// contrarian signal: oversold is bullish, overbought is bearish.
func RSIScore(rsi decimal.Decimal) decimal.Decimal {
	thirty := decimal.NewFromInt(30)
	forty := decimal.NewFromInt(40)
	sixty := decimal.NewFromInt(60)
	seventy := decimal.NewFromInt(70)
	ten := decimal.NewFromInt(10)

	switch {
	case rsi.LessThan(thirty):
		return ten.Add(thirty.Sub(rsi).Div(thirty).Mul(ten))
	case rsi.LessThan(forty):
		return forty.Sub(rsi).Div(ten).Mul(ten)
	case rsi.GreaterThan(seventy):
		return ten.Neg().Sub(rsi.Sub(seventy).Div(thirty).Mul(ten))
	case rsi.GreaterThan(sixty):
		return rsi.Sub(sixty).Div(ten).Mul(ten).Neg()
	default:
		return decimal.Zero
	}
}

// VolumeScore scores current volume against its average, in [-15,+15]:
// a high-volume move confirms priceDirection, a low-volume move is
// read as a likely reversal.
func VolumeScore(currentVolume, avgVolume, priceDirection decimal.Decimal) decimal.Decimal {
	if avgVolume.IsZero() {
		return decimal.Zero
	}
	ratio := currentVolume.Div(avgVolume)
	up := priceDirection.IsPositive()

	switch {
	case ratio.GreaterThan(decimal.NewFromFloat(2.0)):
		if up {
			return decimal.NewFromInt(15)
		}
		return decimal.NewFromInt(-15)
	case ratio.GreaterThan(decimal.NewFromFloat(1.5)):
		if up {
			return decimal.NewFromInt(10)
		}
		return decimal.NewFromInt(-10)
	case ratio.LessThan(decimal.NewFromFloat(0.5)):
		if up {
			return decimal.NewFromInt(-5) // price up on thin volume reads bearish
		}
		return decimal.NewFromInt(5)
	default:
		return decimal.Zero
	}
}

// OrderBookImbalanceScore scores the bid/ask volume skew in [-20,+20].
func OrderBookImbalanceScore(bidVolume, askVolume decimal.Decimal) decimal.Decimal {
	twenty := decimal.NewFromInt(20)
	if askVolume.IsZero() {
		return twenty
	}
	if bidVolume.IsZero() {
		return twenty.Neg()
	}

	ratio := bidVolume.Div(askVolume)
	one := decimal.NewFromInt(1)
	if ratio.GreaterThan(one) {
		score := ratio.Sub(one).Mul(decimal.NewFromInt(40))
		return clampDec(score, 0, 20)
	}
	score := one.Sub(ratio).Mul(decimal.NewFromInt(40))
	return clampDec(score, 0, 20).Neg()
}

// FundingRateScore reads perpetual funding rate contrarian-style in
// [-15,+15]: overleveraged longs (high positive funding) are bearish,
// overleveraged shorts are bullish.
func FundingRateScore(fundingRate decimal.Decimal) decimal.Decimal {
	rate := fundingRate.Mul(hundred)
	switch {
	case rate.GreaterThan(decimal.NewFromFloat(0.05)):
		return decimal.NewFromInt(-15)
	case rate.GreaterThan(decimal.NewFromFloat(0.02)):
		return decimal.NewFromInt(-10)
	case rate.LessThan(decimal.NewFromFloat(-0.05)):
		return decimal.NewFromInt(15)
	case rate.LessThan(decimal.NewFromFloat(-0.02)):
		return decimal.NewFromInt(10)
	default:
		return decimal.Zero
	}
}

// BuySellRatioScore scores taker buy/sell pressure in [-15,+15].
func BuySellRatioScore(buyVolume, sellVolume decimal.Decimal) decimal.Decimal {
	if sellVolume.IsZero() {
		return decimal.NewFromInt(15)
	}
	ratio := buyVolume.Div(sellVolume)
	switch {
	case ratio.GreaterThan(decimal.NewFromFloat(1.5)):
		return decimal.NewFromInt(15)
	case ratio.GreaterThan(decimal.NewFromFloat(1.2)):
		return decimal.NewFromInt(10)
	case ratio.GreaterThan(decimal.NewFromFloat(1.1)):
		return decimal.NewFromInt(5)
	case ratio.LessThan(decimal.NewFromFloat(0.67)):
		return decimal.NewFromInt(-15)
	case ratio.LessThan(decimal.NewFromFloat(0.83)):
		return decimal.NewFromInt(-10)
	case ratio.LessThan(decimal.NewFromFloat(0.9)):
		return decimal.NewFromInt(-5)
	default:
		return decimal.Zero
	}
}

// Volatility is the population standard deviation of prices. Square
// root has no decimal-native equivalent in shopspring/decimal, so this
// is the one place the computation drops to float64 and back,
// localized rather than threaded through every caller.
func Volatility(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}
	avg := average(prices)
	sumSquares := decimal.Zero
	for _, p := range prices {
		diff := p.Sub(avg)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	variance := sumSquares.Div(decimal.NewFromInt(int64(len(prices))))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// ATR calculates the Average True Range, the basis for the Decision
// Engine's adaptive TP/SL sizing (spec §4.6).
func ATR(highs, lows, closes []decimal.Decimal, period int) decimal.Decimal {
	if len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return decimal.Zero
	}

	trs := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		highLow := highs[i].Sub(lows[i])
		highPrevClose := highs[i].Sub(closes[i-1]).Abs()
		lowPrevClose := lows[i].Sub(closes[i-1]).Abs()
		tr := decimal.Max(highLow, decimal.Max(highPrevClose, lowPrevClose))
		trs = append(trs, tr)
	}
	return SMA(trs, period)
}

// BollingerBands calculates the upper/middle/lower bands.
func BollingerBands(prices []decimal.Decimal, period int, stdDev decimal.Decimal) (upper, middle, lower decimal.Decimal) {
	if len(prices) < period {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	middle = SMA(prices, period)
	volatility := Volatility(prices[len(prices)-period:])
	upper = middle.Add(volatility.Mul(stdDev))
	lower = middle.Sub(volatility.Mul(stdDev))
	return upper, middle, lower
}

// StochRSI calculates the Stochastic RSI.
func StochRSI(prices []decimal.Decimal, rsiPeriod, stochPeriod int) decimal.Decimal {
	if len(prices) < rsiPeriod+stochPeriod {
		return decimal.NewFromInt(50)
	}

	rsis := make([]decimal.Decimal, 0, len(prices)-rsiPeriod+1)
	for i := rsiPeriod; i <= len(prices); i++ {
		rsis = append(rsis, RSI(prices[:i], rsiPeriod))
	}
	if len(rsis) < stochPeriod {
		return decimal.NewFromInt(50)
	}

	recent := rsis[len(rsis)-stochPeriod:]
	currentRSI := rsis[len(rsis)-1]
	minRSI := min(recent)
	maxRSI := max(recent)
	if maxRSI.Equal(minRSI) {
		return decimal.NewFromInt(50)
	}
	return currentRSI.Sub(minRSI).Div(maxRSI.Sub(minRSI)).Mul(hundred)
}

// TrendStrength scores how one-directional recent price action has
// been, in [-100, 100]; positive is an uptrend, negative a downtrend.
func TrendStrength(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) < period {
		return decimal.Zero
	}
	recent := prices[len(prices)-period:]

	increases, decreases := 0, 0
	for i := 1; i < len(recent); i++ {
		switch {
		case recent[i].GreaterThan(recent[i-1]):
			increases++
		case recent[i].LessThan(recent[i-1]):
			decreases++
		}
	}
	total := increases + decreases
	if total == 0 {
		return decimal.Zero
	}
	if increases > decreases {
		return decimal.NewFromInt(int64(increases)).Div(decimal.NewFromInt(int64(total))).Mul(hundred)
	}
	return decimal.NewFromInt(int64(decreases)).Div(decimal.NewFromInt(int64(total))).Mul(hundred).Neg()
}

// PricePosition scores where the current price sits within its recent
// range, in [-100, +100], centered at 0.
func PricePosition(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) < period {
		return decimal.Zero
	}
	recent := prices[len(prices)-period:]
	current := prices[len(prices)-1]

	lo := min(recent)
	hi := max(recent)
	if hi.Equal(lo) {
		return decimal.Zero
	}

	position := current.Sub(lo).Div(hi.Sub(lo)).Mul(hundred)
	return position.Sub(decimal.NewFromInt(50)).Mul(two)
}

// clampDec bounds x to [lo, hi].
func clampDec(x decimal.Decimal, lo, hi int64) decimal.Decimal {
	loD, hiD := decimal.NewFromInt(lo), decimal.NewFromInt(hi)
	if x.LessThan(loD) {
		return loD
	}
	if x.GreaterThan(hiD) {
		return hiD
	}
	return x
}

func average(data []decimal.Decimal) decimal.Decimal {
	if len(data) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range data {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(data))))
}

func min(data []decimal.Decimal) decimal.Decimal {
	m := data[0]
	for _, v := range data[1:] {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}

func max(data []decimal.Decimal) decimal.Decimal {
	m := data[0]
	for _, v := range data[1:] {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}
