package strategy

// SMA computes the simple moving average of the last period closes.
func SMA(prices []PricePoint, period int) float64 {
	if len(prices) < period || period <= 0 {
		return 0
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p.Close
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average over the full series,
// seeded with the first period's simple average.
func EMA(prices []PricePoint, period int) float64 {
	if len(prices) < period || period <= 0 {
		return 0
	}
	k := 2.0 / float64(period+1)
	ema := SMA(prices[:period], period)
	for _, p := range prices[period:] {
		ema = p.Close*k + ema*(1-k)
	}
	return ema
}

// RSI computes the relative strength index over period, using Wilder's
// smoothing on average gain/loss.
func RSI(prices []PricePoint, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := prices[i].Close - prices[i-1].Close
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i].Close - prices[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult holds the MACD line, signal line, and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the standard 12/26/9 moving-average-convergence-
// divergence indicator, approximating the signal line with a short SMA
// of the trailing MACD values (the same simplification the teacher's
// indicator package used rather than maintaining a full EMA-of-EMA
// series).
func MACD(prices []PricePoint) MACDResult {
	if len(prices) < 26 {
		return MACDResult{}
	}
	fast := EMA(prices, 12)
	slow := EMA(prices, 26)
	macd := fast - slow

	signalWindow := 9
	if len(prices) < 26+signalWindow {
		return MACDResult{MACD: macd}
	}

	var macdSeries []float64
	for i := 26; i <= len(prices); i++ {
		f := EMA(prices[:i], 12)
		s := EMA(prices[:i], 26)
		macdSeries = append(macdSeries, f-s)
	}
	var sum float64
	tail := macdSeries[len(macdSeries)-signalWindow:]
	for _, v := range tail {
		sum += v
	}
	signal := sum / float64(signalWindow)

	return MACDResult{MACD: macd, Signal: signal, Histogram: macd - signal}
}
