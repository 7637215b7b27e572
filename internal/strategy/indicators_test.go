package strategy

import (
	"testing"
	"time"
)

func closes(vals ...float64) []PricePoint {
	out := make([]PricePoint, len(vals))
	for i, v := range vals {
		out[i] = PricePoint{Timestamp: time.Now(), Close: v}
	}
	return out
}

func TestSMAKnownValues(t *testing.T) {
	prices := closes(1, 2, 3, 4, 5)
	if got := SMA(prices, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(prices, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
}

func TestSMAInsufficientDataReturnsZero(t *testing.T) {
	prices := closes(1, 2)
	if got := SMA(prices, 5); got != 0 {
		t.Errorf("SMA with insufficient data should be 0, got %v", got)
	}
}

func TestEMASeededBySMA(t *testing.T) {
	prices := closes(1, 1, 1)
	if got := EMA(prices, 3); got != 1 {
		t.Errorf("a flat series' EMA should equal its SMA seed, got %v", got)
	}
}

func TestEMAInsufficientDataReturnsZero(t *testing.T) {
	if got := EMA(closes(1, 2), 5); got != 0 {
		t.Errorf("EMA with insufficient data should be 0, got %v", got)
	}
}

func TestRSIAllGainsIs100(t *testing.T) {
	prices := closes(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15)
	if got := RSI(prices, 14); got != 100 {
		t.Errorf("an all-gains series should have RSI 100, got %v", got)
	}
}

func TestRSIInsufficientDataReturnsNeutral(t *testing.T) {
	prices := closes(1, 2)
	if got := RSI(prices, 14); got != 50 {
		t.Errorf("RSI with insufficient data should default to neutral 50, got %v", got)
	}
}

func TestRSIAllLossesIsZero(t *testing.T) {
	vals := make([]float64, 15)
	for i := range vals {
		vals[i] = float64(15 - i)
	}
	prices := closes(vals...)
	if got := RSI(prices, 14); got != 0 {
		t.Errorf("an all-losses series should have RSI 0, got %v", got)
	}
}

func TestMACDInsufficientDataReturnsZeroValue(t *testing.T) {
	prices := closes(1, 2, 3)
	result := MACD(prices)
	if result.MACD != 0 || result.Signal != 0 {
		t.Errorf("MACD with fewer than 26 points should be the zero value, got %+v", result)
	}
}

func TestMACDComputesHistogramAsDifference(t *testing.T) {
	vals := make([]float64, 40)
	for i := range vals {
		vals[i] = 100 + float64(i)*0.5
	}
	prices := closes(vals...)
	result := MACD(prices)

	if result.Histogram != result.MACD-result.Signal {
		t.Errorf("histogram should equal MACD - Signal, got histogram=%v macd=%v signal=%v", result.Histogram, result.MACD, result.Signal)
	}
}
