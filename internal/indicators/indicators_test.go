package indicators

import (
	"math"
	"testing"
)

// linear series 1, 2, ..., n: strictly rising, easy to reason about.
func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestCalculateSMA(t *testing.T) {
	values := rising(100)
	sma := CalculateSMA(values, 20)

	// Window not filled yet.
	if !math.IsNaN(sma[18]) {
		t.Errorf("Expected NaN at index 18, got %f", sma[18])
	}
	// First complete window: mean(1..20) = 10.5.
	if math.Abs(sma[19]-10.5) > 1e-9 {
		t.Errorf("Expected SMA 10.5 at index 19, got %f", sma[19])
	}
	// Last window: mean(81..100) = 90.5.
	if math.Abs(sma[99]-90.5) > 1e-9 {
		t.Errorf("Expected SMA 90.5 at index 99, got %f", sma[99])
	}
}

func TestCalculateRSI(t *testing.T) {
	// Strictly rising: no losses anywhere, RSI pegs at 100.
	rsi := CalculateRSI(rising(50), 14)
	if !math.IsNaN(rsi[13]) {
		t.Errorf("Expected NaN before window fills, got %f", rsi[13])
	}
	if rsi[49] != 100 {
		t.Errorf("Expected RSI 100 for rising series, got %f", rsi[49])
	}

	// Flat series: neutral 50.
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 42
	}
	rsi = CalculateRSI(flat, 14)
	if rsi[29] != 50 {
		t.Errorf("Expected RSI 50 for flat series, got %f", rsi[29])
	}

	// Alternating +1/-1: gains equal losses, RSI near 50.
	alt := make([]float64, 40)
	for i := range alt {
		alt[i] = 100 + float64(i%2)
	}
	rsi = CalculateRSI(alt, 14)
	if math.Abs(rsi[39]-50) > 5 {
		t.Errorf("Expected RSI near 50 for alternating series, got %f", rsi[39])
	}
}

func TestCalculateMACD(t *testing.T) {
	values := rising(100)
	macd := CalculateMACD(values, 12, 26, 9)

	if len(macd.MACD) != 100 || len(macd.Signal) != 100 || len(macd.Histogram) != 100 {
		t.Fatal("MACD series length mismatch")
	}
	// In a sustained uptrend the fast EMA sits above the slow EMA.
	if macd.MACD[99] <= 0 {
		t.Errorf("Expected positive MACD in uptrend, got %f", macd.MACD[99])
	}
	if math.Abs(macd.Histogram[99]-(macd.MACD[99]-macd.Signal[99])) > 1e-9 {
		t.Error("Histogram must be MACD minus Signal")
	}
}

// The last rows of a >=50-point series must be fully defined for every
// indicator the technical analyst tabulates.
func TestIndicatorWindowCompleteness(t *testing.T) {
	values := rising(100)

	sma20 := CalculateSMA(values, 20)
	sma50 := CalculateSMA(values, 50)
	rsi := CalculateRSI(values, 14)
	macd := CalculateMACD(values, 12, 26, 9)

	for i := 90; i < 100; i++ {
		for name, series := range map[string][]float64{
			"SMA20": sma20, "SMA50": sma50, "RSI14": rsi,
			"MACD": macd.MACD, "Signal": macd.Signal,
		} {
			if math.IsNaN(series[i]) {
				t.Errorf("%s has NaN at index %d", name, i)
			}
		}
	}

	// With exactly 50 points the SMA-50 window fills only at the last row.
	short := rising(50)
	sma50 = CalculateSMA(short, 50)
	if math.IsNaN(sma50[49]) {
		t.Error("SMA50 should be defined at index 49 of a 50-point series")
	}
	if !math.IsNaN(sma50[48]) {
		t.Error("SMA50 should be NaN at index 48 of a 50-point series")
	}
}
