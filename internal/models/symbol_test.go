package models

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"btc":      "BTCUSDT",
		"BTC":      "BTCUSDT",
		" eth ":    "ETHUSDT",
		"BTCUSDT":  "BTCUSDT",
		"solusdt":  "SOLUSDT",
		"DOGEUSDT": "DOGEUSDT",
	}

	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	inputs := []string{"btc", "ETH", "BTCUSDT", "pepe", " sol "}
	for _, in := range inputs {
		once := NormalizeSymbol(in)
		twice := NormalizeSymbol(once)
		if once != twice {
			t.Errorf("normalization not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
