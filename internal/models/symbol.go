package models

import "strings"

// NormalizeSymbol converts user input into the canonical <BASE>USDT form:
// trim, uppercase, and append the USDT suffix when missing. The operation
// is idempotent, so already-canonical symbols pass through unchanged.
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.HasSuffix(symbol, "USDT") {
		symbol += "USDT"
	}
	return symbol
}

// BaseSymbol strips the USDT quote suffix for display: BTCUSDT -> BTC.
func BaseSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT")
}
