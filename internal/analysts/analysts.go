// Package analysts implements the six LLM personas the service runs:
// technical, market, fundamental, macro, chief and trader. Every role is a
// fixed system prompt, a provider binding chosen by role name, and a
// formatter that turns an AnalysisContext into a user message. Role calls
// never fail at the Go level; any problem (missing data, LLM error,
// missing client) becomes a "❌ ..." string so downstream consumers can
// paste it straight into the next prompt or the chat reply.
package analysts

import (
	"math"
	"strconv"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/market"
	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// Display names. These are the agent labels that end up in logs and in
// persisted analysis records.
const (
	NameTechnical   = "技术分析师"
	NameMarket      = "市场分析师"
	NameFundamental = "基本面分析师"
	NameMacro       = "宏观分析师"
	NameChief       = "首席分析师"
	NameTrader      = "永续交易员"
)

// Role keys used in the llm.analysts provider map of the config file.
const (
	RoleTechnical   = "technical_analyst"
	RoleMarket      = "market_analyst"
	RoleFundamental = "fundamental_analyst"
	RoleMacro       = "macro_analyst"
	RoleChief       = "chief_analyst"
	RoleTrader      = "trader_analyst"
)

// Context carries everything one pipeline run knows about a symbol: the
// raw market inputs and the analyst outputs produced so far. Each pipeline
// task owns its Context exclusively; the struct has no locking.
type Context struct {
	TargetSymbol string

	Klines       []models.Candle
	GlobalMarket *market.GlobalMarketData
	FearGreed    *market.FearGreedIndex
	Trending     []market.TrendingCoin
	MajorCoins   []market.CoinPerformance

	TechnicalAnalysis   string
	SentimentAnalysis   string
	FundamentalAnalysis string
	MacroAnalysis       string
}

// HasKlineData reports whether the context carries any candles.
func (c *Context) HasKlineData() bool { return len(c.Klines) > 0 }

// SymbolAnalysis groups the per-symbol analyst outputs of one pipeline run.
type SymbolAnalysis struct {
	Technical   string `json:"technical"`
	Fundamental string `json:"fundamental"`
	Chief       string `json:"chief"`
}

// ResearchResults is the aggregate a pipeline run hands to the trader.
type ResearchResults struct {
	ResearchSummary   string                    `json:"research_summary"`
	SymbolAnalyses    map[string]SymbolAnalysis `json:"symbol_analyses"`
	SentimentAnalysis string                    `json:"sentiment_analysis"`
	MacroAnalysis     string                    `json:"macro_analysis"`
}

// baseName strips the USDT quote suffix for display ("BTCUSDT" -> "BTC").
func baseName(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT")
}

// comma renders v rounded to an integer with thousands separators, the way
// the market data blocks quote dollar amounts.
func comma(v float64) string {
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(math.Round(v)), 'f', 0, 64)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

// asFloat pulls a numeric field out of a loosely typed API result map.
func asFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func asInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func errString(m map[string]interface{}) string {
	if m == nil {
		return "未知错误"
	}
	if e, ok := m["error"].(string); ok {
		return e
	}
	return "未知错误"
}

func isSuccess(m map[string]interface{}) bool {
	if m == nil {
		return false
	}
	if _, hasErr := m["error"]; hasErr {
		return false
	}
	ok, _ := m["success"].(bool)
	return ok
}
