package analysts

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/indicators"
	"github.com/BlackBearCC/crypto-agent/internal/llm"
)

// Technical analyzes kline data through SMA-20/50, RSI-14 and MACD and
// asks the model for a short-term read.
type Technical struct {
	client llm.Client
	period string
}

// NewTechnical binds the role to a provider. period is the kline period
// label quoted in the user message ("15m" etc.).
func NewTechnical(client llm.Client, period string) *Technical {
	if period == "" {
		period = "15m"
	}
	return &Technical{client: client, period: period}
}

// Analyze runs the technical role against ac. Data validation happens
// before any LLM call: no candles or fewer than 50 rows short-circuits
// into an error string.
func (a *Technical) Analyze(ctx context.Context, ac *Context) string {
	if a.client == nil {
		return "❌ 技术分析师: LLM客户端未初始化"
	}
	if !ac.HasKlineData() {
		return fmt.Sprintf("❌ 无法获取%s的K线数据", ac.TargetSymbol)
	}
	if len(ac.Klines) < 50 {
		return fmt.Sprintf("❌ 数据不足，仅有%d条数据（需要至少50条）", len(ac.Klines))
	}

	userMessage := a.formatUserMessage(ac)
	reply, err := a.client.Call(ctx, technicalPrompt, userMessage, NameTechnical)
	if err != nil {
		return fmt.Sprintf("❌ 技术分析失败: %v", err)
	}
	return reply
}

// formatUserMessage computes the indicator columns and renders the last 10
// complete rows (rows where every indicator is defined; SMA-50 is the
// binding constraint) as one line each.
func (a *Technical) formatUserMessage(ac *Context) string {
	closes := make([]float64, len(ac.Klines))
	for i, candle := range ac.Klines {
		closes[i] = candle.Close
	}

	sma20 := indicators.CalculateSMA(closes, 20)
	sma50 := indicators.CalculateSMA(closes, 50)
	rsi := indicators.CalculateRSI(closes, 14)
	macd := indicators.CalculateMACD(closes, 12, 26, 9)

	// First row where all columns are defined. SMA-50 needs the longest
	// warm-up, so everything from index 49 on is complete.
	firstComplete := 49
	start := len(ac.Klines) - 10
	if start < firstComplete {
		start = firstComplete
	}

	parts := []string{
		fmt.Sprintf("请分析%s的%sK线数据：\n", ac.TargetSymbol, a.period),
		"最近10个周期的技术指标数据：",
		"时间戳(time)、开盘价(open)、最高价(high)、最低价(low)、收盘价(close)、成交量(volume)",
		"20期简单移动平均线(sma_20)、50期简单移动平均线(sma_50)",
		"相对强弱指数RSI(rsi)、MACD线(macd)、MACD信号线(macd_signal)\n",
	}

	for i := start; i < len(ac.Klines); i++ {
		candle := ac.Klines[i]
		line := fmt.Sprintf("时间:%s | 开盘:%.4f | 最高:%.4f | 最低:%.4f | 收盘:%.4f | 成交量:%.0f | SMA20:%s | SMA50:%s | RSI:%s | MACD:%s | 信号线:%s",
			candle.Timestamp.Format("2006-01-02 15:04"),
			candle.Open, candle.High, candle.Low, candle.Close, candle.Volume,
			fmtIndicator(sma20[i]),
			fmtIndicator(sma50[i]),
			fmtIndicator(rsi[i]),
			fmtIndicator(macd.MACD[i]),
			fmtIndicator(macd.Signal[i]))
		parts = append(parts, line)
	}

	parts = append(parts, "\n请保持简洁专业，重点关注15分钟级别的短期走势。")
	return strings.Join(parts, "\n")
}

func fmtIndicator(v float64) string {
	if math.IsNaN(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", v)
}
