package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/market"
)

// Market reads the global market stats, fear/greed index, dominance,
// trending searches and major-coin snapshot into a sentiment assessment.
type Market struct {
	client llm.Client
}

func NewMarket(client llm.Client) *Market {
	return &Market{client: client}
}

// Analyze runs the market-sentiment role against ac. Missing data sources
// degrade into "❌ 暂无..." section bodies instead of aborting.
func (a *Market) Analyze(ctx context.Context, ac *Context) string {
	if a.client == nil {
		return "❌ 市场分析师: LLM客户端未初始化"
	}

	userMessage := a.formatUserMessage(ac)
	reply, err := a.client.Call(ctx, marketPrompt, userMessage, NameMarket)
	if err != nil {
		return fmt.Sprintf("❌ 市场情绪分析失败: %v", err)
	}
	return reply
}

func (a *Market) formatUserMessage(ac *Context) string {
	parts := []string{"请基于以下多维度数据分析当前加密货币市场情绪：\n"}

	parts = append(parts, "=== 全球市场数据 ===")
	parts = append(parts, formatGlobalData(ac.GlobalMarket))
	parts = append(parts, "")

	parts = append(parts, "=== 恐贪指数 ===")
	if ac.FearGreed != nil {
		parts = append(parts, fmt.Sprintf("当前指数: %d (%s)", ac.FearGreed.Value, ac.FearGreed.Classification))
		parts = append(parts, fmt.Sprintf("数据源: %s", ac.FearGreed.Source))
		parts = append(parts, fmt.Sprintf("更新时间: %s", ac.FearGreed.Timestamp.Format("2006-01-02 15:04:05")))
	} else {
		parts = append(parts, "❌ 恐贪指数数据暂时不可用")
	}
	parts = append(parts, "")

	parts = append(parts, "=== BTC/ETH主导率 ===")
	if ac.GlobalMarket != nil && len(ac.GlobalMarket.MarketCapPercentage) > 0 {
		btcDom := ac.GlobalMarket.MarketCapPercentage["btc"]
		ethDom := ac.GlobalMarket.MarketCapPercentage["eth"]
		parts = append(parts, fmt.Sprintf("BTC主导率: %.2f%%", btcDom))
		parts = append(parts, fmt.Sprintf("ETH主导率: %.2f%%", ethDom))
		if btcDom > 50 {
			parts = append(parts, "分析：BTC主导地位强势，市场相对保守")
		} else if btcDom < 40 {
			parts = append(parts, "分析：山寨币活跃，市场风险偏好上升")
		}
	} else {
		parts = append(parts, "❌ 主导率数据暂时不可用")
	}
	parts = append(parts, "")

	parts = append(parts, "=== 热门搜索趋势 ===")
	parts = append(parts, formatTrending(ac.Trending))
	parts = append(parts, "")

	parts = append(parts, "=== 主流币种表现 ===")
	parts = append(parts, formatMajorCoins(ac.MajorCoins))
	parts = append(parts, "")

	parts = append(parts, "请提供客观专业的市场情绪评估，重点关注多个指标之间的相互验证。")
	return strings.Join(parts, "\n")
}

func formatGlobalData(data *market.GlobalMarketData) string {
	if data == nil {
		return "❌ 暂无全球市场数据"
	}
	lines := []string{
		fmt.Sprintf("总市值: $%s", comma(data.TotalMarketCapUSD)),
		fmt.Sprintf("24H成交量: $%s", comma(data.TotalVolume24hUSD)),
		fmt.Sprintf("24H市值变化: %.2f%%", data.MarketCapChangePct24h),
		fmt.Sprintf("活跃加密货币: %d", data.ActiveCryptocurrencies),
	}
	return strings.Join(lines, "\n")
}

func formatTrending(coins []market.TrendingCoin) string {
	if len(coins) == 0 {
		return "❌ 暂无热门币种数据"
	}
	if len(coins) > 5 {
		coins = coins[:5]
	}
	lines := make([]string, 0, len(coins))
	for _, coin := range coins {
		rank := "?"
		if coin.MarketCapRank > 0 {
			rank = fmt.Sprintf("%d", coin.MarketCapRank)
		}
		lines = append(lines, fmt.Sprintf("%s (%s) [排名#%s]", coin.Name, coin.Symbol, rank))
	}
	return strings.Join(lines, "\n")
}

func formatMajorCoins(coins []market.CoinPerformance) string {
	if len(coins) == 0 {
		return "❌ 暂无主流币种数据"
	}
	lines := make([]string, 0, len(coins))
	for _, coin := range coins {
		lines = append(lines, fmt.Sprintf("%s (%s): $%.2f (%+.2f%%) 成交量:$%s",
			coin.Name, coin.Symbol, coin.CurrentPrice, coin.PriceChange24h, comma(coin.TotalVolume)))
	}
	return strings.Join(lines, "\n")
}
