package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
)

// Chief synthesizes the four upstream reports into one recommendation. It
// only ever sees analyst text, never raw market data.
type Chief struct {
	client llm.Client
}

func NewChief(client llm.Client) *Chief {
	return &Chief{client: client}
}

func (a *Chief) Analyze(ctx context.Context, ac *Context) string {
	if a.client == nil {
		return "❌ 首席分析师: LLM客户端未初始化"
	}

	userMessage := formatChiefMessage(ac.TargetSymbol,
		ac.TechnicalAnalysis, ac.SentimentAnalysis, ac.FundamentalAnalysis, ac.MacroAnalysis)

	reply, err := a.client.Call(ctx, chiefPrompt, userMessage, NameChief)
	if err != nil {
		return fmt.Sprintf("❌ 首席分析师综合分析失败: %v", err)
	}
	return reply
}

func formatChiefMessage(symbol, technical, sentiment, fundamental, macro string) string {
	parts := []string{
		fmt.Sprintf("请整合以下四个专业代理的分析报告，提供针对%s的全面投资建议：\n", symbol),
		"=== 技术分析师报告 ===",
		orFallback(technical, "暂无技术分析"),
		"\n=== 市场分析师报告 ===",
		orFallback(sentiment, "暂无市场分析"),
		"\n=== 基本面分析师报告 ===",
		orFallback(fundamental, "暂无基本面分析"),
		"\n=== 宏观分析师报告 ===",
		orFallback(macro, "暂无宏观分析"),
		fmt.Sprintf("\n请基于技术面、市场情绪、基本面和宏观面的综合分析，提供针对%s的全面投资建议。", symbol),
		"注意平衡各方观点，给出客观专业的结论，重点关注各维度分析的一致性和分歧点。",
		fmt.Sprintf("请提供具体、可操作的%s投资建议，避免空泛的表述。", symbol),
	}
	return strings.Join(parts, "\n")
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
