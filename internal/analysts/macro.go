package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
)

// Macro reads the global environment. It takes no per-symbol inputs; the
// market data sections are shared context, not targets.
type Macro struct {
	client llm.Client
}

func NewMacro(client llm.Client) *Macro {
	return &Macro{client: client}
}

func (a *Macro) Analyze(ctx context.Context, ac *Context) string {
	if a.client == nil {
		return "❌ 宏观分析师: LLM客户端未初始化"
	}

	parts := []string{"请基于以下数据分析当前宏观环境对加密货币市场的影响：\n"}

	parts = append(parts, "=== 全球市场数据 ===")
	parts = append(parts, formatGlobalData(ac.GlobalMarket))
	parts = append(parts, "")

	parts = append(parts, "=== 恐贪指数 ===")
	if ac.FearGreed != nil {
		parts = append(parts, fmt.Sprintf("当前指数: %d (%s)", ac.FearGreed.Value, ac.FearGreed.Classification))
	} else {
		parts = append(parts, "❌ 恐贪指数数据暂时不可用")
	}
	parts = append(parts, "")

	parts = append(parts, "=== 主流币种表现 ===")
	parts = append(parts, formatMajorCoins(ac.MajorCoins))
	parts = append(parts, "")

	parts = append(parts, "请从宏观角度分析市场所处周期、资金流向和整体风险环境，判断宏观面对加密资产是顺风还是逆风。")

	reply, err := a.client.Call(ctx, macroPrompt, strings.Join(parts, "\n"), NameMacro)
	if err != nil {
		return fmt.Sprintf("❌ 宏观分析失败: %v", err)
	}
	return reply
}
