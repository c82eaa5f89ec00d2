package analysts

import (
	"context"
	"fmt"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
)

// Fundamental assesses project quality and market position. Its user
// message is deliberately thin; the judgment lives in the model.
type Fundamental struct {
	client llm.Client
}

func NewFundamental(client llm.Client) *Fundamental {
	return &Fundamental{client: client}
}

func (a *Fundamental) Analyze(ctx context.Context, ac *Context) string {
	if a.client == nil {
		return "❌ 基本面分析师: LLM客户端未初始化"
	}

	userMessage := fmt.Sprintf("请分析%s的基本面情况：\n基于当前价格表现、成交量和市场地位进行分析。\n\n币种: %s",
		ac.TargetSymbol, ac.TargetSymbol)

	reply, err := a.client.Call(ctx, fundamentalPrompt, userMessage, NameFundamental)
	if err != nil {
		return fmt.Sprintf("❌ 基本面分析失败: %v", err)
	}
	return reply
}
