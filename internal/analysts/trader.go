package analysts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/store"
)

// AccountProvider is the slice of the futures client the trader needs.
// Both reads return loosely typed maps with the error-inside convention.
type AccountProvider interface {
	GetAccountBalance(ctx context.Context) map[string]interface{}
	GetCurrentPositions(ctx context.Context) map[string]interface{}
}

// Trader converts research output into a concrete trading decision. It
// pulls account state itself so every decision sees a fresh snapshot, and
// reads recent comprehensive-analysis records from the store for context.
type Trader struct {
	client  llm.Client
	account AccountProvider
	store   store.Store
}

func NewTrader(client llm.Client, account AccountProvider, st store.Store) *Trader {
	return &Trader{client: client, account: account, store: st}
}

// toolsParagraph tells the model what the execution side can and cannot
// do, so decisions stay within reach of the actual order API.
const toolsParagraph = `系统支持币安USDT永续合约交易：市价单(MARKET)和限价单(LIMIT)下单、查询账户余额与持仓。
当前为建议模式：交易指令不会自动执行，所有决策需用户确认后手动下单。`

// decisionRequirements is the fixed tail of every trader prompt.
const decisionRequirements = `1. **交易方向**：
   - LONG: 看多，建议开多单或加多仓
   - SHORT: 看空，建议开空单或加空仓
   - CLOSE_LONG: 平多仓
   - CLOSE_SHORT: 平空仓
   - HOLD: 观望，暂不交易

2. **仓位管理**（如果建议交易）：
   - 建议仓位大小（USDT金额）
   - 建议杠杆倍数
   - 入场点位
   - 止损点位
   - 止盈点位

3. **风险评估**：
   - 主要风险因素
   - 风险等级（低/中/高）
   - 止损幅度建议

4. **执行建议**：
   - 是否立即执行还是等待更好时机
   - 分批建仓还是一次性建仓

请提供专业、具体、可执行的交易建议。`

// AnalyzeTradingDecision is the single-symbol path used by symbol
// monitors: one technical report in, one decision out.
func (a *Trader) AnalyzeTradingDecision(ctx context.Context, symbol, technicalAnalysis string) string {
	if a.client == nil {
		return "❌ 交易员: LLM客户端未初始化"
	}

	balance := a.fetchBalance(ctx)
	positions := a.fetchPositions(ctx)
	userMessage := formatDecisionMessage(symbol, technicalAnalysis, balance, positions)

	reply, err := a.client.Call(ctx, traderPrompt, userMessage, NameTrader)
	if err != nil {
		return fmt.Sprintf("❌ 交易决策分析失败: %v", err)
	}
	return reply
}

// ConductTradingAnalysis is the pipeline path: the full research package
// plus account state, recent analysis records and the tools paragraph.
func (a *Trader) ConductTradingAnalysis(ctx context.Context, results *ResearchResults, question string) string {
	if a.client == nil {
		return "❌ 交易员: LLM客户端未初始化"
	}

	balance := a.fetchBalance(ctx)
	positions := a.fetchPositions(ctx)

	var sb strings.Builder
	sb.WriteString("=== 研究部门综合报告 ===\n")
	sb.WriteString(orFallback(results.ResearchSummary, "暂无研究报告"))
	sb.WriteString("\n\n=== 账户状态 ===\n")
	sb.WriteString(formatBalanceBlock(balance))
	sb.WriteString("\n=== 当前持仓 ===\n")
	sb.WriteString(formatAllPositionsBlock(positions))
	sb.WriteString("\n=== 近期分析记录 ===\n")
	sb.WriteString(a.formatRecentRecords(ctx))
	sb.WriteString("\n=== 可用交易工具 ===\n")
	sb.WriteString(toolsParagraph)
	sb.WriteString("\n\n=== 交易问题 ===\n")
	sb.WriteString(question)

	symbols := make([]string, 0, len(results.SymbolAnalyses))
	for symbol := range results.SymbolAnalyses {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	sb.WriteString(fmt.Sprintf("\n\n=== 交易决策要求 ===\n请基于以上研究报告和账户状态，为 %s 提供具体的交易决策：\n\n", strings.Join(symbols, ", ")))
	sb.WriteString(decisionRequirements)

	reply, err := a.client.Call(ctx, traderPrompt, sb.String(), NameTrader)
	if err != nil {
		return fmt.Sprintf("❌ 交易决策分析失败: %v", err)
	}
	return reply
}

func (a *Trader) fetchBalance(ctx context.Context) map[string]interface{} {
	if a.account == nil {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}
	return a.account.GetAccountBalance(ctx)
}

func (a *Trader) fetchPositions(ctx context.Context) map[string]interface{} {
	if a.account == nil {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}
	return a.account.GetCurrentPositions(ctx)
}

// formatRecentRecords renders the last 10 comprehensive-analysis records,
// newest first, so the trader sees what research already concluded.
func (a *Trader) formatRecentRecords(ctx context.Context) string {
	if a.store == nil {
		return "暂无历史分析记录\n"
	}
	records, err := a.store.GetAnalysisRecords(ctx, models.DataTypeComprehensive, "", 10)
	if err != nil || len(records) == 0 {
		return "暂无历史分析记录\n"
	}

	var sb strings.Builder
	for _, rec := range records {
		content := rec.Summary
		if content == "" {
			content = rec.Content
		}
		if len([]rune(content)) > 200 {
			content = string([]rune(content)[:200]) + "..."
		}
		label := rec.Symbol
		if label == "" {
			label = rec.AgentName
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", rec.CreatedAt.Format("01-02 15:04"), label, content))
	}
	return sb.String()
}

// formatDecisionMessage is the monitor-path user message: symbol info,
// technical report, account state, the symbol's open positions and the
// decision requirements.
func formatDecisionMessage(symbol, technicalAnalysis string, balance, positions map[string]interface{}) string {
	symbolName := baseName(symbol)

	var sb strings.Builder
	sb.WriteString("=== 币种信息 ===\n")
	sb.WriteString(fmt.Sprintf("交易对: %s\n", symbol))
	sb.WriteString("\n=== 技术分析报告 ===\n")
	sb.WriteString(technicalAnalysis)
	sb.WriteString("\n\n=== 账户状态 ===\n")
	sb.WriteString(formatBalanceBlock(balance))
	sb.WriteString("\n=== 当前持仓 ===\n")
	sb.WriteString(formatSymbolPositionsBlock(symbol, positions))
	sb.WriteString(fmt.Sprintf("\n=== 交易决策要求 ===\n请基于以上技术分析和账户状态，为 %s 提供具体的交易决策：\n\n", symbolName))
	sb.WriteString(decisionRequirements)
	return sb.String()
}

func formatBalanceBlock(balance map[string]interface{}) string {
	if balance == nil || balance["error"] != nil {
		return fmt.Sprintf("账户信息错误: %s\n", errString(balance))
	}
	if !isSuccess(balance) {
		return "账户信息获取失败\n"
	}
	accountType, _ := balance["account_type"].(string)
	if accountType == "" {
		accountType = "N/A"
	}
	return fmt.Sprintf("账户类型: %s\n总余额: $%.2f USDT\n可用余额: $%.2f USDT\n未实现盈亏: $%.2f USDT\n",
		accountType,
		asFloat(balance, "total_wallet_balance"),
		asFloat(balance, "available_balance"),
		asFloat(balance, "total_unrealized_profit"))
}

func positionRows(positions map[string]interface{}) []map[string]interface{} {
	switch rows := positions["positions"].(type) {
	case []map[string]interface{}:
		return rows
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			if m, ok := row.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func formatPositionRow(pos map[string]interface{}) string {
	amt := asFloat(pos, "position_amt")
	direction := "多头"
	if amt < 0 {
		direction = "空头"
		amt = -amt
	}
	symbol, _ := pos["symbol"].(string)
	return fmt.Sprintf("%s %s持仓:\n  数量: %.4f\n  开仓价: $%.4f\n  标记价: $%.4f\n  未实现盈亏: $%.2f\n  杠杆: %dx\n",
		baseName(symbol), direction, amt,
		asFloat(pos, "entry_price"),
		asFloat(pos, "mark_price"),
		asFloat(pos, "unrealized_profit"),
		asInt(pos, "leverage"))
}

func formatSymbolPositionsBlock(symbol string, positions map[string]interface{}) string {
	if positions == nil || positions["error"] != nil {
		return fmt.Sprintf("持仓信息错误: %s\n", errString(positions))
	}
	rows := positionRows(positions)
	if !isSuccess(positions) || len(rows) == 0 {
		return "无持仓\n"
	}

	var sb strings.Builder
	found := false
	for _, pos := range rows {
		if s, _ := pos["symbol"].(string); s == symbol {
			sb.WriteString(formatPositionRow(pos))
			found = true
		}
	}
	if !found {
		return fmt.Sprintf("无 %s 持仓\n", baseName(symbol))
	}
	return sb.String()
}

func formatAllPositionsBlock(positions map[string]interface{}) string {
	if positions == nil || positions["error"] != nil {
		return fmt.Sprintf("持仓信息错误: %s\n", errString(positions))
	}
	rows := positionRows(positions)
	if !isSuccess(positions) || len(rows) == 0 {
		return "无持仓\n"
	}

	var sb strings.Builder
	for _, pos := range rows {
		sb.WriteString(formatPositionRow(pos))
	}
	return sb.String()
}
