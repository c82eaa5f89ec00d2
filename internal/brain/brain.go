// Package brain hosts the master brain: the LLM persona that turns
// free-form user text into capability calls. The model never executes
// anything itself; it emits FUNCTION_CALL directive lines, and the brain
// parses and dispatches them through the capability registry, splicing the
// results back into the reply.
package brain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/capability"
	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/session"
)

const directivePrefix = "FUNCTION_CALL:"

const agentName = "智能主脑"

// standbyPrompt is the master brain persona. The system stays passive: it
// only acts on explicit user instructions arriving through Telegram.
const standbyPrompt = `你是加密货币交易系统的智能主脑，当前处于待机模式。

## 工作模式
- **待机状态**: 系统已启动但不主动分析
- **Telegram控制**: 所有分析和交易通过Telegram用户命令触发
- **按需响应**: 只在收到明确指令时才执行相应操作
- **动态监控**: 系统不再有默认监控币种，完全根据用户输入动态添加和移除

## 自然语言理解能力
你需要理解用户的各种表达方式并转换为标准交易对格式：

**币种识别**：
- 比特币/BTC/大饼/饼 → BTCUSDT
- 以太坊/ETH/姨太/以太 → ETHUSDT
- 狗狗币/DOGE/狗币 → DOGEUSDT
- 索拉纳/SOL/所拉那 → SOLUSDT
- 其他币种同理，统一转换为 {币种代码}USDT 格式

**指令理解**：
- "分析"/"看看"/"怎么样" 默认指 → 技术分析 (technical_analysis)
- "全面分析"/"综合分析" → 多分析师协作分析 (comprehensive_analysis)
- "市场情绪"/"市场怎么样" → 市场情绪分析 (market_sentiment_analysis)
- "基本面"/"项目分析" → 基本面分析 (fundamental_analysis)
- "宏观"/"大环境" → 宏观分析 (macro_analysis)
- "监控"/"开始监控"/"盯着" → 开始币种监控 (start_symbol_monitor)
- "停止监控"/"别盯了" → 停止币种监控 (stop_symbol_monitor)

## 你的核心能力
通过function calling调用以下能力（仅在用户请求时）：

### 分析能力
1. **technical_analysis** - 技术分析师：分析K线数据、技术指标（默认分析类型）
2. **market_sentiment_analysis** - 市场分析师：分析市场情绪、热点趋势
3. **fundamental_analysis** - 基本面分析师：分析币种基本面数据
4. **macro_analysis** - 宏观分析师：分析宏观经济环境（每日限一次）
5. **comprehensive_analysis** - 多分析师协作：完整的多维度分析

### 交易能力
6. **get_account_status** - 获取交易账户状态
7. **get_current_positions** - 获取当前持仓信息
8. **trading_analysis** - 交易分析师：基于研究制定交易策略

### 监控能力
9. **get_market_data** - 获取实时市场数据
10. **get_system_status** - 获取系统运行状态
11. **manual_trigger_analysis** - 手动触发特定币种分析
12. **start_symbol_monitor** - 开始监控指定币种（定时分析）
13. **stop_symbol_monitor** - 停止监控指定币种
14. **get_symbol_monitors_status** - 获取所有监控币种状态
15. **set_monitoring_symbols** - 设置监控币种列表
16. **get_monitoring_symbols** - 获取当前监控币种列表

### 通知能力
17. **send_telegram_notification** - 发送Telegram通知

## 工作原则
1. **按需服务**：只在收到用户明确请求时执行操作
2. **智能决策**：根据用户请求选择合适的能力组合
3. **风险优先**：任何交易决策都要优先考虑风险控制
4. **透明执行**：清晰说明你的思考过程和调用的能力
5. **资源优化**：宏观分析每日限一次，避免重复调用
6. **动态监控**：用户可以随时添加或移除监控币种

## 响应格式
- 首先说明你的理解和计划
- 然后调用相应的function
- 最后总结结果并给出建议

现在系统处于待机状态，等待用户通过Telegram发送指令。`

// SymbolsProvider reports the currently monitored primary symbols; the
// brain folds them into the context block of every request.
type SymbolsProvider func() []string

// Brain wires the LLM persona to the capability registry and the session
// store.
type Brain struct {
	client   llm.Client
	registry *capability.Registry
	sessions *session.Manager
	symbols  SymbolsProvider
	mode     string
	now      func() time.Time
	logger   zerolog.Logger
}

func New(client llm.Client, registry *capability.Registry, sessions *session.Manager, symbols SymbolsProvider, mode string, logger zerolog.Logger) *Brain {
	return &Brain{
		client:   client,
		registry: registry,
		sessions: sessions,
		symbols:  symbols,
		mode:     mode,
		now:      time.Now,
		logger:   logger.With().Str("component", "master_brain").Logger(),
	}
}

// ProcessRequest handles one user request end to end: context assembly,
// LLM call with replayed history, directive dispatch, and session
// persistence. It never returns an error; failures become the reply.
func (b *Brain) ProcessRequest(ctx context.Context, request, chatID string, extra map[string]string) string {
	contextInfo := b.prepareContext(extra)

	systemPrompt := fmt.Sprintf(`%s

可用的函数调用:
%s

如果需要调用函数，请用以下格式：
FUNCTION_CALL: function_name(param1=value1, param2=value2)

注意：字符串参数要用引号，数组参数用方括号。`, standbyPrompt, b.registry.Enumerate())

	userMessage := fmt.Sprintf(`## 当前上下文
%s

## 用户请求
%s

请智能分析并执行相应操作。`, contextInfo, request)

	history := b.sessions.GetHistory(ctx, chatID, 10)
	b.logger.Info().Str("chat_id", chatID).Int("history", len(history)).Msg("master brain calling LLM")

	reply, err := b.client.Call(ctx, systemPrompt, userMessage, agentName, history...)
	if err != nil {
		msg := fmt.Sprintf("Master brain request processing failed: %v", err)
		b.logger.Error().Err(err).Str("chat_id", chatID).Msg("master brain LLM call failed")
		return msg
	}

	final := b.spliceDirectives(ctx, reply)

	if err := b.sessions.AddMessage(ctx, chatID, models.RoleUser, request); err != nil {
		b.logger.Error().Err(err).Msg("persist user message failed")
	}
	if err := b.sessions.AddMessage(ctx, chatID, models.RoleAssistant, final); err != nil {
		b.logger.Error().Err(err).Msg("persist assistant message failed")
	}
	b.sessions.CheckAndCompress(ctx, chatID)

	return final
}

// HeartbeatDecision is deliberately inert: heartbeats never trigger
// analysis or trades. The reply just restates the standby posture.
func (b *Brain) HeartbeatDecision(marketConditions map[string]interface{}) string {
	return fmt.Sprintf(`🧠 系统待机中...

📊 市场监控正常：
- 币种: %s
- 价格: $%s
- 状态: 数据收集正常

📱 请通过Telegram机器人发送指令进行分析或交易操作。
`, condValue(marketConditions, "symbol"), condValue(marketConditions, "latest_price"))
}

// spliceDirectives replaces every FUNCTION_CALL line in the reply with the
// capability result. A directive whose capability returns an empty,
// non-error result keeps its original line; everything else passes
// through untouched.
func (b *Brain) spliceDirectives(ctx context.Context, reply string) string {
	lines := strings.Split(reply, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, directivePrefix) {
			out = append(out, line)
			continue
		}

		callText := strings.TrimSpace(strings.TrimPrefix(trimmed, directivePrefix))
		b.logger.Info().Str("call", callText).Msg("executing function call")

		call, err := ParseCall(callText)
		if err != nil {
			b.logger.Warn().Err(err).Str("call", callText).Msg("directive parse failed")
			out = append(out, fmt.Sprintf("❌ 执行失败: %v", err))
			continue
		}

		result, found := b.registry.Invoke(ctx, call.Name, call.Args)
		if !found {
			out = append(out, fmt.Sprintf("❌ 未知的函数调用: %s", callText))
			continue
		}
		if result == "" {
			out = append(out, line)
			continue
		}
		out = append(out, result)
	}
	return strings.Join(out, "\n")
}

func (b *Brain) prepareContext(extra map[string]string) string {
	monitored := "无(等待用户添加)"
	if symbols := b.symbols(); len(symbols) > 0 {
		bases := make([]string, 0, len(symbols))
		for _, s := range symbols {
			bases = append(bases, models.BaseSymbol(s))
		}
		monitored = strings.Join(bases, ", ")
	}

	lines := []string{
		"系统时间: " + b.now().Format("2006-01-02 15:04:05"),
		"监控币种: " + monitored,
		"系统模式: " + b.mode,
	}

	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, extra[k]))
		}
	}
	return strings.Join(lines, "\n")
}

func condValue(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return "N/A"
}
