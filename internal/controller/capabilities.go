package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BlackBearCC/crypto-agent/internal/capability"
	"github.com/BlackBearCC/crypto-agent/internal/monitor"
)

// registerCapabilities declares the closed capability set the master brain
// can dispatch to. Registration order is the enumeration order the model
// sees; the registry is frozen right after this returns.
func (c *Controller) registerCapabilities() error {
	caps := []capability.Descriptor{
		{
			Name:        "technical_analysis",
			Description: "技术分析师，分析指定币种的K线数据与技术指标。参数: symbol",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				symbol := argString(args, "symbol")
				if symbol == "" {
					return missingArg("symbol")
				}
				return c.AnalyzeSymbol(ctx, symbol)
			},
		},
		{
			Name:        "market_sentiment_analysis",
			Description: "市场分析师，分析全市场情绪、热点与资金动向。无参数",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return c.MarketSentimentAnalysis(ctx)
			},
		},
		{
			Name:        "fundamental_analysis",
			Description: "基本面分析师，分析指定币种的项目基本面。参数: symbol",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				symbol := argString(args, "symbol")
				if symbol == "" {
					return missingArg("symbol")
				}
				return c.FundamentalAnalysis(ctx, symbol)
			},
		},
		{
			Name:        "macro_analysis",
			Description: "宏观分析师，分析宏观经济环境，每日限一次。无参数",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return c.MacroAnalysis(ctx)
			},
		},
		{
			Name:        "comprehensive_analysis",
			Description: "多分析师协作的全面分析，产出研究报告与交易决策。参数: question, symbols(数组)",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				question := argString(args, "question")
				if question == "" {
					return missingArg("question")
				}
				return c.ComprehensiveAnalysis(ctx, question, argList(args, "symbols"))
			},
		},
		{
			Name:        "get_account_status",
			Description: "获取合约账户余额状态。无参数",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return jsonString(c.AccountBalance(ctx))
			},
		},
		{
			Name:        "get_current_positions",
			Description: "获取当前合约持仓信息。无参数",
			Handler: func(ctx context.Context, _ map[string]interface{}) string {
				return jsonString(c.CurrentPositions(ctx))
			},
		},
		{
			Name:        "trading_analysis",
			Description: "交易员基于研究结果制定交易策略。参数: analysis_results, question",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				analysisResults := argString(args, "analysis_results")
				if analysisResults == "" {
					return missingArg("analysis_results")
				}
				question := argString(args, "question")
				if question == "" {
					return missingArg("question")
				}
				return c.TradingAnalysis(ctx, analysisResults, question)
			},
		},
		{
			Name:        "get_market_data",
			Description: "获取指定币种的实时行情摘要。参数: symbol 或 symbols(数组)",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				symbols := argList(args, "symbols")
				if len(symbols) == 0 {
					if symbol := argString(args, "symbol"); symbol != "" {
						symbols = []string{symbol}
					}
				}
				if len(symbols) == 0 {
					return missingArg("symbol")
				}
				return jsonString(c.MarketDataSummary(ctx, symbols))
			},
		},
		{
			Name:        "manual_trigger_analysis",
			Description: "手动触发指定币种的技术分析。参数: symbol",
			Handler: func(ctx context.Context, args map[string]interface{}) string {
				symbol := argString(args, "symbol")
				if symbol == "" {
					return missingArg("symbol")
				}
				return c.ManualTriggerAnalysis(ctx, symbol)
			},
		},
		{
			Name:        "send_telegram_notification",
			Description: "通过Telegram向用户发送通知。参数: message",
			Handler: func(_ context.Context, args map[string]interface{}) string {
				message := argString(args, "message")
				if message == "" {
					return missingArg("message")
				}
				return c.SendNotification(message)
			},
		},
		{
			Name:        "get_system_status",
			Description: "获取系统运行状态。无参数",
			Handler: func(_ context.Context, _ map[string]interface{}) string {
				return jsonString(c.SystemStatus())
			},
		},
		{
			Name:        "set_monitoring_symbols",
			Description: "设置监控币种列表。参数: primary_symbols(数组), secondary_symbols(数组，可选)",
			Handler: func(_ context.Context, args map[string]interface{}) string {
				primary := argList(args, "primary_symbols")
				if len(primary) == 0 {
					return missingArg("primary_symbols")
				}
				secondary := argList(args, "secondary_symbols")
				if err := c.SetMonitoringSymbols(primary, secondary); err != nil {
					return fmt.Sprintf("❌ %v", err)
				}
				p, s := c.MonitoringSymbols()
				return fmt.Sprintf("✅ 监控币种已更新\n主要监控: %s\n次要监控: %s",
					strings.Join(p, ", "), joinOrNone(s))
			},
		},
		{
			Name:        "get_monitoring_symbols",
			Description: "获取当前监控币种列表。无参数",
			Handler: func(_ context.Context, _ map[string]interface{}) string {
				p, s := c.MonitoringSymbols()
				return jsonString(map[string]interface{}{
					"primary_symbols":   p,
					"secondary_symbols": s,
				})
			},
		},
		{
			Name:        "set_heartbeat_interval",
			Description: "设置心跳间隔，范围60-3600秒。参数: interval_seconds",
			Handler: func(_ context.Context, args map[string]interface{}) string {
				seconds, ok := argInt(args, "interval_seconds")
				if !ok {
					return missingArg("interval_seconds")
				}
				if err := c.SetHeartbeatInterval(seconds); err != nil {
					return fmt.Sprintf("❌ %v", err)
				}
				return fmt.Sprintf("✅ 心跳间隔已设置为 %d 秒", seconds)
			},
		},
		{
			Name:        "get_heartbeat_settings",
			Description: "获取心跳间隔设置。无参数",
			Handler: func(_ context.Context, _ map[string]interface{}) string {
				return jsonString(c.HeartbeatSettings())
			},
		},
		{
			Name:        "start_symbol_monitor",
			Description: "开始定时监控指定币种。参数: symbol, interval_minutes(可选，默认30)",
			Handler: func(_ context.Context, args map[string]interface{}) string {
				symbol := argString(args, "symbol")
				if symbol == "" {
					return missingArg("symbol")
				}
				interval, _ := argInt(args, "interval_minutes")
				return monitorReply(c.StartSymbolMonitor(symbol, interval))
			},
		},
		{
			Name:        "stop_symbol_monitor",
			Description: "停止监控指定币种。参数: symbol",
			Handler: func(_ context.Context, args map[string]interface{}) string {
				symbol := argString(args, "symbol")
				if symbol == "" {
					return missingArg("symbol")
				}
				return monitorReply(c.StopSymbolMonitor(symbol))
			},
		},
		{
			Name:        "get_symbol_monitors_status",
			Description: "获取所有币种监控状态。无参数",
			Handler: func(_ context.Context, _ map[string]interface{}) string {
				return jsonString(c.MonitorStatus())
			},
		},
	}

	for _, d := range caps {
		if err := c.registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func missingArg(key string) string {
	return fmt.Sprintf("❌ 缺少必需参数: %s", key)
}

// monitorReply renders a monitor start/stop result as a status string.
func monitorReply(r monitor.Result) string {
	if r.Success {
		return "✅ " + r.Message
	}
	return "❌ " + r.Message
}

// jsonString renders v as indented JSON so capability results stay plain
// strings all the way to the chat reply.
func jsonString(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("❌ 序列化失败: %v", err)
	}
	return string(b)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "无"
	}
	return strings.Join(items, ", ")
}

// argString returns the named argument as a trimmed string, empty when
// absent. Single-element lists collapse so a model that brackets a scalar
// still works.
func argString(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	case []interface{}:
		if len(v) > 0 {
			return strings.TrimSpace(fmt.Sprintf("%v", v[0]))
		}
		return ""
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// argList returns the named argument as a string slice. Scalars promote to
// a one-element list and comma-separated scalars split, so the model can
// pass symbols either way.
func argList(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		var out []string
		for _, item := range v {
			out = append(out, splitListItem(item)...)
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range v {
			out = append(out, splitListItem(fmt.Sprintf("%v", item))...)
		}
		return out
	case string:
		return splitListItem(v)
	default:
		return nil
	}
}

func splitListItem(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// argInt parses the named argument as an integer; parser values arrive as
// strings.
func argInt(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
