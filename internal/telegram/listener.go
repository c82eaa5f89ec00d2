package telegram

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

const welcomeText = "🤖 **加密货币监控系统**\n\n👋 欢迎！\n\n📊 `/analyze 币种` - 技术分析\n💰 点击下方按钮查看账户状态"

// Run long-polls until ctx is cancelled. Persistent API failures restart
// the poll loop up to five times, thirty seconds apart, before giving up.
func (b *Bot) Run(ctx context.Context) {
	if !b.Configured() {
		b.logger.Warn().Msg("telegram credentials missing, listener disabled")
		return
	}

	const maxRetries = 5
	const retryDelay = 30 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := b.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		b.logger.Error().Err(err).Int("attempt", attempt).Msg("telegram polling stopped")
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
	b.logger.Error().Msg("telegram listener gave up after repeated failures")
}

// poll is one polling session. Transient errors back off five seconds;
// three consecutive failures end the session so Run can apply the longer
// reconnect delay.
func (b *Bot) poll(ctx context.Context) error {
	b.logger.Info().Msg("telegram long polling started")

	var offset int64
	consecutiveErrs := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveErrs++
			if consecutiveErrs >= 3 {
				return err
			}
			b.logger.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		consecutiveErrs = 0

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update Update) {
	if q := update.CallbackQuery; q != nil {
		if q.Message != nil && q.Message.Chat.ID != b.authChatID {
			b.logger.Warn().Int64("chat_id", q.Message.Chat.ID).Str("data", q.Data).Msg("unauthorized callback ignored")
			return
		}
		b.answerCallback(ctx, q.ID)
		b.handleCallback(ctx, q)
		return
	}

	msg := update.Message
	if msg == nil {
		return
	}
	if msg.Chat.ID != b.authChatID {
		// No reply: unauthorized chats must not learn the bot exists.
		username := ""
		if msg.From != nil {
			username = msg.From.Username
		}
		b.logger.Warn().Int64("chat_id", msg.Chat.ID).Str("username", username).Str("text", msg.Text).
			Msg("unauthorized message ignored")
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		return
	case text == "/start" || strings.HasPrefix(text, "/start "):
		b.handleStart(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/analyze"):
		b.handleAnalyze(ctx, msg.Chat.ID, text)
	case strings.HasPrefix(text, "/"):
		b.logger.Info().Str("text", text).Msg("unknown command ignored")
	default:
		b.handleFreeForm(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if err := b.sendMessage(ctx, chatID, welcomeText, mainMenu()); err != nil {
		b.logger.Error().Err(err).Msg("send welcome failed")
	}
}

func (b *Bot) handleAnalyze(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		b.sendMessage(ctx, chatID, "❌ 格式错误！\n正确格式：`/analyze 币种`\n例：`/analyze BTC`", nil)
		return
	}

	display := strings.ToUpper(fields[1])
	symbol := models.NormalizeSymbol(display)

	b.sendMessage(ctx, chatID, fmt.Sprintf("🔍 正在分析 %s...", display), nil)

	result := b.controller.AnalyzeSymbol(ctx, symbol)
	if result == "" {
		b.sendMessage(ctx, chatID, fmt.Sprintf("❌ 无法获取 %s 分析", display), nil)
		return
	}

	buttons := []Button{
		{Text: "🔔 开始监控", CallbackData: "monitor_start_" + symbol},
		{Text: "⏹️ 停止监控", CallbackData: "monitor_stop_" + symbol},
	}
	if err := b.sendLong(ctx, chatID, fmt.Sprintf("📊 **%s 技术分析**\n\n%s", display, result), buttons); err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("send analysis failed")
	}
}

func (b *Bot) handleFreeForm(ctx context.Context, chatID int64, text string) {
	b.sendMessage(ctx, chatID, "Processing your message...", nil)

	response := b.controller.ProcessUserMessage(ctx, text, strconv.FormatInt(chatID, 10))
	if response == "" {
		b.sendMessage(ctx, chatID, "No response received, please try again", nil)
		return
	}
	if err := b.sendLong(ctx, chatID, "**AI Response:**\n\n"+response, nil); err != nil {
		b.logger.Error().Err(err).Msg("send AI response failed")
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *CallbackQuery) {
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID
	messageID := q.Message.MessageID
	backButton := []Button{{Text: "◀️ 返回", CallbackData: "main_menu"}}

	switch {
	case q.Data == "main_menu":
		b.editMessage(ctx, chatID, messageID, welcomeText, mainMenu())

	case q.Data == "account_status":
		buttons := []Button{
			{Text: "🔄 刷新", CallbackData: "account_status"},
			{Text: "◀️ 返回", CallbackData: "main_menu"},
		}
		b.editMessage(ctx, chatID, messageID, b.accountStatusText(ctx), buttons)

	case strings.HasPrefix(q.Data, "monitor_start_"):
		symbol := strings.TrimPrefix(q.Data, "monitor_start_")
		result := b.controller.StartSymbolMonitor(symbol, 30)
		if result.Success {
			stopButton := []Button{{Text: "⏹️ 停止监控", CallbackData: "monitor_stop_" + symbol}}
			b.editMessage(ctx, chatID, messageID,
				fmt.Sprintf("✅ %s\n\n每30分钟自动分析并推送", result.Message), stopButton)
		} else {
			b.editMessage(ctx, chatID, messageID, fmt.Sprintf("⚠️ %s", result.Message), backButton)
		}

	case strings.HasPrefix(q.Data, "monitor_stop_"):
		symbol := strings.TrimPrefix(q.Data, "monitor_stop_")
		result := b.controller.StopSymbolMonitor(symbol)
		if result.Success {
			b.editMessage(ctx, chatID, messageID, fmt.Sprintf("✅ %s", result.Message), backButton)
		} else {
			b.editMessage(ctx, chatID, messageID, fmt.Sprintf("⚠️ %s", result.Message), backButton)
		}

	default:
		b.logger.Info().Str("data", q.Data).Msg("unknown callback ignored")
	}
}

// accountStatusText renders the balance line plus the fixed-width position
// table shown behind the 账户状态 button.
func (b *Bot) accountStatusText(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💰 **账户状态**\n⏰ %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	balance := b.controller.AccountBalance(ctx)
	if resultOK(balance) {
		sb.WriteString(fmt.Sprintf("总额 `$%.2f` | 可用 `$%.2f` | 盈亏 `$%.2f`\n\n",
			asNumber(balance["total_wallet_balance"]),
			asNumber(balance["available_balance"]),
			asNumber(balance["total_unrealized_profit"])))
	} else {
		sb.WriteString("❌ 余额获取失败\n\n")
	}

	positions := b.controller.CurrentPositions(ctx)
	rows, _ := positions["positions"].([]map[string]interface{})
	if resultOK(positions) && len(rows) > 0 {
		sb.WriteString("```\n")
		sb.WriteString("币种      价值     开仓价      盈亏\n")
		sb.WriteString("-----------------------------------\n")
		for _, pos := range rows {
			symbol, _ := pos["symbol"].(string)
			base := models.BaseSymbol(symbol)
			if len(base) > 6 {
				base = base[:6]
			}

			amt := asNumber(pos["position_amt"])
			value := math.Abs(amt) * asNumber(pos["mark_price"])
			direction := "🔴"
			if amt > 0 {
				direction = "🟢"
			}
			pnl := asNumber(pos["unrealized_profit"])
			sign := ""
			if pnl > 0 {
				sign = "+"
			}
			sb.WriteString(fmt.Sprintf("%s%-6s $%6.0f $%7.2f %s$%5.2f\n",
				direction, base, value, asNumber(pos["entry_price"]), sign, pnl))
		}
		sb.WriteString("```")
	} else {
		sb.WriteString("无持仓")
	}
	return sb.String()
}

func resultOK(m map[string]interface{}) bool {
	if m == nil {
		return false
	}
	if _, hasErr := m["error"]; hasErr {
		return false
	}
	ok, _ := m["success"].(bool)
	return ok
}

func asNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
