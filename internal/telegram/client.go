// Package telegram is the command surface: a long-polling bot that turns
// chat commands, button presses and free-form text into controller calls,
// and pushes analysis results back to the authorized chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/monitor"
)

const defaultAPIBase = "https://api.telegram.org"

// Controller is what the bot needs from the application core. Defined here
// so the core can depend on the bot for pushes without a cycle.
type Controller interface {
	AnalyzeSymbol(ctx context.Context, symbol string) string
	StartSymbolMonitor(symbol string, intervalMinutes int) monitor.Result
	StopSymbolMonitor(symbol string) monitor.Result
	AccountBalance(ctx context.Context) map[string]interface{}
	CurrentPositions(ctx context.Context) map[string]interface{}
	ProcessUserMessage(ctx context.Context, text, chatID string) string
}

// Button is one inline keyboard button. Every keyboard this bot sends is a
// single row.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Update is a Telegram update (partial schema: what we consume).
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
	From    *User    `json:"from"`
}

type updateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

type apiResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Config carries the bot credentials and poll tuning.
type Config struct {
	Token          string
	AuthChatID     int64
	PollTimeoutSec int
	APIBase        string // tests override this
}

// Bot talks to the Telegram Bot API over plain HTTP long polling.
type Bot struct {
	token       string
	authChatID  int64
	apiBase     string
	pollTimeout int
	http        *http.Client
	controller  Controller
	logger      zerolog.Logger
	sleep       func(time.Duration)
}

func NewBot(cfg Config, controller Controller, logger zerolog.Logger) *Bot {
	if cfg.PollTimeoutSec <= 0 {
		cfg.PollTimeoutSec = 60
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Bot{
		token:       cfg.Token,
		authChatID:  cfg.AuthChatID,
		apiBase:     cfg.APIBase,
		pollTimeout: cfg.PollTimeoutSec,
		// The HTTP timeout must outlive the long-poll window.
		http:       &http.Client{Timeout: time.Duration(cfg.PollTimeoutSec+15) * time.Second},
		controller: controller,
		logger:     logger.With().Str("component", "telegram").Logger(),
		sleep:      time.Sleep,
	}
}

// Configured reports whether credentials are present. An unconfigured bot
// skips polling and drops pushes.
func (b *Bot) Configured() bool { return b.token != "" && b.authChatID != 0 }

// Notify pushes a plain Markdown message to the authorized chat. Monitor
// loops and the send_telegram_notification capability come through here.
func (b *Bot) Notify(text string) error {
	if !b.Configured() {
		b.logger.Warn().Msg("telegram credentials missing, dropping notification")
		return fmt.Errorf("telegram not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return b.sendMessage(ctx, b.authChatID, text, nil)
}

// Announce posts the startup banner with the account status button.
func (b *Bot) Announce(ctx context.Context) error {
	return b.sendMessage(ctx, b.authChatID,
		"🚀 **加密货币监控系统已启动**\n\n点击下方按钮查看账户状态", mainMenu())
}

// sendMessage delivers one message, trying Markdown first and retrying as
// plain text when Telegram rejects the entities.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, buttons []Button) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	attachKeyboard(payload, buttons)

	if err := b.call(ctx, "sendMessage", payload); err != nil {
		b.logger.Debug().Err(err).Msg("markdown send failed, retrying plain")
		delete(payload, "parse_mode")
		return b.call(ctx, "sendMessage", payload)
	}
	return nil
}

// editMessage rewrites a message in place; button panels use this so the
// chat doesn't fill up with stale menus.
func (b *Bot) editMessage(ctx context.Context, chatID, messageID int64, text string, buttons []Button) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	attachKeyboard(payload, buttons)

	if err := b.call(ctx, "editMessageText", payload); err != nil {
		delete(payload, "parse_mode")
		return b.call(ctx, "editMessageText", payload)
	}
	return nil
}

func (b *Bot) answerCallback(ctx context.Context, callbackID string) {
	// Best effort: a missed ack only leaves the button spinner running.
	if err := b.call(ctx, "answerCallbackQuery", map[string]interface{}{"callback_query_id": callbackID}); err != nil {
		b.logger.Debug().Err(err).Msg("answerCallbackQuery failed")
	}
}

// attachKeyboard marshals the single-row inline keyboard into the
// reply_markup field the API expects.
func attachKeyboard(payload map[string]interface{}, buttons []Button) {
	if len(buttons) == 0 {
		return
	}
	keyboard, _ := json.Marshal(map[string]interface{}{
		"inline_keyboard": [][]Button{buttons},
	})
	payload["reply_markup"] = string(keyboard)
}

func (b *Bot) call(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !apiResp.Ok {
		return fmt.Errorf("telegram %s: %s (code %d)", method, apiResp.Description, apiResp.ErrorCode)
	}
	return nil
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d", b.apiBase, b.token, offset, b.pollTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var updates updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&updates); err != nil {
		return nil, fmt.Errorf("getUpdates: decode: %w", err)
	}
	if !updates.Ok {
		return nil, fmt.Errorf("getUpdates: %s (code %d)", updates.Description, updates.ErrorCode)
	}
	return updates.Result, nil
}

func mainMenu() []Button {
	return []Button{{Text: "💰 账户状态", CallbackData: "account_status"}}
}
