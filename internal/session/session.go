// Package session manages per-chat conversation history: round-numbered
// persistence, a read cache, and background compression that summarizes
// old rounds instead of letting the replayed history grow without bound.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/store"
)

// compressAfterRounds is the round count that triggers background
// summarization of rounds 1-4.
const compressAfterRounds = 5

// SummaryPrefix marks compressor-written system rows.
const SummaryPrefix = "[历史对话概要] "

// Manager owns the chat history of every chatId. All methods are safe for
// concurrent use; compression runs on its own goroutine per trigger.
type Manager struct {
	llm    llm.Client
	store  store.Store
	logger zerolog.Logger

	mu          sync.Mutex
	cache       map[string][]llm.Message
	compressing map[string]bool

	wg sync.WaitGroup
}

func NewManager(client llm.Client, st store.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		llm:         client,
		store:       st,
		logger:      logger.With().Str("component", "session").Logger(),
		cache:       make(map[string][]llm.Message),
		compressing: make(map[string]bool),
	}
}

// GetHistory returns up to limit non-archived messages in chronological
// order, from cache when the chat was read before.
func (m *Manager) GetHistory(ctx context.Context, chatID string, limit int) []llm.Message {
	m.mu.Lock()
	if cached, ok := m.cache[chatID]; ok {
		out := make([]llm.Message, len(cached))
		copy(out, cached)
		m.mu.Unlock()
		return out
	}
	m.mu.Unlock()

	rows, err := m.store.GetChatHistory(ctx, chatID, limit)
	if err != nil {
		m.logger.Error().Err(err).Str("chat_id", chatID).Msg("load chat history failed")
		return nil
	}
	history := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		history = append(history, llm.Message{Role: row.Role, Content: row.Content})
	}

	m.mu.Lock()
	m.cache[chatID] = history
	out := make([]llm.Message, len(history))
	copy(out, history)
	m.mu.Unlock()
	return out
}

// AddMessage persists one message with its round number and appends it to
// the cache. A user message opens a new round; assistant and system
// messages attach to the current one.
func (m *Manager) AddMessage(ctx context.Context, chatID, role, content string) error {
	round, err := m.nextRound(ctx, chatID, role)
	if err != nil {
		return err
	}

	msg := &models.ChatMessage{
		ChatID:      chatID,
		Role:        role,
		Content:     content,
		RoundNumber: round,
	}
	if err := m.store.SaveChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}

	m.mu.Lock()
	if cached, ok := m.cache[chatID]; ok {
		m.cache[chatID] = append(cached, llm.Message{Role: role, Content: content})
	}
	m.mu.Unlock()

	m.logger.Debug().Str("chat_id", chatID).Str("role", role).Int("round", round).Msg("message saved")
	return nil
}

func (m *Manager) nextRound(ctx context.Context, chatID, role string) (int, error) {
	current, err := m.store.GetChatRoundCount(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("chat round count: %w", err)
	}
	if role == models.RoleUser {
		return current + 1, nil
	}
	if current > 0 {
		return current, nil
	}
	return 1, nil
}

// CheckAndCompress triggers background compression once the chat reaches
// the round threshold. At most one compression per chat runs at a time.
func (m *Manager) CheckAndCompress(ctx context.Context, chatID string) {
	count, err := m.store.GetChatRoundCount(ctx, chatID)
	if err != nil || count < compressAfterRounds {
		return
	}

	m.mu.Lock()
	if m.compressing[chatID] {
		m.mu.Unlock()
		return
	}
	m.compressing[chatID] = true
	m.mu.Unlock()

	m.logger.Info().Str("chat_id", chatID).Int("rounds", count).Msg("triggering history compression")
	m.wg.Add(1)
	go m.summarize(chatID, count)
}

// summarize condenses rounds 1-4 into one summary row and archives the
// originals. Rounds already archived by an earlier pass are skipped, which
// makes re-triggering on every message past the threshold harmless.
func (m *Manager) summarize(chatID string, currentRound int) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.compressing, chatID)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rows, err := m.store.GetChatMessagesByRounds(ctx, chatID, 1, 4)
	if err != nil {
		m.logger.Error().Err(err).Str("chat_id", chatID).Msg("compression read failed")
		return
	}

	fresh := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		if !row.Archived && !row.IsSummary {
			fresh = append(fresh, row)
		}
	}
	if len(fresh) == 0 {
		return
	}

	lines := make([]string, 0, len(fresh))
	for _, row := range fresh {
		lines = append(lines, fmt.Sprintf("%s: %s", row.Role, row.Content))
	}
	prompt := fmt.Sprintf("请简要概括以下对话的关键信息（用户需求、已完成操作、重要结论）：\n\n%s\n\n用3-5句话总结核心内容。",
		strings.Join(lines, "\n"))

	summary, err := m.llm.Call(ctx, prompt, "", "对话概要")
	if err != nil {
		m.logger.Error().Err(err).Str("chat_id", chatID).Msg("compression summary failed")
		return
	}

	summaryRow := &models.ChatMessage{
		ChatID:      chatID,
		Role:        models.RoleSystem,
		Content:     SummaryPrefix + summary,
		RoundNumber: currentRound,
		IsSummary:   true,
	}
	if err := m.store.SaveChatMessage(ctx, summaryRow); err != nil {
		m.logger.Error().Err(err).Str("chat_id", chatID).Msg("compression summary save failed")
		return
	}
	if err := m.store.ArchiveChatMessages(ctx, chatID, 1, 4); err != nil {
		m.logger.Error().Err(err).Str("chat_id", chatID).Msg("compression archive failed")
		return
	}

	m.mu.Lock()
	delete(m.cache, chatID)
	m.mu.Unlock()

	m.logger.Info().Str("chat_id", chatID).Msg("history compression completed, rounds 1-4 archived")
}

// ClearCache drops the read cache for one chat, or all chats when chatID
// is empty.
func (m *Manager) ClearCache(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chatID == "" {
		m.cache = make(map[string][]llm.Message)
		return
	}
	delete(m.cache, chatID)
}

// Stats reports the session state for one chat.
func (m *Manager) Stats(ctx context.Context, chatID string) map[string]interface{} {
	count, _ := m.store.GetChatRoundCount(ctx, chatID)
	history := m.GetHistory(ctx, chatID, 10)

	m.mu.Lock()
	_, cached := m.cache[chatID]
	m.mu.Unlock()

	return map[string]interface{}{
		"chat_id":       chatID,
		"round_count":   count,
		"message_count": len(history),
		"cached":        cached,
	}
}

// Wait blocks until in-flight compressions finish. Called on shutdown so
// a summary write isn't cut off mid-transaction.
func (m *Manager) Wait() { m.wg.Wait() }
