package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// database-less deployments (database.enabled: false); nothing survives a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages []models.ChatMessage
	records  []models.AnalysisRecord
	market   []models.MarketDataRecord
	triggers []models.TriggerEvent
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) SaveChatMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID
	s.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) GetChatHistory(_ context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards collecting the newest non-archived rows, then reverse
	// into chronological order, same contract as the SQL implementation.
	var newest []models.ChatMessage
	for i := len(s.messages) - 1; i >= 0 && len(newest) < limit; i-- {
		m := s.messages[i]
		if m.ChatID != chatID || m.Archived {
			continue
		}
		newest = append(newest, m)
	}

	out := make([]models.ChatMessage, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		out = append(out, newest[i])
	}
	return out, nil
}

func (s *MemoryStore) GetChatRoundCount(_ context.Context, chatID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, m := range s.messages {
		if m.ChatID == chatID && m.RoundNumber > max {
			max = m.RoundNumber
		}
	}
	return max, nil
}

func (s *MemoryStore) GetChatMessagesByRounds(_ context.Context, chatID string, startRound, endRound int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChatMessage
	for _, m := range s.messages {
		if m.ChatID == chatID && m.RoundNumber >= startRound && m.RoundNumber <= endRound {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) ArchiveChatMessages(_ context.Context, chatID string, startRound, endRound int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		m := &s.messages[i]
		if m.ChatID == chatID && !m.IsSummary &&
			m.RoundNumber >= startRound && m.RoundNumber <= endRound {
			m.Archived = true
		}
	}
	return nil
}

func (s *MemoryStore) SaveAnalysisRecord(_ context.Context, rec *models.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) GetAnalysisRecords(_ context.Context, dataType, agentName string, limit int) ([]models.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AnalysisRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if dataType != "" && r.DataType != dataType {
			continue
		}
		if agentName != "" && r.AgentName != agentName {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) SaveMarketData(_ context.Context, rec *models.MarketDataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CollectedAt.IsZero() {
		rec.CollectedAt = time.Now()
	}
	s.market = append(s.market, *rec)
	return nil
}

func (s *MemoryStore) SaveTriggerEvent(_ context.Context, ev *models.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.FiredAt.IsZero() {
		ev.FiredAt = time.Now()
	}
	s.triggers = append(s.triggers, *ev)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
