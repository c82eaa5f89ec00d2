// Package store persists chat history, analysis records, market data
// snapshots and trigger events. PostgresStore is the production
// implementation; MemoryStore backs tests and database-less deployments.
package store

import (
	"context"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// Store is the persistence contract shared by the session manager, the
// controller and the scheduler.
//
// Chat history semantics: GetChatHistory returns at most limit non-archived
// rows in chronological order. GetChatMessagesByRounds returns rows of the
// inclusive round range regardless of archived state, so callers can
// observe the effect of compression. ArchiveChatMessages flips the archived
// flag on non-summary rows of the range and never deletes.
type Store interface {
	SaveChatMessage(ctx context.Context, msg *models.ChatMessage) error
	GetChatHistory(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error)
	GetChatRoundCount(ctx context.Context, chatID string) (int, error)
	GetChatMessagesByRounds(ctx context.Context, chatID string, startRound, endRound int) ([]models.ChatMessage, error)
	ArchiveChatMessages(ctx context.Context, chatID string, startRound, endRound int) error

	SaveAnalysisRecord(ctx context.Context, rec *models.AnalysisRecord) error
	GetAnalysisRecords(ctx context.Context, dataType, agentName string, limit int) ([]models.AnalysisRecord, error)

	SaveMarketData(ctx context.Context, rec *models.MarketDataRecord) error
	SaveTriggerEvent(ctx context.Context, ev *models.TriggerEvent) error

	Close()
}
