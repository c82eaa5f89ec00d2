package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects, tunes the pool, verifies the connection and runs
// the schema migrations.
func NewPostgres(ctx context.Context, cfg Config, logger zerolog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			round_number INT NOT NULL DEFAULT 0,
			is_summary BOOLEAN NOT NULL DEFAULT FALSE,
			metadata TEXT NOT NULL DEFAULT '',
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_round
			ON chat_messages (chat_id, round_number)`,
		`CREATE TABLE IF NOT EXISTS analysis_records (
			id UUID PRIMARY KEY,
			agent_name TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_records_type_time
			ON analysis_records (data_type, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			collected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_events (
			id UUID PRIMARY KEY,
			trigger_type TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			fired_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info().Msg("database connection closed")
	}
}

// ==================== CHAT MESSAGES ====================

func (s *PostgresStore) SaveChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (chat_id, role, content, round_number, is_summary, metadata, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return s.pool.QueryRow(
		ctx, query,
		msg.ChatID, msg.Role, msg.Content, msg.RoundNumber, msg.IsSummary, msg.Metadata, msg.Archived,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (s *PostgresStore) GetChatHistory(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT id, chat_id, role, content, round_number, is_summary, metadata, archived, created_at
		FROM chat_messages
		WHERE chat_id = $1 AND archived = FALSE
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.RoundNumber,
			&m.IsSummary, &m.Metadata, &m.Archived, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) GetChatRoundCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(round_number), 0) FROM chat_messages WHERE chat_id = $1`,
		chatID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query round count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetChatMessagesByRounds(ctx context.Context, chatID string, startRound, endRound int) ([]models.ChatMessage, error) {
	query := `
		SELECT id, chat_id, role, content, round_number, is_summary, metadata, archived, created_at
		FROM chat_messages
		WHERE chat_id = $1 AND round_number BETWEEN $2 AND $3
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, chatID, startRound, endRound)
	if err != nil {
		return nil, fmt.Errorf("query chat messages by rounds: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.RoundNumber,
			&m.IsSummary, &m.Metadata, &m.Archived, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) ArchiveChatMessages(ctx context.Context, chatID string, startRound, endRound int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET archived = TRUE
		WHERE chat_id = $1 AND round_number BETWEEN $2 AND $3 AND is_summary = FALSE
	`, chatID, startRound, endRound)
	return err
}

// ==================== ANALYSIS RECORDS ====================

func (s *PostgresStore) SaveAnalysisRecord(ctx context.Context, rec *models.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
		INSERT INTO analysis_records (id, agent_name, symbol, content, summary, data_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return s.pool.QueryRow(
		ctx, query,
		rec.ID, rec.AgentName, rec.Symbol, rec.Content, rec.Summary, rec.DataType,
	).Scan(&rec.CreatedAt)
}

func (s *PostgresStore) GetAnalysisRecords(ctx context.Context, dataType, agentName string, limit int) ([]models.AnalysisRecord, error) {
	query := `
		SELECT id, agent_name, symbol, content, summary, data_type, created_at
		FROM analysis_records
		WHERE ($1 = '' OR data_type = $1)
		  AND ($2 = '' OR agent_name = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, dataType, agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("query analysis records: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		if err := rows.Scan(&r.ID, &r.AgentName, &r.Symbol, &r.Content, &r.Summary,
			&r.DataType, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ==================== MARKET DATA & TRIGGERS ====================

func (s *PostgresStore) SaveMarketData(ctx context.Context, rec *models.MarketDataRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
		INSERT INTO market_data (id, symbol, data_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING collected_at
	`
	return s.pool.QueryRow(ctx, query, rec.ID, rec.Symbol, rec.DataType, rec.Payload).
		Scan(&rec.CollectedAt)
}

func (s *PostgresStore) SaveTriggerEvent(ctx context.Context, ev *models.TriggerEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	query := `
		INSERT INTO trigger_events (id, trigger_type, symbol, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING fired_at
	`
	return s.pool.QueryRow(ctx, query, ev.ID, ev.TriggerType, ev.Symbol, ev.Detail).
		Scan(&ev.FiredAt)
}
