package models

import "time"

// Chat message roles. These match what the LLM providers expect, so session
// history can be replayed into a completion request without any mapping.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Analysis record data types. Persisted verbatim so records can be queried
// back by kind (e.g. the trader analyst loads recent comprehensive records).
const (
	DataTypeTechnical       = "technical_analysis"
	DataTypeMarketSentiment = "market_sentiment_analysis"
	DataTypeFundamental     = "fundamental_analysis"
	DataTypeMacro           = "macro_analysis"
	DataTypeComprehensive   = "comprehensive_analysis"
	DataTypeTrading         = "trading_analysis"
)

// Candle is a single kline row. Timestamps are monotone non-decreasing
// within a series returned by the market data collector.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ChatMessage is one persisted row of a per-chat conversation log.
//
// RoundNumber groups a user message with the assistant reply that answers
// it. Summary rows are written by the session compressor with IsSummary set
// and the originals flipped to Archived rather than deleted.
type ChatMessage struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	RoundNumber int       `json:"round_number"`
	IsSummary   bool      `json:"is_summary"`
	Metadata    string    `json:"metadata,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnalysisRecord is a persisted analyst output. It serves both as audit
// trail and as the "recent history" feed for the trader analyst.
type AnalysisRecord struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Symbol    string    `json:"symbol,omitempty"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary,omitempty"`
	DataType  string    `json:"data_type"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketDataRecord is a raw market data snapshot kept for later inspection.
// Payload is the collector output re-encoded as JSON.
type MarketDataRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol,omitempty"`
	DataType    string    `json:"data_type"`
	Payload     string    `json:"payload"`
	CollectedAt time.Time `json:"collected_at"`
}

// TriggerEvent records one firing of a scheduled or manual trigger.
type TriggerEvent struct {
	ID          string    `json:"id"`
	TriggerType string    `json:"trigger_type"`
	Symbol      string    `json:"symbol,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	FiredAt     time.Time `json:"fired_at"`
}
