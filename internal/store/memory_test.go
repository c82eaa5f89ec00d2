package store

import (
	"context"
	"testing"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

func addMsg(t *testing.T, s Store, chatID, role, content string, round int) {
	t.Helper()
	msg := &models.ChatMessage{ChatID: chatID, Role: role, Content: content, RoundNumber: round}
	if err := s.SaveChatMessage(context.Background(), msg); err != nil {
		t.Fatalf("SaveChatMessage: %v", err)
	}
}

func TestMemoryStore_ChatHistoryOrderAndLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	// 1. Three rounds of conversation.
	for i := 1; i <= 3; i++ {
		addMsg(t, s, "chat1", models.RoleUser, "question", i)
		addMsg(t, s, "chat1", models.RoleAssistant, "answer", i)
	}
	// Noise on another chat must not leak in.
	addMsg(t, s, "chat2", models.RoleUser, "other", 1)

	// 2. Full history comes back chronological.
	history, err := s.GetChatHistory(ctx, "chat1", 10)
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("Expected 6 messages, got %d", len(history))
	}
	if history[0].RoundNumber != 1 || history[5].RoundNumber != 3 {
		t.Errorf("History not chronological: first round %d, last round %d",
			history[0].RoundNumber, history[5].RoundNumber)
	}

	// 3. Limit keeps the newest rows, still chronological.
	history, err = s.GetChatHistory(ctx, "chat1", 2)
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("Expected the newest round (user then assistant), got %s/%s",
			history[0].Role, history[1].Role)
	}
	if history[0].RoundNumber != 3 {
		t.Errorf("Expected newest round 3, got %d", history[0].RoundNumber)
	}
}

func TestMemoryStore_ArchiveExcludesFromHistory(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		addMsg(t, s, "chat1", models.RoleUser, "q", i)
		addMsg(t, s, "chat1", models.RoleAssistant, "a", i)
	}

	if err := s.ArchiveChatMessages(ctx, "chat1", 1, 4); err != nil {
		t.Fatalf("ArchiveChatMessages: %v", err)
	}

	// Archived rows disappear from history...
	history, _ := s.GetChatHistory(ctx, "chat1", 100)
	if len(history) != 2 {
		t.Errorf("Expected only round 5 (2 rows) after archive, got %d rows", len(history))
	}

	// ...but remain visible, flagged, through the round query.
	rows, _ := s.GetChatMessagesByRounds(ctx, "chat1", 1, 4)
	if len(rows) != 8 {
		t.Fatalf("Expected 8 rows for rounds 1-4, got %d", len(rows))
	}
	for _, m := range rows {
		if !m.Archived {
			t.Errorf("Round %d %s row not archived", m.RoundNumber, m.Role)
		}
	}

	// Round count is untouched by archiving.
	count, _ := s.GetChatRoundCount(ctx, "chat1")
	if count != 5 {
		t.Errorf("Expected round count 5, got %d", count)
	}
}

func TestMemoryStore_AnalysisRecordFilters(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	save := func(agent, dataType string) {
		rec := &models.AnalysisRecord{AgentName: agent, Content: "report", DataType: dataType}
		if err := s.SaveAnalysisRecord(ctx, rec); err != nil {
			t.Fatalf("SaveAnalysisRecord: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("Expected generated record ID")
		}
	}

	for i := 0; i < 3; i++ {
		save("chief_analyst", models.DataTypeComprehensive)
	}
	save("macro_analyst", models.DataTypeMacro)

	recs, err := s.GetAnalysisRecords(ctx, models.DataTypeComprehensive, "", 2)
	if err != nil {
		t.Fatalf("GetAnalysisRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Expected limit 2 records, got %d", len(recs))
	}

	recs, _ = s.GetAnalysisRecords(ctx, "", "macro_analyst", 10)
	if len(recs) != 1 || recs[0].DataType != models.DataTypeMacro {
		t.Errorf("Agent filter failed: %v", recs)
	}

	recs, _ = s.GetAnalysisRecords(ctx, "", "", 10)
	if len(recs) != 4 {
		t.Errorf("Expected 4 records unfiltered, got %d", len(recs))
	}
}
