package model

import (
	"context"
	"time"
)

// ConversationRepository stores the turns of a conversation.
type ConversationRepository interface {
	// AppendTurn adds a turn to the end of the conversation.
	AppendTurn(ctx context.Context, conversationID string, turn Turn) error

	// LoadHistory returns up to limit most recent turns, oldest first. limit <= 0 loads everything.
	LoadHistory(ctx context.Context, conversationID string, limit int) ([]Turn, error)

	// ClearHistory removes all stored turns for a conversation.
	ClearHistory(ctx context.Context, conversationID string) error

	// GetTurnCount returns the number of stored turns.
	GetTurnCount(ctx context.Context, conversationID string) (int, error)
}

// Escalation is recorded when a turn asks for human attention.
type Escalation struct {
	TurnID   string    `json:"turn_id"`
	Reason   string    `json:"reason"`
	Urgency  Urgency   `json:"urgency"`
	Triggers []string  `json:"triggers,omitempty"`
	At       time.Time `json:"at"`
}

// HandlingRepository tracks whether an operator has taken over a conversation.
type HandlingRepository interface {
	IsHumanHandling(ctx context.Context, conversationID string) (bool, error)
	SetHumanHandling(ctx context.Context, conversationID string, on bool) error
	RecordEscalation(ctx context.Context, conversationID string, e Escalation) error
}

// MemoryRepository is the full memory collaborator.
type MemoryRepository interface {
	ConversationRepository
	HandlingRepository
}
