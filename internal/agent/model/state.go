package model

import (
	"time"

	"github.com/google/uuid"
)

// Inbound is what the messaging adapter hands the pipeline for one message.
type Inbound struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`
	Message        string `json:"message"`
}

// ConversationState is threaded through every stage of one turn.
// Stages return an updated Clone and never drop fields set by earlier stages.
// A state is never shared between turns.
type ConversationState struct {
	TurnID         string `json:"turn_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`

	UserMessage string `json:"user_message"`

	DetectedLanguage   Language       `json:"detected_language"`
	SearchTerms        []string       `json:"search_terms"`
	SearchNamespace    Namespace      `json:"search_namespace,omitempty"`
	ResponseStrategy   Strategy       `json:"response_strategy"`
	AnalysisConfidence float64        `json:"analysis_confidence"`
	AnalysisSource     AnalysisSource `json:"analysis_source,omitempty"`

	SearchResults   []SearchResult `json:"search_results"`
	DataFound       bool           `json:"data_found"`
	SearchPerformed bool           `json:"search_performed"`

	RequiresHuman      bool     `json:"requires_human"`
	HumanHandling      bool     `json:"human_handling"`
	EscalationReason   string   `json:"escalation_reason,omitempty"`
	EscalationUrgency  Urgency  `json:"escalation_urgency,omitempty"`
	EscalationTriggers []string `json:"escalation_triggers,omitempty"`

	Response          string   `json:"response"`
	ResponseLanguage  Language `json:"response_language,omitempty"`
	ResponseGenerated bool     `json:"response_generated"`
	ResponseQuality   Quality  `json:"response_quality,omitempty"`

	ConversationHistory []Turn `json:"conversation_history"`
	MemoryLoaded        bool   `json:"memory_loaded"`
	MemoryUpdated       bool   `json:"memory_updated"`

	StagePath []string `json:"stage_path,omitempty"`
}

// NewConversationState builds the fresh state for one inbound message.
func NewConversationState(in Inbound) *ConversationState {
	return &ConversationState{
		TurnID:              uuid.NewString(),
		UserID:              in.UserID,
		ConversationID:      in.ConversationID,
		Platform:            in.Platform,
		UserMessage:         in.Message,
		DetectedLanguage:    LanguageEnglish,
		SearchTerms:         []string{},
		ResponseStrategy:    StrategyPoliteFallback,
		AnalysisConfidence:  0.5,
		SearchResults:       []SearchResult{},
		ConversationHistory: []Turn{},
	}
}

// Clone returns a copy whose slices can be modified without touching s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.SearchTerms = append([]string(nil), s.SearchTerms...)
	c.EscalationTriggers = append([]string(nil), s.EscalationTriggers...)
	c.StagePath = append([]string(nil), s.StagePath...)
	c.ConversationHistory = append([]Turn(nil), s.ConversationHistory...)
	c.SearchResults = make([]SearchResult, len(s.SearchResults))
	for i, r := range s.SearchResults {
		c.SearchResults[i] = r.clone()
	}
	return &c
}

// ReplyLanguage is the language templates and prompts are rendered in; mixed replies use English.
func (s *ConversationState) ReplyLanguage() Language {
	if s.DetectedLanguage == LanguageLocal {
		return LanguageLocal
	}
	return LanguageEnglish
}

// Role of a stored turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one stored message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Confidence is the analysis confidence recorded with user turns.
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClampUnit limits v to [0, 1]; NaN becomes 0.
func ClampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
