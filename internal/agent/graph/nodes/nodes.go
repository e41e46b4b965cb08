package nodes

import (
	"context"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/analysis"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/escalation"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/retrieval"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/synthesis"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// NewLoadHistoryNode hydrates the conversation history and the human-handling flag.
// Storage errors degrade to an empty history and automated handling.
func NewLoadHistoryNode(mm *conversations.MessagesManager, handling model.HandlingRepository) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		out := in.Clone()
		log := logx.Component("load_history").With().
			Str("conversation_id", in.ConversationID).
			Str("turn_id", in.TurnID).
			Logger()

		if mm != nil {
			turns, err := mm.LoadRecent(ctx, in.ConversationID)
			if err != nil {
				log.Warn().Err(err).Msg("failed to load history, continuing without it")
			} else {
				out.ConversationHistory = append([]model.Turn{}, turns...)
				out.MemoryLoaded = true
			}
		}
		if handling != nil && in.ConversationID != "" {
			on, err := handling.IsHumanHandling(ctx, in.ConversationID)
			if err != nil {
				log.Warn().Err(err).Msg("failed to read handling status, assuming automated")
			}
			out.HumanHandling = on
		}
		if out.HumanHandling {
			log.Info().Msg("conversation is handled by an operator, skipping generation")
		}
		return out, nil
	}
}

func NewAnalysisNode(a *analysis.Analyzer) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		return a.Analyze(ctx, in), nil
	}
}

// AnalysisFallback applies the default analysis.
func AnalysisFallback(in *model.ConversationState, _ error) *model.ConversationState {
	return analysis.Default(in)
}

func NewEscalationNode(d *escalation.Detector) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		return d.Check(ctx, in), nil
	}
}

func NewRetrievalNode(s *retrieval.Searcher) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		return s.Search(ctx, in), nil
	}
}

// RetrievalFallback records an attempted search with nothing found.
func RetrievalFallback(in *model.ConversationState, _ error) *model.ConversationState {
	out := in.Clone()
	out.SearchPerformed = true
	out.SearchResults = []model.SearchResult{}
	out.DataFound = false
	return out
}

func NewSynthesisNode(s *synthesis.Synthesizer) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		return s.Synthesize(ctx, in), nil
	}
}

// SynthesisFallback returns the generic apology of s.
func SynthesisFallback(s *synthesis.Synthesizer) Fallback {
	return func(in *model.ConversationState, _ error) *model.ConversationState {
		return s.Default(in)
	}
}

// NewPersistHistoryNode stores the user turn and the reply. A failed write leaves
// memory_updated false and does not affect the reply.
func NewPersistHistoryNode(mm *conversations.MessagesManager) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		out := in.Clone()
		if mm == nil || in.ConversationID == "" {
			return out, nil
		}
		if err := mm.SaveTurns(ctx, in); err != nil {
			logx.Warn().
				Err(err).
				Str("conversation_id", in.ConversationID).
				Str("turn_id", in.TurnID).
				Msg("failed to persist turn")
			return out, nil
		}
		out.MemoryUpdated = true
		return out, nil
	}
}
