package conversations

import (
	"context"
	"strings"
	"time"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// maxLineRunes bounds one history line in a prompt.
const maxLineRunes = 500

// MessagesManager loads and saves the conversation turns around a pipeline run.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	historyLimit     int
	now              func() time.Time
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	limit := config.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		historyLimit:     limit,
		now:              time.Now,
	}
}

// LoadRecent returns the most recent stored turns, oldest first.
func (cm *MessagesManager) LoadRecent(ctx context.Context, conversationID string) ([]model.Turn, error) {
	if conversationID == "" {
		return []model.Turn{}, nil
	}
	return cm.conversationRepo.LoadHistory(ctx, conversationID, cm.historyLimit)
}

// SaveTurns appends the user message and, when present, the reply. The user turn
// carries the analysis confidence that later drives the low-confidence pattern.
func (cm *MessagesManager) SaveTurns(ctx context.Context, state *model.ConversationState) error {
	now := cm.now().UTC()
	confidence := state.AnalysisConfidence
	if err := cm.conversationRepo.AppendTurn(ctx, state.ConversationID, model.Turn{
		Role:       model.RoleUser,
		Content:    state.UserMessage,
		Confidence: &confidence,
		CreatedAt:  now,
	}); err != nil {
		return err
	}
	if strings.TrimSpace(state.Response) == "" {
		return nil
	}
	if err := cm.conversationRepo.AppendTurn(ctx, state.ConversationID, model.Turn{
		Role:      model.RoleAssistant,
		Content:   state.Response,
		CreatedAt: now,
	}); err != nil {
		logx.Warn().Err(err).Str("conversation_id", state.ConversationID).Msg("user turn saved without reply")
		return err
	}
	return nil
}

// FormatHistory renders the last maxTurns turns as "role: content" lines for a prompt.
func FormatHistory(turns []model.Turn, maxTurns int) string {
	recent := trimTail(turns, maxTurns)
	var b strings.Builder
	for _, t := range recent {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		switch t.Role {
		case model.RoleUser, model.RoleAssistant:
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(truncateRunes(strings.Join(strings.Fields(content), " "), maxLineRunes))
	}
	return b.String()
}

// UserConfidences returns the recorded confidences of the last window user turns, oldest first.
func UserConfidences(turns []model.Turn, window int) []float64 {
	var out []float64
	for i := len(turns) - 1; i >= 0 && len(out) < window; i-- {
		t := turns[i]
		if t.Role != model.RoleUser || t.Confidence == nil {
			continue
		}
		out = append(out, *t.Confidence)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ====================== Helper function ======================
func trimTail(turns []model.Turn, maxTurns int) []model.Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		result := make([]model.Turn, len(turns))
		copy(result, turns)
		return result
	}
	source := turns[len(turns)-maxTurns:]
	result := make([]model.Turn, len(source))
	copy(result, source)
	return result
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
