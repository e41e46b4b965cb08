package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// Trigger names one escalation signal.
type Trigger string

// Triggers in dominance order: the first one present supplies the reason.
const (
	TriggerLowConfidencePattern Trigger = "low_confidence_pattern"
	TriggerHumanRequest         Trigger = "human_request"
	TriggerComplaint            Trigger = "complaint"
	TriggerUrgent               Trigger = "urgent"
	TriggerEmotion              Trigger = "emotion"
	TriggerLongNegative         Trigger = "long_negative"
	TriggerLowConfidence        Trigger = "low_confidence"
)

var dominance = []Trigger{
	TriggerLowConfidencePattern,
	TriggerHumanRequest,
	TriggerComplaint,
	TriggerUrgent,
	TriggerEmotion,
	TriggerLongNegative,
	TriggerLowConfidence,
}

var urgencyOf = map[Trigger]model.Urgency{
	TriggerLowConfidencePattern: model.UrgencyMedium,
	TriggerHumanRequest:         model.UrgencyHigh,
	TriggerComplaint:            model.UrgencyMedium,
	TriggerUrgent:               model.UrgencyHigh,
	TriggerEmotion:              model.UrgencyMedium,
	TriggerLongNegative:         model.UrgencyMedium,
	TriggerLowConfidence:        model.UrgencyLow,
}

// Decision is the outcome of one escalation check.
type Decision struct {
	Escalate bool
	Reason   string
	Urgency  model.Urgency
	Triggers []Trigger
}

// Input is what a check looks at.
type Input struct {
	Message    string
	Language   model.Language
	Confidence float64
	History    []model.Turn
}

// Detector evaluates the escalation triggers for a turn.
type Detector struct {
	rules    *rules.Tables
	cfg      model.EscalationConfig
	recorder model.HandlingRepository
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Detector)

// WithRecorder stores every escalation through the handling collaborator.
func WithRecorder(r model.HandlingRepository) Option {
	return func(d *Detector) { d.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

func New(tables *rules.Tables, cfg model.EscalationConfig, opts ...Option) *Detector {
	if tables == nil {
		tables = rules.Default()
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = 0.3
	}
	if cfg.HistoryConfidence <= 0 {
		cfg.HistoryConfidence = 0.5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 3
	}
	if cfg.PatternTurns <= 0 {
		cfg.PatternTurns = 2
	}
	if cfg.LongMessageWords <= 0 {
		cfg.LongMessageWords = 10
	}
	d := &Detector{rules: tables, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate runs every trigger against in.
func (d *Detector) Evaluate(in Input) Decision {
	esc := d.rules.Escalation
	lang := in.Language
	if d.rules.HasScript(in.Message) && lang != model.LanguageMixed {
		lang = model.LanguageLocal
	}
	// keyword lists of both languages apply to mixed text
	phrases := func(p rules.Phrases) []string {
		if lang == model.LanguageEnglish {
			return p.For(lang)
		}
		return p.All()
	}

	found := map[Trigger]bool{}
	found[TriggerHumanRequest] = rules.ContainsAny(in.Message, phrases(esc.HumanRequest))
	found[TriggerComplaint] = rules.ContainsAny(in.Message, phrases(esc.Complaint))
	found[TriggerUrgent] = rules.ContainsAny(in.Message, phrases(esc.Urgent))
	found[TriggerEmotion] = rules.ContainsAny(in.Message, phrases(esc.Emotion))
	// long negative messages only count for local-language text
	found[TriggerLongNegative] = lang != model.LanguageEnglish &&
		len(strings.Fields(in.Message)) > d.cfg.LongMessageWords &&
		rules.ContainsAny(in.Message, esc.Negative.For(model.LanguageLocal))

	// simple local-language questions often contain words from the emotion and
	// negative lists; only explicit requests and complaints count for them
	if lang != model.LanguageEnglish && !found[TriggerHumanRequest] && !found[TriggerComplaint] &&
		rules.ContainsAny(in.Message, esc.SimpleQuery.All()) {
		found[TriggerUrgent] = false
		found[TriggerEmotion] = false
		found[TriggerLongNegative] = false
	}

	found[TriggerLowConfidence] = in.Confidence < d.cfg.LowConfidence
	found[TriggerLowConfidencePattern] = d.lowConfidencePattern(in.History)

	var dec Decision
	for _, t := range dominance {
		if !found[t] {
			continue
		}
		dec.Triggers = append(dec.Triggers, t)
		dec.Urgency = dec.Urgency.Max(urgencyOf[t])
		if dec.Reason == "" {
			dec.Reason = d.reason(t, in.Confidence)
		}
	}
	dec.Escalate = len(dec.Triggers) > 0
	return dec
}

func (d *Detector) lowConfidencePattern(history []model.Turn) bool {
	low := 0
	for _, c := range conversations.UserConfidences(history, d.cfg.HistoryWindow) {
		if c < d.cfg.HistoryConfidence {
			low++
		}
	}
	return low >= d.cfg.PatternTurns
}

func (d *Detector) reason(t Trigger, confidence float64) string {
	switch t {
	case TriggerLowConfidencePattern:
		return fmt.Sprintf("Repeated low confidence in recent turns (below %.2f)", d.cfg.HistoryConfidence)
	case TriggerHumanRequest:
		return "User requested human assistance"
	case TriggerComplaint:
		return "User reported a complaint or problem"
	case TriggerUrgent:
		return "User marked the request as urgent"
	case TriggerEmotion:
		return "User expressed negative emotion"
	case TriggerLongNegative:
		return "Long message with negative sentiment"
	case TriggerLowConfidence:
		return fmt.Sprintf("Low confidence in analysis (%.2f)", confidence)
	}
	return string(t)
}

// Check returns a copy of state with the escalation fields set.
func (d *Detector) Check(ctx context.Context, state *model.ConversationState) *model.ConversationState {
	out := state.Clone()
	dec := d.Evaluate(Input{
		Message:    state.UserMessage,
		Language:   state.DetectedLanguage,
		Confidence: state.AnalysisConfidence,
		History:    state.ConversationHistory,
	})

	out.RequiresHuman = dec.Escalate
	out.EscalationTriggers = nil
	if !dec.Escalate {
		out.EscalationReason = ""
		out.EscalationUrgency = ""
		return out
	}
	out.EscalationReason = dec.Reason
	out.EscalationUrgency = dec.Urgency
	for _, t := range dec.Triggers {
		out.EscalationTriggers = append(out.EscalationTriggers, string(t))
	}

	d.metrics.ObserveEscalation(string(dec.Urgency))
	logx.Info().
		Str("conversation_id", state.ConversationID).
		Str("turn_id", state.TurnID).
		Str("reason", dec.Reason).
		Str("urgency", string(dec.Urgency)).
		Strs("triggers", out.EscalationTriggers).
		Msg("turn escalated")

	if d.recorder != nil && state.ConversationID != "" {
		err := d.recorder.RecordEscalation(ctx, state.ConversationID, model.Escalation{
			TurnID:   state.TurnID,
			Reason:   dec.Reason,
			Urgency:  dec.Urgency,
			Triggers: out.EscalationTriggers,
			At:       d.now().UTC(),
		})
		if err != nil {
			logx.Warn().Err(err).Str("conversation_id", state.ConversationID).Msg("failed to record escalation")
		}
	}
	return out
}
