package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/resilience"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

const (
	cacheName = "response"

	// HighQualityScore is the top relevance above which a grounded answer is graded high.
	HighQualityScore = 0.7
)

// Completer is the inference call the synthesizer needs; *resilience.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req resilience.Request) (string, error)
}

// Synthesizer produces the reply of a turn.
type Synthesizer struct {
	llm     Completer
	cache   resilience.Cache
	rules   *rules.Tables
	cfg     model.ResponseConfig
	metrics *metrics.Metrics
}

type Option func(*Synthesizer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// New builds a Synthesizer. A nil llm answers search turns with fallbacks only.
func New(llm Completer, cache resilience.Cache, tables *rules.Tables, cfg model.ResponseConfig, opts ...Option) *Synthesizer {
	if tables == nil {
		tables = rules.Default()
	}
	if cfg.ContextResults <= 0 {
		cfg.ContextResults = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.LocalMaxChars <= 0 {
		cfg.LocalMaxChars = 300
	}
	s := &Synthesizer{llm: llm, cache: cache, rules: tables, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type reply struct {
	text    string
	quality model.Quality
}

// Synthesize returns a copy of state with the reply fields set.
func (s *Synthesizer) Synthesize(ctx context.Context, state *model.ConversationState) *model.ConversationState {
	lang := state.ReplyLanguage()
	t := &turn{
		s:     s,
		ctx:   ctx,
		state: state,
		lang:  lang,
		tpl:   s.rules.Response.TemplatesFor(lang),
		log: logx.Component("synthesis").With().
			Str("conversation_id", state.ConversationID).
			Str("turn_id", state.TurnID).
			Logger(),
	}
	r := model.DispatchStrategy[reply](state.ResponseStrategy, t)
	if strings.TrimSpace(r.text) == "" {
		r = t.generic()
	}
	return s.finish(state, r)
}

// Default is the reply used when the stage itself fails.
func (s *Synthesizer) Default(state *model.ConversationState) *model.ConversationState {
	lang := state.ReplyLanguage()
	tpl := s.rules.Response.TemplatesFor(lang)
	return s.finish(state, reply{text: s.render(tpl.Fallback), quality: model.QualityFallback})
}

func (s *Synthesizer) finish(state *model.ConversationState, r reply) *model.ConversationState {
	out := state.Clone()
	lang := state.ReplyLanguage()
	text := Clean(r.text)
	if lang == model.LanguageLocal {
		text = Polish(text, s.rules.Response.Forbidden.For(model.LanguageLocal), s.cfg.LocalMaxChars)
	}
	if state.RequiresHuman {
		if note := s.render(s.rules.Response.TemplatesFor(lang).EscalationNote); note != "" {
			text = AppendNote(text, note)
		}
	}
	out.Response = text
	out.ResponseLanguage = lang
	out.ResponseGenerated = true
	out.ResponseQuality = r.quality
	return out
}

func (s *Synthesizer) render(template string) string {
	return strings.NewReplacer(
		"{business_name}", s.cfg.BusinessName,
		"{contact_phone}", s.cfg.ContactPhone,
	).Replace(template)
}

// turn is the per-turn strategy handler.
type turn struct {
	s     *Synthesizer
	ctx   context.Context
	state *model.ConversationState
	lang  model.Language
	tpl   rules.Templates
	log   zerolog.Logger
}

var _ model.StrategyHandler[reply] = (*turn)(nil)

// DirectAnswer picks a canned reply by keyword without calling the model.
func (t *turn) DirectAnswer() reply {
	resp := t.s.rules.Response
	msg := t.state.UserMessage
	text := t.tpl.Greeting
	switch {
	case rules.ContainsAny(msg, resp.Greeting.All()):
	case rules.ContainsAny(msg, resp.Farewell.All()):
		text = t.tpl.Goodbye
	case rules.ContainsAny(msg, resp.Thanks.All()):
		text = t.tpl.Thanks
	}
	return reply{text: t.s.render(text), quality: model.QualityHigh}
}

func (t *turn) SearchAndAnswer() reply {
	if !t.state.DataFound || len(t.state.SearchResults) == 0 {
		t.log.Debug().Msg("no knowledge found, using fallback")
		return t.contextual()
	}

	results := t.state.SearchResults
	if len(results) > t.s.cfg.ContextResults {
		results = results[:t.s.cfg.ContextResults]
	}
	kb := FormatContext(results)

	text, err := t.answer(kb)
	if err != nil {
		ev := t.log.Warn().Err(err)
		if errors.Is(err, errx.ErrQuotaExceeded) || errors.Is(err, errx.ErrCircuitOpen) {
			ev = t.log.Info().Err(err)
		}
		ev.Str("kind", string(errx.KindOf(err))).Msg("grounded answer unavailable, using fallback")
		return t.contextual()
	}

	quality := model.QualityMedium
	if results[0].RelevanceScore >= HighQualityScore {
		quality = model.QualityHigh
	}
	return reply{text: text, quality: quality}
}

// PoliteFallback is the generic apology with the contact number.
func (t *turn) PoliteFallback() reply {
	return t.generic()
}

func (t *turn) generic() reply {
	return reply{text: t.s.render(t.tpl.Fallback), quality: model.QualityFallback}
}

// contextual returns the waiting or repeat reply when the message fits one of those
// buckets, else the generic apology.
func (t *turn) contextual() reply {
	resp := t.s.rules.Response
	msg := t.state.UserMessage
	var text string
	switch {
	case rules.ContainsAny(msg, resp.Waiting.All()):
		text = t.tpl.Waiting
	case rules.ContainsAny(msg, resp.Repeat.All()):
		text = t.tpl.Repeat
	}
	if text == "" {
		return t.generic()
	}
	return reply{text: t.s.render(text), quality: model.QualityLow}
}

// answer asks the model for a reply grounded on kb; NOT_FOUND and empty
// replies are reported as malformed.
func (t *turn) answer(kb string) (string, error) {
	key := resilience.CacheKey(cacheName, t.state.UserMessage, kb, string(t.lang))
	if t.s.cache != nil {
		if v, ok := t.s.cache.Get(t.ctx, key); ok && strings.TrimSpace(v) != "" {
			t.s.metrics.ObserveCache(cacheName, true)
			return v, nil
		}
		t.s.metrics.ObserveCache(cacheName, false)
	}
	if t.s.llm == nil {
		return "", errx.New(errors.New("no inference client"), errx.KindUnavailable, "response")
	}

	msgs, err := prompts.RenderResponse(t.ctx, prompts.ResponseVars{
		BusinessName: t.s.cfg.BusinessName,
		UserMessage:  t.state.UserMessage,
		Language:     string(t.lang),
		Context:      kb,
	})
	if err != nil {
		return "", errx.New(err, errx.KindInternal, "response prompt")
	}
	content, err := t.s.llm.Complete(t.ctx, resilience.Request{
		Messages:    msgs,
		Model:       t.s.cfg.Model,
		Temperature: t.s.cfg.Temperature,
		MaxTokens:   t.s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	text := Clean(content)
	if text == "" || isNotFound(text) {
		return "", errx.New(fmt.Errorf("reply %q", truncate(text, 40)), errx.KindMalformed, "no grounded answer")
	}
	if t.s.cache != nil {
		t.s.cache.Set(t.ctx, key, text, t.s.cfg.CacheTTL)
	}
	return text, nil
}

func isNotFound(text string) bool {
	return strings.EqualFold(strings.Trim(text, " .\"'`"), prompts.NotFound)
}
