package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/parsers"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/resilience"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

const (
	cacheName = "analysis"

	// RuleDirectConfidence and RuleSearchConfidence are what the rule classifier reports.
	RuleDirectConfidence = 0.7
	RuleSearchConfidence = 0.3
)

// Completer is the inference call the analyzer needs; *resilience.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req resilience.Request) (string, error)
}

// Analyzer fills the analysis fields of a turn.
type Analyzer struct {
	llm          Completer
	cache        resilience.Cache
	rules        *rules.Tables
	cfg          model.AnalysisConfig
	businessName string
	metrics      *metrics.Metrics
}

type Option func(*Analyzer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

func WithBusinessName(name string) Option {
	return func(a *Analyzer) { a.businessName = name }
}

// New builds an Analyzer. A nil llm always uses the rule classifier; a nil cache disables caching.
func New(llm Completer, cache resilience.Cache, tables *rules.Tables, cfg model.AnalysisConfig, opts ...Option) *Analyzer {
	if tables == nil {
		tables = rules.Default()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	a := &Analyzer{llm: llm, cache: cache, rules: tables, cfg: cfg, businessName: "Cafe Pentagon"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze returns a copy of state with language, search terms, namespace, strategy and
// confidence set. It never fails: inference problems fall back to the rule classifier.
func (a *Analyzer) Analyze(ctx context.Context, state *model.ConversationState) *model.ConversationState {
	out := state.Clone()
	log := logx.Component("analysis").With().
		Str("conversation_id", state.ConversationID).
		Str("turn_id", state.TurnID).
		Logger()

	history := conversations.FormatHistory(state.ConversationHistory, a.cfg.HistoryTurns)
	key := resilience.CacheKey(cacheName, state.UserMessage, history)

	if res, ok := a.cached(ctx, key); ok {
		a.apply(out, res, model.SourceCache)
		log.Debug().Str("strategy", string(out.ResponseStrategy)).Msg("analysis served from cache")
		return out
	}

	res, err := a.infer(ctx, state.UserMessage, history)
	if err != nil {
		ev := log.Warn().Err(err)
		if errors.Is(err, errx.ErrQuotaExceeded) || errors.Is(err, errx.ErrCircuitOpen) {
			ev = log.Info().Err(err)
		}
		ev.Str("kind", string(errx.KindOf(err))).Msg("analysis inference unavailable, using rules")
		a.apply(out, a.Classify(state.UserMessage), model.SourceRules)
		return out
	}
	if len(res.Issues) > 0 {
		log.Debug().Strs("issues", res.Issues).Msg("analysis output repaired with defaults")
	}

	a.normalize(state.UserMessage, res)
	if a.cache != nil {
		if encoded, err := parsers.EncodeCached(res); err == nil {
			a.cache.Set(ctx, key, encoded, a.cfg.CacheTTL)
		}
	}
	a.apply(out, res, model.SourceModel)
	log.Debug().
		Str("language", string(out.DetectedLanguage)).
		Str("namespace", string(out.SearchNamespace)).
		Str("strategy", string(out.ResponseStrategy)).
		Float64("confidence", out.AnalysisConfidence).
		Msg("analysis complete")
	return out
}

func (a *Analyzer) cached(ctx context.Context, key string) (*parsers.AnalysisResult, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, ok := a.cache.Get(ctx, key)
	if !ok {
		a.metrics.ObserveCache(cacheName, false)
		return nil, false
	}
	res, err := parsers.DecodeCached(raw)
	if err != nil {
		logx.Warn().Err(err).Msg("discarding invalid cached analysis")
		a.cache.Delete(ctx, key)
		a.metrics.ObserveCache(cacheName, false)
		return nil, false
	}
	a.metrics.ObserveCache(cacheName, true)
	return res, true
}

func (a *Analyzer) infer(ctx context.Context, message, history string) (*parsers.AnalysisResult, error) {
	if a.llm == nil {
		return nil, errx.New(errors.New("no inference client"), errx.KindUnavailable, "analysis")
	}
	msgs, err := prompts.RenderAnalysis(ctx, prompts.AnalysisVars{
		BusinessName: a.businessName,
		UserMessage:  message,
		History:      history,
	})
	if err != nil {
		return nil, errx.New(err, errx.KindInternal, "analysis prompt")
	}
	content, err := a.llm.Complete(ctx, resilience.Request{
		Messages:    msgs,
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parsers.ParseAnalysis(content)
}

// normalize applies the local rules on top of the model output.
func (a *Analyzer) normalize(message string, res *parsers.AnalysisResult) {
	if a.rules.HasScript(message) {
		res.Language = model.LanguageLocal
	}
	if res.Strategy == model.StrategyDirectAnswer {
		res.Namespace = model.NamespaceNone
		return
	}
	if res.Namespace == model.NamespaceNone {
		res.Namespace = a.rules.NamespaceFor(message)
	}
	if res.Strategy == model.StrategySearchAndAnswer && len(res.SearchTerms) == 0 {
		res.SearchTerms = a.rules.BasicTerms(message)
	}
}

// Classify is the rule-based classifier used when inference is unavailable or its output unusable.
func (a *Analyzer) Classify(message string) *parsers.AnalysisResult {
	lang := a.rules.DetectLanguage(message)
	if a.rules.HasScript(message) {
		lang = model.LanguageLocal
	}
	res := &parsers.AnalysisResult{Language: lang, SearchTerms: []string{}}

	phrases := append(a.rules.Analysis.Greetings.All(), a.rules.Analysis.Farewells.All()...)
	if rules.ContainsAny(message, phrases) {
		res.Strategy = model.StrategyDirectAnswer
		res.Namespace = model.NamespaceNone
		res.Confidence = RuleDirectConfidence
		return res
	}
	res.Strategy = model.StrategySearchAndAnswer
	res.Namespace = model.NamespaceFAQ
	res.SearchTerms = a.rules.BasicTerms(message)
	res.Confidence = RuleSearchConfidence
	return res
}

func (a *Analyzer) apply(s *model.ConversationState, res *parsers.AnalysisResult, source model.AnalysisSource) {
	s.DetectedLanguage = res.Language
	s.SearchTerms = append([]string{}, res.SearchTerms...)
	s.SearchNamespace = res.Namespace
	s.ResponseStrategy = res.Strategy
	s.AnalysisConfidence = model.ClampUnit(res.Confidence)
	s.AnalysisSource = source
}

// Default applies the safe default analysis, used when the stage itself fails.
func Default(state *model.ConversationState) *model.ConversationState {
	out := state.Clone()
	out.DetectedLanguage = model.LanguageEnglish
	out.SearchTerms = []string{}
	out.SearchNamespace = model.NamespaceFAQ
	out.ResponseStrategy = model.StrategyPoliteFallback
	out.AnalysisConfidence = parsers.DefaultConfidence
	out.AnalysisSource = model.SourceDefault
	return out
}
