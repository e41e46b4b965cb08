package retrieval

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// Embedder turns the query text into a vector; *resilience.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// pass is one lookup of the cascade.
type pass struct {
	namespace model.Namespace
	topK      int
	minScore  float64
}

// Searcher runs the namespaced lookup cascade for a turn.
type Searcher struct {
	embedder     Embedder
	index        model.VectorIndex
	rules        *rules.Tables
	cfg          model.RetrievalConfig
	queryTimeout time.Duration
	metrics      *metrics.Metrics
}

type Option func(*Searcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// WithQueryTimeout bounds each vector index query.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.queryTimeout = d }
}

func New(embedder Embedder, index model.VectorIndex, tables *rules.Tables, cfg model.RetrievalConfig, opts ...Option) *Searcher {
	if tables == nil {
		tables = rules.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.FAQTopK <= 0 {
		cfg.FAQTopK = 3
	}
	if cfg.SweepTopK <= 0 {
		cfg.SweepTopK = 3
	}
	s := &Searcher{embedder: embedder, index: index, rules: tables, cfg: cfg, queryTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns a copy of state with search results. Failures yield no results.
func (s *Searcher) Search(ctx context.Context, state *model.ConversationState) *model.ConversationState {
	out := state.Clone()
	out.SearchPerformed = true
	out.SearchResults = []model.SearchResult{}
	out.DataFound = false

	log := logx.Component("retrieval").With().
		Str("conversation_id", state.ConversationID).
		Str("turn_id", state.TurnID).
		Logger()

	primary := state.SearchNamespace
	if primary == model.NamespaceNone {
		primary = s.rules.NamespaceFor(state.UserMessage + " " + strings.Join(state.SearchTerms, " "))
		out.SearchNamespace = primary
	}

	if s.embedder == nil || s.index == nil {
		log.Warn().Msg("retrieval is not configured, returning no results")
		return out
	}

	text := strings.TrimSpace(strings.Join(state.SearchTerms, " "))
	if text == "" {
		text = strings.TrimSpace(state.UserMessage)
	}
	if text == "" {
		return out
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed, returning no results")
		return out
	}

	results := s.cascade(ctx, log, vec, primary)
	out.SearchResults = results
	out.DataFound = len(results) > 0
	log.Debug().
		Str("namespace", string(primary)).
		Int("results", len(results)).
		Msg("retrieval complete")
	return out
}

// cascade queries the primary namespace, then faq, then sweeps the rest.
func (s *Searcher) cascade(ctx context.Context, log zerolog.Logger, vec []float64, primary model.Namespace) []model.SearchResult {
	tried := map[model.Namespace]bool{primary: true}
	results := s.run(ctx, log, vec, pass{primary, s.cfg.TopK, s.cfg.MinScore})
	if len(results) > 0 {
		return finalize(results)
	}

	if primary != model.NamespaceFAQ {
		tried[model.NamespaceFAQ] = true
		log.Debug().Str("namespace", string(primary)).Msg("no results in primary namespace, trying faq")
		results = s.run(ctx, log, vec, pass{model.NamespaceFAQ, s.cfg.FAQTopK, s.cfg.FAQMinScore})
		if len(results) > 0 {
			return finalize(results)
		}
	}

	for _, ns := range model.SweepOrder {
		if tried[ns] {
			continue
		}
		results = append(results, s.run(ctx, log, vec, pass{ns, s.cfg.SweepTopK, s.cfg.SweepMinScore})...)
	}
	if len(results) > 0 {
		log.Debug().Int("results", len(results)).Msg("cross-namespace sweep found results")
	}
	return finalize(results)
}

func (s *Searcher) run(ctx context.Context, log zerolog.Logger, vec []float64, p pass) []model.SearchResult {
	qctx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}
	matches, err := s.index.Query(qctx, model.VectorQuery{
		Vector:          vec,
		Namespace:       p.namespace,
		TopK:            p.topK,
		IncludeMetadata: true,
	})
	if err != nil {
		log.Warn().Err(err).Str("namespace", string(p.namespace)).Msg("vector query failed")
		return nil
	}

	results := make([]model.SearchResult, 0, len(matches))
	for _, m := range matches {
		score := model.ClampUnit(m.Score)
		if score < p.minScore {
			continue
		}
		content := ExtractContent(p.namespace, m.Metadata)
		if content == "" {
			continue
		}
		results = append(results, model.SearchResult{
			ID:             m.ID,
			Content:        content,
			Metadata:       m.Metadata,
			Namespace:      p.namespace,
			RelevanceScore: score,
			Language:       ContentLanguage(s.rules, content),
		})
	}
	s.metrics.ObserveSearch(string(p.namespace), len(results))
	return results
}

// finalize drops duplicate ids, keeping the best score, and sorts by score.
func finalize(results []model.SearchResult) []model.SearchResult {
	best := make(map[string]int, len(results))
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		key := r.ID
		if key == "" {
			key = string(r.Namespace) + "\x00" + r.Content
		}
		if i, ok := best[key]; ok {
			if r.RelevanceScore > out[i].RelevanceScore {
				out[i] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b model.SearchResult) int {
		switch {
		case a.RelevanceScore > b.RelevanceScore:
			return -1
		case a.RelevanceScore < b.RelevanceScore:
			return 1
		}
		return 0
	})
	return out
}
