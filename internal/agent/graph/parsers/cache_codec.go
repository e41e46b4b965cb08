package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
)

// cachedAnalysis is the canonical form stored in the response cache.
type cachedAnalysis struct {
	Language    string   `json:"user_language"`
	SearchTerms []string `json:"search_terms"`
	Namespace   *string  `json:"search_namespace"`
	Strategy    string   `json:"response_strategy"`
	Confidence  float64  `json:"confidence"`
}

// EncodeCached serializes a validated result for the cache.
func EncodeCached(r *AnalysisResult) (string, error) {
	if r == nil {
		return "", fmt.Errorf("nil analysis result")
	}
	c := cachedAnalysis{
		Language:    string(r.Language),
		SearchTerms: r.SearchTerms,
		Strategy:    string(r.Strategy),
		Confidence:  r.Confidence,
	}
	if c.SearchTerms == nil {
		c.SearchTerms = []string{}
	}
	if r.Namespace != model.NamespaceNone {
		ns := string(r.Namespace)
		c.Namespace = &ns
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeCached is strict: any unknown field, wrong type or invalid enum rejects the entry.
func DecodeCached(s string) (*AnalysisResult, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	var c cachedAnalysis
	if err := dec.Decode(&c); err != nil {
		return nil, errx.New(err, errx.KindMalformed, "cached analysis")
	}

	lang, ok := model.ParseLanguage(c.Language)
	if !ok || string(lang) != c.Language {
		return nil, errx.New(fmt.Errorf("language %q", c.Language), errx.KindMalformed, "cached analysis")
	}
	strategy, ok := model.ParseStrategy(c.Strategy)
	if !ok || string(strategy) != c.Strategy {
		return nil, errx.New(fmt.Errorf("strategy %q", c.Strategy), errx.KindMalformed, "cached analysis")
	}
	ns := model.NamespaceNone
	if c.Namespace != nil {
		if ns, ok = model.ParseNamespace(*c.Namespace); !ok {
			return nil, errx.New(fmt.Errorf("namespace %q", *c.Namespace), errx.KindMalformed, "cached analysis")
		}
	}
	if ns == model.NamespaceNone && strategy != model.StrategyDirectAnswer {
		return nil, errx.New(fmt.Errorf("namespace missing for %s", strategy), errx.KindMalformed, "cached analysis")
	}
	if c.Confidence < 0 || c.Confidence > 1 || c.Confidence != c.Confidence {
		return nil, errx.New(fmt.Errorf("confidence %v", c.Confidence), errx.KindMalformed, "cached analysis")
	}
	if c.SearchTerms == nil {
		return nil, errx.New(fmt.Errorf("search_terms missing"), errx.KindMalformed, "cached analysis")
	}

	return &AnalysisResult{
		Language:    lang,
		SearchTerms: c.SearchTerms,
		Namespace:   ns,
		Strategy:    strategy,
		Confidence:  c.Confidence,
	}, nil
}
