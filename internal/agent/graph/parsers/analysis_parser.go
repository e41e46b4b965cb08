package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen  = 64 * 1024
	maxSearchTerms = 10
	maxTermLen     = 200
	maxErrSnippet  = 200
)

// DefaultConfidence is used when the model omits or garbles the confidence.
const DefaultConfidence = 0.5

// AnalysisResult is the validated outcome of one analysis call. Fields the model
// got wrong are replaced with defaults and noted in Issues.
type AnalysisResult struct {
	Language    model.Language
	SearchTerms []string
	Namespace   model.Namespace
	Strategy    model.Strategy
	Confidence  float64
	Issues      []string
}

func defaultResult() *AnalysisResult {
	return &AnalysisResult{
		Language:    model.LanguageEnglish,
		SearchTerms: []string{},
		Namespace:   model.NamespaceNone,
		Strategy:    model.StrategyPoliteFallback,
		Confidence:  DefaultConfidence,
	}
}

type rawAnalysis struct {
	UserLanguage     json.RawMessage `json:"user_language"`
	Language         json.RawMessage `json:"language"`
	SearchTerms      json.RawMessage `json:"search_terms"`
	SearchNamespace  json.RawMessage `json:"search_namespace"`
	ResponseStrategy json.RawMessage `json:"response_strategy"`
	Confidence       json.RawMessage `json:"confidence"`
}

// ParseAnalysis extracts the first JSON object from a model reply and validates it.
// It fails with errx.ErrMalformedOutput only when no JSON object can be decoded at all.
func ParseAnalysis(content string) (res *AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "analysis_parser").Msgf("panic recovered: %v", r)
			res = nil
			err = errx.New(fmt.Errorf("analysis parser panic"), errx.KindMalformed, errx.SystemErrorMessage)
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "analysis_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}

	obj, ok := ExtractJSONObject(StripFences(content))
	if !ok {
		return nil, errx.New(fmt.Errorf("no json object in %q", safeSnippet(content)), errx.KindMalformed, "analysis output")
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, errx.New(err, errx.KindMalformed, "analysis output")
	}

	res = defaultResult()
	note := func(format string, args ...any) {
		res.Issues = append(res.Issues, fmt.Sprintf(format, args...))
	}

	langRaw := raw.UserLanguage
	if len(langRaw) == 0 {
		langRaw = raw.Language
	}
	if s, present := rawString(langRaw); present {
		if lang, ok := model.ParseLanguage(s); ok {
			res.Language = lang
		} else {
			note("invalid language %q", safeSnippet(s))
		}
	}

	if terms, ok := rawTerms(raw.SearchTerms); ok {
		res.SearchTerms = terms
	} else {
		note("invalid search_terms")
	}

	if s, present := rawString(raw.SearchNamespace); present && !isNullWord(s) {
		if ns, ok := model.ParseNamespace(s); ok {
			res.Namespace = ns
		} else {
			note("invalid namespace %q", safeSnippet(s))
		}
	}

	if s, present := rawString(raw.ResponseStrategy); present {
		if st, ok := model.ParseStrategy(s); ok {
			res.Strategy = st
		} else {
			note("invalid strategy %q", safeSnippet(s))
		}
	} else {
		note("missing strategy")
	}

	if len(raw.Confidence) > 0 {
		if c, ok := rawFloat(raw.Confidence); ok {
			res.Confidence = model.ClampUnit(c)
		} else {
			note("invalid confidence")
		}
	}

	if res.Strategy == model.StrategyDirectAnswer {
		res.Namespace = model.NamespaceNone
	}
	return res, nil
}

// StripFences removes markdown code fences around a model reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line ("json")
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the first balanced {...} object in s, skipping braces
// inside JSON strings.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func rawString(r json.RawMessage) (string, bool) {
	r = bytes.TrimSpace(r)
	if len(r) == 0 || bytes.Equal(r, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return string(r), true
	}
	return s, true
}

func rawTerms(r json.RawMessage) ([]string, bool) {
	r = bytes.TrimSpace(r)
	if len(r) == 0 || bytes.Equal(r, []byte("null")) {
		return []string{}, true
	}
	var list []any
	if err := json.Unmarshal(r, &list); err != nil {
		var single string
		if err := json.Unmarshal(r, &single); err != nil {
			return []string{}, false
		}
		list = []any{single}
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || len(s) > maxTermLen || !utf8.ValidString(s) {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxSearchTerms {
			break
		}
	}
	return out, true
}

func rawFloat(r json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return f, !math.IsInf(f, 0)
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isNullWord(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "nil":
		return true
	}
	return false
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
