package model

import "strings"

// Language is the detected language of a message or a piece of content.
type Language string

const (
	LanguageEnglish Language = "en"
	// LanguageLocal is the deployment's local language (Burmese).
	LanguageLocal Language = "my"
	LanguageMixed Language = "mixed"
)

// ParseLanguage accepts the wire values plus a few aliases models tend to emit.
func ParseLanguage(v string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "en", "eng", "english":
		return LanguageEnglish, true
	case "my", "mya", "myanmar", "burmese", "local":
		return LanguageLocal, true
	case "mixed":
		return LanguageMixed, true
	}
	return "", false
}

// Namespace is a logical partition of the knowledge index. The empty value means "none".
type Namespace string

const (
	NamespaceNone   Namespace = ""
	NamespaceMenu   Namespace = "menu"
	NamespaceFAQ    Namespace = "faq"
	NamespaceEvents Namespace = "events"
	NamespaceJobs   Namespace = "jobs"
)

// SweepOrder is the fixed priority used when every other lookup came back empty.
var SweepOrder = []Namespace{NamespaceFAQ, NamespaceMenu, NamespaceEvents, NamespaceJobs}

func ParseNamespace(v string) (Namespace, bool) {
	switch ns := Namespace(strings.ToLower(strings.TrimSpace(v))); ns {
	case NamespaceMenu, NamespaceFAQ, NamespaceEvents, NamespaceJobs:
		return ns, true
	}
	return NamespaceNone, false
}

// Strategy is the response-generation mode chosen for a turn.
type Strategy string

const (
	StrategyDirectAnswer    Strategy = "direct_answer"
	StrategySearchAndAnswer Strategy = "search_and_answer"
	StrategyPoliteFallback  Strategy = "polite_fallback"
)

func ParseStrategy(v string) (Strategy, bool) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(v))); s {
	case StrategyDirectAnswer, StrategySearchAndAnswer, StrategyPoliteFallback:
		return s, true
	}
	return "", false
}

// StrategyHandler has one method per Strategy variant. Adding a variant means adding a
// method here, which breaks every handler until it is covered.
type StrategyHandler[T any] interface {
	DirectAnswer() T
	SearchAndAnswer() T
	PoliteFallback() T
}

// DispatchStrategy routes s to the matching handler method. Unknown values are treated
// as polite_fallback.
func DispatchStrategy[T any](s Strategy, h StrategyHandler[T]) T {
	switch s {
	case StrategyDirectAnswer:
		return h.DirectAnswer()
	case StrategySearchAndAnswer:
		return h.SearchAndAnswer()
	default:
		return h.PoliteFallback()
	}
}

// Quality grades the produced reply.
type Quality string

const (
	QualityHigh     Quality = "high"
	QualityMedium   Quality = "medium"
	QualityLow      Quality = "low"
	QualityFallback Quality = "fallback"
)

// Urgency grades an escalation.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// Max returns the more urgent of u and other.
func (u Urgency) Max(other Urgency) Urgency {
	if other.rank() > u.rank() {
		return other
	}
	return u
}

// AnalysisSource records where the analysis fields came from.
type AnalysisSource string

const (
	SourceModel   AnalysisSource = "model"
	SourceCache   AnalysisSource = "cache"
	SourceRules   AnalysisSource = "rules"
	SourceDefault AnalysisSource = "default"
)
