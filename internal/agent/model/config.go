package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL          time.Duration `envconfig:"CONVERSATION_TTL" default:"72h"`
	HistoryLimit int           `envconfig:"CONVERSATION_HISTORY_LIMIT" default:"10"`
}

type ProviderConfig struct {
	APIKey         string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL        string `envconfig:"GEMINI_BASE_URL"`
	ChatModel      string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.5-flash"`
	EmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004"`
	ThinkingBudget int32  `envconfig:"GEMINI_THINKING_BUDGET" default:"0"`
}

type AnalysisConfig struct {
	Model        string        `envconfig:"ANALYSIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens    int           `envconfig:"ANALYSIS_MAX_TOKENS" default:"500"`
	Temperature  float32       `envconfig:"ANALYSIS_TEMPERATURE" default:"0.1"`
	HistoryTurns int           `envconfig:"ANALYSIS_HISTORY_TURNS" default:"3"`
	CacheTTL     time.Duration `envconfig:"ANALYSIS_CACHE_TTL" default:"30m"`
}

type ResponseConfig struct {
	Model          string        `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int           `envconfig:"RESPONSE_MAX_TOKENS" default:"1000"`
	Temperature    float32       `envconfig:"RESPONSE_TEMPERATURE" default:"0.3"`
	ContextResults int           `envconfig:"RESPONSE_CONTEXT_RESULTS" default:"3"`
	CacheTTL       time.Duration `envconfig:"RESPONSE_CACHE_TTL" default:"30m"`
	LocalMaxChars  int           `envconfig:"RESPONSE_LOCAL_MAX_CHARS" default:"300"`
	BusinessName   string        `envconfig:"RESPONSE_BUSINESS_NAME" default:"Cafe Pentagon"`
	ContactPhone   string        `envconfig:"RESPONSE_CONTACT_PHONE" default:"+959979732781"`
}

// RetrievalConfig thresholds: the faq retry and the sweep accept lower scores than the
// primary pass.
type RetrievalConfig struct {
	TopK          int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	MinScore      float64 `envconfig:"RETRIEVAL_MIN_SCORE" default:"0.4"`
	FAQTopK       int     `envconfig:"RETRIEVAL_FAQ_TOP_K" default:"3"`
	FAQMinScore   float64 `envconfig:"RETRIEVAL_FAQ_MIN_SCORE" default:"0.3"`
	SweepTopK     int     `envconfig:"RETRIEVAL_SWEEP_TOP_K" default:"3"`
	SweepMinScore float64 `envconfig:"RETRIEVAL_SWEEP_MIN_SCORE" default:"0.3"`
}

type EscalationConfig struct {
	LowConfidence     float64 `envconfig:"ESCALATION_LOW_CONFIDENCE" default:"0.3"`
	HistoryConfidence float64 `envconfig:"ESCALATION_HISTORY_CONFIDENCE" default:"0.5"`
	HistoryWindow     int     `envconfig:"ESCALATION_HISTORY_WINDOW" default:"3"`
	PatternTurns      int     `envconfig:"ESCALATION_PATTERN_TURNS" default:"2"`
	LongMessageWords  int     `envconfig:"ESCALATION_LONG_MESSAGE_WORDS" default:"10"`
}

type ResilienceConfig struct {
	FailureThreshold int           `envconfig:"RESILIENCE_FAILURE_THRESHOLD" default:"3"`
	RecoveryTimeout  time.Duration `envconfig:"RESILIENCE_RECOVERY_TIMEOUT" default:"30s"`
	MaxAttempts      int           `envconfig:"RESILIENCE_MAX_ATTEMPTS" default:"3"`
	BackoffMin       time.Duration `envconfig:"RESILIENCE_BACKOFF_MIN" default:"1s"`
	BackoffMax       time.Duration `envconfig:"RESILIENCE_BACKOFF_MAX" default:"10s"`
	CallTimeout      time.Duration `envconfig:"RESILIENCE_CALL_TIMEOUT" default:"30s"`
	CacheTTL         time.Duration `envconfig:"RESILIENCE_CACHE_TTL" default:"1h"`
	CacheMaxEntries  int           `envconfig:"RESILIENCE_CACHE_MAX_ENTRIES" default:"10000"`
	CacheBackend     string        `envconfig:"RESILIENCE_CACHE_BACKEND" default:"memory"`
	RateLimit        float64       `envconfig:"RESILIENCE_RATE_LIMIT" default:"0"`
}

type RulesConfig struct {
	// Path to a YAML rule table; empty uses the embedded defaults.
	Path string `envconfig:"RULES_PATH"`
}
