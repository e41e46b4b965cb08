package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/escalation"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/flow"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/repo"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	analysisMarker = "message analysis step"
	contactPhone   = "+959000000"
	genericReply   = "Sorry, I couldn't find that information right now. To speak with a staff member, please call " + contactPhone + "."
	escalationNote = "💬 For additional questions, please call " + contactPhone + "."
)

// fakeChat answers analysis prompts from a table keyed by user message and
// response prompts with a fixed reply.
type fakeChat struct {
	mu             sync.Mutex
	analyses       map[string]string
	reply          string
	err            error
	analysisCalls  int
	responseCalls  int
	responseSystem string
}

func (f *fakeChat) Generate(_ context.Context, msgs []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	system, user := msgs[0].Content, msgs[len(msgs)-1].Content
	if strings.Contains(system, analysisMarker) {
		f.analysisCalls++
		if a, ok := f.analyses[user]; ok {
			return schema.AssistantMessage(a, nil), nil
		}
		return schema.AssistantMessage(`{"user_language":"en","search_terms":[],"search_namespace":null,"response_strategy":"polite_fallback","confidence":0.6}`, nil), nil
	}
	f.responseCalls++
	f.responseSystem = system
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChat) counts() (analysis, response int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analysisCalls, f.responseCalls
}

type fakeEmbedder struct {
	calls atomic.Int32
}

func (e *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls.Add(1)
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	matches map[model.Namespace][]model.Match
	queries []model.Namespace
}

func (x *fakeIndex) Query(_ context.Context, q model.VectorQuery) ([]model.Match, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queries = append(x.queries, q.Namespace)
	return x.matches[q.Namespace], nil
}

func (x *fakeIndex) queried() []model.Namespace {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]model.Namespace(nil), x.queries...)
}

type harness struct {
	runner   Runner
	chat     *fakeChat
	embedder *fakeEmbedder
	index    *fakeIndex
	memory   *repo.RedisConversationRepository
}

func analysisJSON(lang string, ns string, strategy model.Strategy, confidence float64, terms ...string) string {
	namespace := "null"
	if ns != "" {
		namespace = fmt.Sprintf("%q", ns)
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return fmt.Sprintf(`{"user_language":%q,"search_terms":[%s],"search_namespace":%s,"response_strategy":%q,"confidence":%.2f}`,
		lang, strings.Join(quoted, ","), namespace, strategy, confidence)
}

func newHarness(t *testing.T, chat *fakeChat) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	memory := repo.NewRedisConversationRepository(rdb, "cafebot", time.Hour)

	embedder := &fakeEmbedder{}
	index := &fakeIndex{matches: map[model.Namespace][]model.Match{
		model.NamespaceMenu: {{
			ID:       "menu-latte",
			Score:    0.88,
			Metadata: map[string]any{"english_name": "Latte", "price": 4500.0, "currency": "MMK"},
		}},
	}}
	remote := resilience.NewClient(chat, embedder, model.ResilienceConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		MaxAttempts:      2,
		BackoffMin:       time.Millisecond,
		BackoffMax:       time.Millisecond,
		CallTimeout:      5 * time.Second,
		CacheTTL:         time.Minute,
	}, resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	runner, err := BuildPipeline(context.Background(), Config{
		Remote: remote,
		Cache:  remote.Cache(),
		Index:  index,
		Memory: memory,
		Analysis: model.AnalysisConfig{
			Model: "gemini-2.5-flash", MaxTokens: 500, Temperature: 0.1, HistoryTurns: 3, CacheTTL: time.Minute,
		},
		Escalation: model.EscalationConfig{
			LowConfidence: 0.3, HistoryConfidence: 0.5, HistoryWindow: 3, PatternTurns: 2, LongMessageWords: 10,
		},
		Retrieval: model.RetrievalConfig{
			TopK: 5, MinScore: 0.4, FAQTopK: 3, FAQMinScore: 0.3, SweepTopK: 3, SweepMinScore: 0.3,
		},
		Response: model.ResponseConfig{
			Model: "gemini-2.5-flash", MaxTokens: 1000, Temperature: 0.3, ContextResults: 3,
			CacheTTL: time.Minute, LocalMaxChars: 300, BusinessName: "Cafe Pentagon", ContactPhone: contactPhone,
		},
		Conversation: model.ConversationConfig{TTL: time.Hour, HistoryLimit: 10},
	})
	require.NoError(t, err)
	return &harness{runner: runner, chat: chat, embedder: embedder, index: index, memory: memory}
}

func inbound(conversationID, msg string) model.Inbound {
	return model.Inbound{UserID: "u-" + conversationID, ConversationID: conversationID, Platform: "test", Message: msg}
}

func assertReplied(t *testing.T, s *model.ConversationState) {
	t.Helper()
	require.NotNil(t, s)
	assert.NotEmpty(t, strings.TrimSpace(s.Response))
	assert.True(t, s.ResponseGenerated)
	assert.GreaterOrEqual(t, s.AnalysisConfidence, 0.0)
	assert.LessOrEqual(t, s.AnalysisConfidence, 1.0)
	for _, r := range s.SearchResults {
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.0)
		assert.LessOrEqual(t, r.RelevanceScore, 1.0)
	}
	if s.ResponseStrategy != model.StrategyDirectAnswer {
		assert.NotEqual(t, model.NamespaceNone, s.SearchNamespace)
	}
}

func TestScenarioGreeting(t *testing.T) {
	chat := &fakeChat{analyses: map[string]string{
		"Hello": analysisJSON("en", "", model.StrategyDirectAnswer, 0.95),
	}}
	h := newHarness(t, chat)

	out, err := h.runner.Process(context.Background(), inbound("c-a", "Hello"))
	require.NoError(t, err)
	assertReplied(t, out)

	assert.Equal(t, model.LanguageEnglish, out.DetectedLanguage)
	assert.Equal(t, model.StrategyDirectAnswer, out.ResponseStrategy)
	assert.Equal(t, "Hello! Welcome to Cafe Pentagon. How can I help you today?", out.Response)
	assert.False(t, out.SearchPerformed)
	assert.Zero(t, h.embedder.calls.Load())
	assert.Empty(t, h.index.queried())
	assert.Equal(t, []string{flow.StageLoadHistory, flow.StageAnalysis, flow.StageEscalationCheck, flow.StageSynthesis, flow.StagePersistHistory}, out.StagePath)
	assert.True(t, out.MemoryUpdated)

	_, responses := chat.counts()
	assert.Zero(t, responses)
}

func TestScenarioMenuSearch(t *testing.T) {
	chat := &fakeChat{
		analyses: map[string]string{
			"What's on the menu?": analysisJSON("en", "menu", model.StrategySearchAndAnswer, 0.9, "menu", "food"),
		},
		reply: "We serve Latte for 4500 MMK.",
	}
	h := newHarness(t, chat)

	out, err := h.runner.Process(context.Background(), inbound("c-b", "What's on the menu?"))
	require.NoError(t, err)
	assertReplied(t, out)

	assert.Equal(t, model.StrategySearchAndAnswer, out.ResponseStrategy)
	assert.Equal(t, model.NamespaceMenu, out.SearchNamespace)
	assert.True(t, out.SearchPerformed)
	assert.True(t, out.DataFound)
	require.Len(t, out.SearchResults, 1)
	assert.Equal(t, "English: Latte | Price: 4500 MMK", out.SearchResults[0].Content)
	assert.Equal(t, "We serve Latte for 4500 MMK.", out.Response)
	assert.Equal(t, model.QualityHigh, out.ResponseQuality)
	assert.Contains(t, chat.responseSystem, "English: Latte | Price: 4500 MMK")
	assert.Equal(t, []model.Namespace{model.NamespaceMenu}, h.index.queried())

	n, err := h.memory.GetTurnCount(context.Background(), "c-b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again, err := h.runner.Process(context.Background(), inbound("c-b", "What's on the menu?"))
	require.NoError(t, err)
	assert.True(t, again.MemoryLoaded)
	assert.Len(t, again.ConversationHistory, 2)
}

func TestScenarioNothingFound(t *testing.T) {
	chat := &fakeChat{
		analyses: map[string]string{
			"Where can I buy concert tickets?": analysisJSON("en", "faq", model.StrategySearchAndAnswer, 0.8, "concert", "tickets"),
		},
		reply: "unused",
	}
	h := newHarness(t, chat)
	h.index.matches = nil

	out, err := h.runner.Process(context.Background(), inbound("c-c", "Where can I buy concert tickets?"))
	require.NoError(t, err)
	assertReplied(t, out)

	assert.False(t, out.DataFound)
	assert.True(t, out.SearchPerformed)
	assert.Equal(t, genericReply, out.Response)
	assert.Equal(t, model.QualityFallback, out.ResponseQuality)
	assert.Equal(t, []model.Namespace{model.NamespaceFAQ, model.NamespaceMenu, model.NamespaceEvents, model.NamespaceJobs}, h.index.queried())
	_, responses := chat.counts()
	assert.Zero(t, responses)
}

func TestScenarioEscalation(t *testing.T) {
	msg := "I want to talk to a manager about my order"
	chat := &fakeChat{analyses: map[string]string{
		msg: analysisJSON("en", "faq", model.StrategySearchAndAnswer, 0.8, "manager"),
	}}
	h := newHarness(t, chat)

	out, err := h.runner.Process(context.Background(), inbound("c-d", msg))
	require.NoError(t, err)
	assertReplied(t, out)

	assert.True(t, out.RequiresHuman)
	assert.False(t, out.HumanHandling)
	assert.Equal(t, "User requested human assistance", out.EscalationReason)
	assert.Equal(t, model.UrgencyHigh, out.EscalationUrgency)
	assert.True(t, strings.HasSuffix(out.Response, escalationNote))
	assert.NotContains(t, out.StagePath, flow.StageRetrieval)
	assert.Zero(t, h.embedder.calls.Load())

	recorded, err := h.memory.Escalations(context.Background(), "c-d")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, out.TurnID, recorded[0].TurnID)
}

func TestRepeatedLowConfidenceEscalates(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{analyses: map[string]string{
		"and the parking?": analysisJSON("en", "faq", model.StrategySearchAndAnswer, 0.8, "parking"),
	}}
	h := newHarness(t, chat)
	for _, c := range []float64{0.2, 0.9, 0.4} {
		require.NoError(t, h.memory.AppendTurn(ctx, "c-low", model.Turn{Role: model.RoleUser, Content: "hmm", Confidence: &c}))
	}

	out, err := h.runner.Process(ctx, inbound("c-low", "and the parking?"))
	require.NoError(t, err)
	assertReplied(t, out)
	assert.True(t, out.RequiresHuman)
	assert.Equal(t, "Repeated low confidence in recent turns (below 0.50)", out.EscalationReason)
	assert.Equal(t, []string{string(escalation.TriggerLowConfidencePattern)}, out.EscalationTriggers)
	assert.True(t, strings.HasSuffix(out.Response, escalationNote))
}

func TestHumanHandlingPassThrough(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{reply: "unused"}
	h := newHarness(t, chat)
	require.NoError(t, h.memory.SetHumanHandling(ctx, "c-op", true))

	out, err := h.runner.Process(ctx, inbound("c-op", "are you there?"))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.True(t, out.HumanHandling)
	assert.Empty(t, out.Response)
	assert.False(t, out.ResponseGenerated)
	assert.Equal(t, []string{flow.StageLoadHistory, flow.StagePersistHistory}, out.StagePath)
	analyses, responses := chat.counts()
	assert.Zero(t, analyses+responses)

	n, err := h.memory.GetTurnCount(ctx, "c-op")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the user turn is kept for the operator")
}

func TestQuotaFallsBackToRules(t *testing.T) {
	chat := &fakeChat{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}}
	h := newHarness(t, chat)

	out, err := h.runner.Process(context.Background(), inbound("c-q", "Hello"))
	require.NoError(t, err)
	assertReplied(t, out)
	assert.Equal(t, model.SourceRules, out.AnalysisSource)
	assert.Equal(t, model.StrategyDirectAnswer, out.ResponseStrategy)

	out, err = h.runner.Process(context.Background(), inbound("c-q", "Do you have parking"))
	require.NoError(t, err)
	assertReplied(t, out)
	assert.Equal(t, model.StrategySearchAndAnswer, out.ResponseStrategy)
	assert.Equal(t, model.NamespaceFAQ, out.SearchNamespace)
}

func TestAnalysisIsCached(t *testing.T) {
	chat := &fakeChat{analyses: map[string]string{
		"Hello": analysisJSON("en", "", model.StrategyDirectAnswer, 0.95),
	}}
	h := newHarness(t, chat)

	first, err := h.runner.Process(context.Background(), inbound("c-1", "Hello"))
	require.NoError(t, err)
	second, err := h.runner.Process(context.Background(), inbound("c-2", "Hello"))
	require.NoError(t, err)

	analyses, _ := chat.counts()
	assert.Equal(t, 1, analyses)
	assert.Equal(t, model.SourceCache, second.AnalysisSource)
	assert.Equal(t, first.ResponseStrategy, second.ResponseStrategy)
	assert.Equal(t, first.Response, second.Response)
}

func TestConcurrentTurns(t *testing.T) {
	chat := &fakeChat{
		analyses: map[string]string{
			"What's on the menu?": analysisJSON("en", "menu", model.StrategySearchAndAnswer, 0.9, "menu"),
		},
		reply: "We serve Latte.",
	}
	h := newHarness(t, chat)

	var g errgroup.Group
	states := make([]*model.ConversationState, 16)
	for i := range states {
		g.Go(func() error {
			s, err := h.runner.Process(context.Background(), inbound(fmt.Sprintf("c-%d", i), "What's on the menu?"))
			states[i] = s
			return err
		})
	}
	require.NoError(t, g.Wait())
	seen := map[string]bool{}
	for _, s := range states {
		assertReplied(t, s)
		assert.False(t, seen[s.TurnID])
		seen[s.TurnID] = true
	}
}

func TestBuildGraphRejectsMissingStage(t *testing.T) {
	_, err := BuildGraph(context.Background(), flow.Default(), map[string]nodes.StageFunc{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), flow.StageLoadHistory)
}

func TestBuildPipelineRejectsInvalidFlow(t *testing.T) {
	bad := flow.New("a")
	bad.Add("a", flow.Transition{To: "missing"})
	_, err := BuildPipeline(context.Background(), Config{Flow: bad})
	require.Error(t, err)
}

func TestPipelineWithoutCollaborators(t *testing.T) {
	runner, err := BuildPipeline(context.Background(), Config{})
	require.NoError(t, err)

	out, err := runner.Process(context.Background(), inbound("c-bare", "What's on the menu?"))
	require.NoError(t, err)
	assertReplied(t, out)
	assert.Equal(t, model.SourceRules, out.AnalysisSource)
	assert.False(t, out.DataFound)
	assert.False(t, out.MemoryUpdated)
}

func TestLongNeutralQuestionIsAnswered(t *testing.T) {
	msg := "Do you have any dishes on the menu that are not too spicy for my kids?"
	chat := &fakeChat{
		analyses: map[string]string{
			msg: analysisJSON("en", "menu", model.StrategySearchAndAnswer, 0.9, "dishes", "spicy"),
		},
		reply: "Our Latte is not spicy at all.",
	}
	h := newHarness(t, chat)

	out, err := h.runner.Process(context.Background(), inbound("c-long", msg))
	require.NoError(t, err)
	assertReplied(t, out)

	assert.False(t, out.RequiresHuman)
	assert.Empty(t, out.EscalationTriggers)
	assert.Contains(t, out.StagePath, flow.StageRetrieval)
	assert.True(t, out.DataFound)
	assert.Equal(t, "Our Latte is not spicy at all.", out.Response)
}
