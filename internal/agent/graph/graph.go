package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/analysis"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/escalation"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/conversations"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/flow"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/nodes"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph/observers"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/resilience"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/retrieval"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/synthesis"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// Runner processes one inbound message. The returned state is never nil and carries a
// reply unless an operator already handles the conversation.
type Runner interface {
	Process(ctx context.Context, in model.Inbound) (*model.ConversationState, error)
}

// Remote is the inference and embedding surface; *resilience.Client implements it.
type Remote interface {
	Complete(ctx context.Context, req resilience.Request) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config holds everything needed to compose the turn pipeline end-to-end.
type Config struct {
	Remote Remote
	// Cache backs the analysis and response caches; nil disables them.
	Cache  resilience.Cache
	Index  model.VectorIndex
	Memory model.MemoryRepository
	Rules  *rules.Tables
	// Flow defaults to flow.Default().
	Flow    *flow.Table
	Metrics *metrics.Metrics

	Analysis     model.AnalysisConfig
	Escalation   model.EscalationConfig
	Retrieval    model.RetrievalConfig
	Response     model.ResponseConfig
	Conversation model.ConversationConfig
}

type pipeline struct {
	runnable    compose.Runnable[*model.ConversationState, *model.ConversationState]
	synthesizer *synthesis.Synthesizer
	callbacks   einocb.Handler
	metrics     *metrics.Metrics
}

// BuildPipeline wires the stages, builds the eino graph from the transition table and compiles it.
func BuildPipeline(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Rules == nil {
		cfg.Rules = rules.Default()
	}
	if cfg.Flow == nil {
		cfg.Flow = flow.Default()
	}
	if err := cfg.Flow.Validate(); err != nil {
		return nil, err
	}

	var (
		completer analysis.Completer
		embedder  retrieval.Embedder
	)
	if cfg.Remote != nil {
		completer, embedder = cfg.Remote, cfg.Remote
	}

	var (
		mm       *conversations.MessagesManager
		recorder model.HandlingRepository
	)
	if cfg.Memory != nil {
		mm = conversations.NewMessagesManager(cfg.Memory, cfg.Conversation)
		recorder = cfg.Memory
	}

	analyzer := analysis.New(completer, cfg.Cache, cfg.Rules, cfg.Analysis,
		analysis.WithMetrics(cfg.Metrics),
		analysis.WithBusinessName(cfg.Response.BusinessName),
	)
	detectorOpts := []escalation.Option{escalation.WithMetrics(cfg.Metrics)}
	if recorder != nil {
		detectorOpts = append(detectorOpts, escalation.WithRecorder(recorder))
	}
	detector := escalation.New(cfg.Rules, cfg.Escalation, detectorOpts...)
	searcher := retrieval.New(embedder, cfg.Index, cfg.Rules, cfg.Retrieval, retrieval.WithMetrics(cfg.Metrics))
	synthesizer := synthesis.New(completer, cfg.Cache, cfg.Rules, cfg.Response, synthesis.WithMetrics(cfg.Metrics))

	stages := map[string]nodes.StageFunc{
		flow.StageLoadHistory:     nodes.Guard(flow.StageLoadHistory, nodes.NewLoadHistoryNode(mm, recorder), nodes.Keep, cfg.Metrics),
		flow.StageAnalysis:        nodes.Guard(flow.StageAnalysis, nodes.NewAnalysisNode(analyzer), nodes.AnalysisFallback, cfg.Metrics),
		flow.StageEscalationCheck: nodes.Guard(flow.StageEscalationCheck, nodes.NewEscalationNode(detector), nodes.Keep, cfg.Metrics),
		flow.StageRetrieval:       nodes.Guard(flow.StageRetrieval, nodes.NewRetrievalNode(searcher), nodes.RetrievalFallback, cfg.Metrics),
		flow.StageSynthesis:       nodes.Guard(flow.StageSynthesis, nodes.NewSynthesisNode(synthesizer), nodes.SynthesisFallback(synthesizer), cfg.Metrics),
		flow.StagePersistHistory:  nodes.Guard(flow.StagePersistHistory, nodes.NewPersistHistoryNode(mm), nodes.Keep, cfg.Metrics),
	}

	runnable, err := BuildGraph(ctx, cfg.Flow, stages)
	if err != nil {
		return nil, err
	}

	logx.Debug().Strs("stages", cfg.Flow.Stages).Msg("turn pipeline built successfully")
	return &pipeline{
		runnable:    runnable,
		synthesizer: synthesizer,
		callbacks:   observers.NewAllCallbacks(cfg.Metrics),
		metrics:     cfg.Metrics,
	}, nil
}

// BuildGraph constructs and compiles the graph of table. Every stage of the table
// needs an entry in stages.
func BuildGraph(ctx context.Context, table *flow.Table, stages map[string]nodes.StageFunc) (compose.Runnable[*model.ConversationState, *model.ConversationState], error) {
	if table == nil {
		return nil, fmt.Errorf("flow table is nil")
	}
	g := compose.NewGraph[*model.ConversationState, *model.ConversationState]()

	for _, stage := range table.Stages {
		fn, ok := stages[stage]
		if !ok {
			return nil, fmt.Errorf("no implementation for stage %q", stage)
		}
		if err := g.AddLambdaNode(stage, nodes.Lambda(fn), compose.WithNodeName(stage)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", stage, err)
		}
	}

	if err := g.AddEdge(compose.START, table.Start); err != nil {
		return nil, fmt.Errorf("add start edge: %w", err)
	}
	for _, stage := range table.Stages {
		if !table.Conditional(stage) {
			if err := g.AddEdge(stage, nodeKey(table.Next(stage, nil))); err != nil {
				return nil, fmt.Errorf("add edge from %s: %w", stage, err)
			}
			continue
		}
		if err := g.AddBranch(stage, newBranch(table, stage)); err != nil {
			logx.Error().Err(err).Str("stage", stage).Msg("Error adding branch")
			return nil, fmt.Errorf("add branch from %s: %w", stage, err)
		}
	}

	runnable, err := g.Compile(ctx,
		compose.WithGraphName("turn_pipeline"),
		compose.WithMaxRunSteps(max(20, 2*len(table.Stages)+2)),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	return runnable, nil
}

func newBranch(table *flow.Table, stage string) *compose.GraphBranch {
	ends := map[string]bool{}
	for _, to := range table.Successors(stage) {
		ends[nodeKey(to)] = true
	}
	return compose.NewGraphBranch(func(_ context.Context, s *model.ConversationState) (string, error) {
		next := table.Next(stage, s)
		logx.Debug().Str("stage", stage).Str("next", next).Msg("routing turn")
		return nodeKey(next), nil
	}, ends)
}

func nodeKey(stage string) string {
	if stage == flow.End {
		return compose.END
	}
	return stage
}

func (p *pipeline) Process(ctx context.Context, in model.Inbound) (*model.ConversationState, error) {
	start := time.Now()
	state := model.NewConversationState(in)
	log := logx.Component("pipeline").With().
		Str("conversation_id", state.ConversationID).
		Str("turn_id", state.TurnID).
		Logger()

	out, err := p.runnable.Invoke(ctx, state, compose.WithCallbacks(p.callbacks))
	if err != nil || out == nil {
		if err == nil {
			err = fmt.Errorf("pipeline returned no state")
		}
		log.Error().Err(err).Msg("turn pipeline failed, replying with fallback")
		err = errx.New(err, errx.KindInternal, "turn pipeline")
		out = state
	}
	out = p.ensureReply(out)

	quality := string(out.ResponseQuality)
	if out.HumanHandling {
		quality = "passthrough"
	}
	p.metrics.ObserveTurn(string(out.ResponseStrategy), quality)
	log.Info().
		Str("strategy", string(out.ResponseStrategy)).
		Str("quality", quality).
		Bool("requires_human", out.RequiresHuman).
		Strs("stages", out.StagePath).
		Dur("took", time.Since(start)).
		Msg("turn processed")
	return out, err
}

// ensureReply guarantees a reply on every path except operator pass-through.
func (p *pipeline) ensureReply(s *model.ConversationState) *model.ConversationState {
	if s.HumanHandling || strings.TrimSpace(s.Response) != "" {
		return s
	}
	return p.synthesizer.Default(s)
}
