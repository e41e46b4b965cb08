package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/graph"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/providers"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/repo"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/resilience"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/retrieval/weaviate"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/rules"
	"github.com/Chative-core-poc-v1/cafebot/internal/core"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
	pkgredis "github.com/Chative-core-poc-v1/cafebot/pkg/redis"
	pkgweaviate "github.com/Chative-core-poc-v1/cafebot/pkg/weaviate"
)

// Infra is what every command needs: logging and the Redis connection.
type Infra struct {
	Env      core.Environment `envconfig:"APP_ENV" default:"development"`
	LogLevel string           `envconfig:"LOG_LEVEL"`

	Redis pkgredis.Config
}

// AppConfig defines all configurable parameters of the bot,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Infra

	Weaviate pkgweaviate.Config
	Provider model.ProviderConfig

	// Agent configs
	Analysis     model.AnalysisConfig
	Escalation   model.EscalationConfig
	Retrieval    model.RetrievalConfig
	Response     model.ResponseConfig
	Resilience   model.ResilienceConfig
	Conversation model.ConversationConfig
	Rules        model.RulesConfig
}

type app struct {
	runner   graph.Runner
	memory   *repo.RedisConversationRepository
	rdb      *redis.Client
	registry *prometheus.Registry
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func loadInfra(ctx context.Context) (Infra, *redis.Client, error) {
	var infra Infra
	if err := envconfig.Process("", &infra); err != nil {
		return infra, nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	rdb, err := connect(ctx, infra)
	return infra, rdb, err
}

// connect initialises logging and opens the Redis connection.
func connect(ctx context.Context, infra Infra) (*redis.Client, error) {
	logx.Init(logx.LoggerOpts{Environment: infra.Env, Level: infra.LogLevel})

	rdb, err := infra.Redis.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	logx.Debug().Msg("Connected to Redis successfully")
	return rdb, nil
}

func newApp(ctx context.Context) (*app, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	rdb, err := connect(ctx, cfg.Infra)
	if err != nil {
		return nil, err
	}
	a := &app{rdb: rdb, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	tables, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load rule tables: %w", err)
	}

	genaiClient, err := providers.NewGenAIClient(ctx, cfg.Provider)
	if err != nil {
		a.Close()
		return nil, err
	}
	chat, err := providers.NewChatModel(ctx, genaiClient, cfg.Provider)
	if err != nil {
		a.Close()
		return nil, err
	}
	embedder, err := providers.NewGenAIEmbedder(genaiClient, cfg.Provider.EmbeddingModel, providers.TaskTypeRetrievalQuery)
	if err != nil {
		a.Close()
		return nil, err
	}

	wv, err := cfg.Weaviate.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialise Weaviate client: %w", err)
	}

	opts := []resilience.Option{resilience.WithMetrics(m)}
	if strings.EqualFold(cfg.Resilience.CacheBackend, "redis") {
		opts = append(opts, resilience.WithCache(resilience.NewRedisCache(rdb, cfg.Redis.KeyPrefix, cfg.Resilience.CacheTTL)))
	}
	remote := resilience.NewClient(chat, embedder, cfg.Resilience, opts...)

	a.memory = repo.NewRedisConversationRepository(rdb, cfg.Redis.KeyPrefix, cfg.Conversation.TTL)
	a.runner, err = graph.BuildPipeline(ctx, graph.Config{
		Remote:       remote,
		Cache:        remote.Cache(),
		Index:        weaviate.NewIndex(wv, cfg.Weaviate.Class),
		Memory:       a.memory,
		Rules:        tables,
		Metrics:      m,
		Analysis:     cfg.Analysis,
		Escalation:   cfg.Escalation,
		Retrieval:    cfg.Retrieval,
		Response:     cfg.Response,
		Conversation: cfg.Conversation,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return a, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) func(context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logx.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func printState(s *model.ConversationState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	if s.HumanHandling {
		fmt.Println("(an operator is handling this conversation)")
		return nil
	}
	fmt.Println(s.Response)
	return nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "cafebot",
		Short:         "Bilingual cafe assistant turn pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		conversationID string
		userID         string
		platform       string
	)
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "conversation id (a new one is generated when empty)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "cli-user", "user id")
	rootCmd.PersistentFlags().StringVar(&platform, "platform", "cli", "platform the message came from")

	inbound := func(msg string) model.Inbound {
		return model.Inbound{UserID: userID, ConversationID: conversationID, Platform: platform, Message: msg}
	}

	var metricsAddr string
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot over stdin, one message per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if metricsAddr != "" {
				shutdown := serveMetrics(metricsAddr, a.registry)
				defer shutdown(context.Background())
			}
			if conversationID == "" {
				conversationID = "cli-" + uuid.NewString()
			}
			fmt.Printf("Conversation %s, type a message (Ctrl-D to quit)\n", conversationID)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				msg := strings.TrimSpace(scanner.Text())
				if msg == "" {
					continue
				}
				state, err := a.runner.Process(ctx, inbound(msg))
				if err != nil {
					logx.Warn().Err(err).Msg("turn completed with an error")
				}
				if err := printState(state, false); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	var asJSON bool
	askCmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Process a single message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if conversationID == "" {
				conversationID = "cli-" + uuid.NewString()
			}
			state, err := a.runner.Process(ctx, inbound(strings.Join(args, " ")))
			if err != nil {
				logx.Warn().Err(err).Msg("turn completed with an error")
			}
			return printState(state, asJSON)
		},
	}
	askCmd.Flags().BoolVar(&asJSON, "json", false, "print the final conversation state as JSON")

	var release bool
	handoffCmd := &cobra.Command{
		Use:   "handoff",
		Short: "Mark a conversation as handled by an operator, or release it back to the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return fmt.Errorf("--conversation is required")
			}
			infra, rdb, err := loadInfra(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()

			memory := repo.NewRedisConversationRepository(rdb, infra.Redis.KeyPrefix, 0)
			if err := memory.SetHumanHandling(ctx, conversationID, !release); err != nil {
				return err
			}
			if release {
				fmt.Printf("Conversation %s released to the bot\n", conversationID)
				return nil
			}
			fmt.Printf("Conversation %s is now handled by an operator\n", conversationID)

			escalations, err := memory.Escalations(ctx, conversationID)
			if err != nil {
				return err
			}
			for _, e := range escalations {
				fmt.Printf("  %s [%s] %s\n", e.At.Format(time.RFC3339), e.Urgency, e.Reason)
			}
			return nil
		},
	}
	handoffCmd.Flags().BoolVar(&release, "release", false, "give the conversation back to the bot")

	rootCmd.AddCommand(chatCmd, askCmd, handoffCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logx.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
