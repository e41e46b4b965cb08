package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	agentmodel "github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

const (
	OperationChat      = "chat"
	OperationEmbedding = "embedding"
)

// Request is one chat completion.
type Request struct {
	Messages    []*schema.Message
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client wraps the remote chat and embedding calls with a circuit breaker per operation,
// bounded retry for transient errors, and a shared TTL cache. Build one per process and
// pass it to every stage; its state is shared by all concurrent turns.
type Client struct {
	chat     model.BaseChatModel
	embedder embedding.Embedder

	chatBreaker  *CircuitBreaker
	embedBreaker *CircuitBreaker
	retry        RetryPolicy
	callTimeout  time.Duration
	cache        Cache
	cacheTTL     time.Duration
	limiter      *rate.Limiter
	embedGroup   singleflight.Group

	sleep   Sleeper // nil uses the backoff timer
	metrics *metrics.Metrics
}

type Option func(*Client)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithSleeper replaces the backoff timer, for tests.
func WithSleeper(s Sleeper) Option {
	return func(cl *Client) { cl.sleep = s }
}

// WithClock sets the clock used by both breakers, for tests.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.chatBreaker.now = now
		cl.embedBreaker.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func NewClient(chat model.BaseChatModel, embedder embedding.Embedder, cfg agentmodel.ResilienceConfig, opts ...Option) *Client {
	c := &Client{
		chat:        chat,
		embedder:    embedder,
		retry:       RetryPolicy{MaxAttempts: cfg.MaxAttempts, Min: cfg.BackoffMin, Max: cfg.BackoffMax}.normalized(),
		callTimeout: cfg.CallTimeout,
		cacheTTL:    cfg.CacheTTL,
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 30 * time.Second
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	onChange := func(name string, from, to CircuitState) {
		logx.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		c.metrics.SetBreakerState(name, int(to))
	}
	breakerCfg := BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		OnStateChange:    onChange,
	}
	c.chatBreaker = NewCircuitBreaker(OperationChat, breakerCfg)
	c.embedBreaker = NewCircuitBreaker(OperationEmbedding, breakerCfg)

	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(cfg.CacheTTL, cfg.CacheMaxEntries)
	}
	return c
}

// Cache is the client's shared TTL cache.
func (c *Client) Cache() Cache {
	return c.cache
}

// Breakers exposes breaker snapshots keyed by operation.
func (c *Client) Breakers() map[string]BreakerStats {
	return map[string]BreakerStats{
		OperationChat:      c.chatBreaker.Stats(),
		OperationEmbedding: c.embedBreaker.Stats(),
	}
}

// Complete runs one chat completion and returns the text content.
// Errors wrap errx.ErrQuotaExceeded, errx.ErrCircuitOpen or a transient/permanent AppError.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.chat == nil {
		return "", errx.New(fmt.Errorf("chat model is not configured"), errx.KindPermanent, OperationChat)
	}
	opts := make([]model.Option, 0, 3)
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	// stages call the model from lambda nodes; give it its own run info so
	// chat model callbacks fire
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      req.Model,
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})

	var out string
	err := c.do(ctx, c.chatBreaker, func(callCtx context.Context) error {
		msg, err := c.chat.Generate(callCtx, req.Messages, opts...)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("chat model returned no message")
		}
		out = strings.TrimSpace(msg.Content)
		return nil
	})
	return out, err
}

// Embed returns the embedding of text. Vectors are cached by text, and concurrent
// requests for the same text share one remote call.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.embedder == nil {
		return nil, errx.New(fmt.Errorf("embedder is not configured"), errx.KindPermanent, OperationEmbedding)
	}
	key := CacheKey("embedding", text)
	if cached, ok := c.cache.Get(ctx, key); ok {
		var vec []float64
		if err := json.Unmarshal([]byte(cached), &vec); err == nil && len(vec) > 0 {
			c.metrics.ObserveCache(OperationEmbedding, true)
			return vec, nil
		}
		c.cache.Delete(ctx, key)
	}
	c.metrics.ObserveCache(OperationEmbedding, false)

	v, err, _ := c.embedGroup.Do(key, func() (any, error) {
		var vec []float64
		err := c.do(ctx, c.embedBreaker, func(callCtx context.Context) error {
			vectors, err := c.embedder.EmbedStrings(callCtx, []string{text})
			if err != nil {
				return err
			}
			if len(vectors) == 0 || len(vectors[0]) == 0 {
				return fmt.Errorf("embedder returned no vector")
			}
			vec = vectors[0]
			return nil
		})
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(vec); err == nil {
			c.cache.Set(ctx, key, string(b), c.cacheTTL)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// do runs fn behind breaker with retry. Each attempt passes through the breaker, so an
// open circuit also stops the remaining retries.
func (c *Client) do(ctx context.Context, breaker *CircuitBreaker, fn func(context.Context) error) error {
	op := breaker.Name()
	var (
		attempts  int
		lastClass ErrorClass
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		class, err := c.attempt(ctx, breaker, fn)
		lastClass = class
		return struct{}{}, err
	}, c.retryOptions(ctx, op, &attempts)...)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastClass == ClassTransient {
		logx.Error().Err(err).Str("operation", op).Int("attempts", attempts).Msg("remote call failed after retries")
		return errx.New(err, errx.KindTransient, op+" failed after retries")
	}
	return err
}

func (c *Client) retryOptions(ctx context.Context, op string, attempts *int) []backoff.RetryOption {
	b := c.retry.NewBackOff()
	if c.sleep != nil {
		b = &sleeperBackOff{ctx: ctx, inner: b, sleep: c.sleep}
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logx.Debug().Err(err).Str("operation", op).Int("attempt", *attempts).Dur("backoff", wait).Msg("retrying remote call")
		}),
	}
}

// attempt makes one call through the breaker. Errors that must not be retried come
// back wrapped in backoff.Permanent; a transient error is returned as is.
func (c *Client) attempt(ctx context.Context, breaker *CircuitBreaker, fn func(context.Context) error) (ErrorClass, error) {
	op := breaker.Name()
	permit, err := breaker.Allow()
	if err != nil {
		c.metrics.ObserveRemoteCall(op, "rejected")
		return ClassPermanent, backoff.Permanent(err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			breaker.Record(permit, OutcomeIgnored)
			return ClassCanceled, backoff.Permanent(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err = fn(callCtx)
	cancel()

	class := Classify(ctx, err)
	c.metrics.ObserveRemoteCall(op, class.String())
	switch class {
	case ClassNone:
		breaker.Record(permit, OutcomeSuccess)
		return class, nil
	case ClassQuota:
		breaker.Record(permit, OutcomeIgnored)
		logx.Warn().Err(err).Str("operation", op).Msg("quota exceeded, not retrying")
		return class, backoff.Permanent(errx.New(err, errx.KindQuota, op+" quota exceeded"))
	case ClassCanceled:
		breaker.Record(permit, OutcomeIgnored)
		return class, backoff.Permanent(err)
	case ClassPermanent:
		breaker.Record(permit, OutcomeIgnored)
		return class, backoff.Permanent(errx.New(err, errx.KindPermanent, op+" failed"))
	}

	breaker.Record(permit, OutcomeFailure)
	return class, err
}
