package observers

import (
	"bytes"
	"context"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/cafebot/internal/core"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

func TestComputeCost(t *testing.T) {
	usage := &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 200_000, TotalTokens: 1_200_000}
	in, out, total := ComputeCost(usage, ResolvePricing("gemini-2.5-flash"))
	assert.InDelta(t, 0.30, in, 1e-9)
	assert.InDelta(t, 0.50, out, 1e-9)
	assert.InDelta(t, 0.80, total, 1e-9)

	_, _, total = ComputeCost(usage, ResolvePricing("unknown-model"))
	assert.Zero(t, total)
	_, _, total = ComputeCost(nil, ResolvePricing("gemini-2.5-flash"))
	assert.Zero(t, total)
}

func TestModelHandlerToleratesMissingData(t *testing.T) {
	h := newModelHandler(nil)
	ctx := context.Background()
	info := &einocb.RunInfo{Name: "gemini-2.5-flash"}

	assert.Equal(t, ctx, h.OnStart(ctx, info, nil))
	assert.Equal(t, ctx, h.OnEnd(ctx, info, &model.CallbackOutput{}))
	assert.Equal(t, ctx, h.OnEnd(ctx, nil, &model.CallbackOutput{
		Message: &schema.Message{Role: schema.Assistant, Content: "hi", ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10}}},
	}))
}

func TestModelHandlerDoesNotLogMessageText(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	var buf bytes.Buffer
	logx.Init(logx.LoggerOpts{Environment: core.Production, Level: "debug", Output: &buf})

	msg := "My phone number is 09 555 123 456, please call me about the order"
	h := newModelHandler(nil)
	h.OnStart(context.Background(), &einocb.RunInfo{Name: "gemini-2.5-flash"}, &model.CallbackInput{
		Messages: []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage(msg)},
	})

	out := buf.String()
	assert.Contains(t, out, "model call started")
	assert.Contains(t, out, `"user_runes":65`)
	assert.NotContains(t, out, "09 555 123 456")
}

func TestLastUserContent(t *testing.T) {
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage(" first "),
		nil,
		schema.AssistantMessage("reply", nil),
		schema.UserMessage(" second "),
	}
	assert.Equal(t, "second", lastUserContent(msgs))
	assert.Empty(t, lastUserContent(nil))
}

func TestNewAllCallbacks(t *testing.T) {
	require.NotNil(t, NewAllCallbacks(nil))
	require.NotNil(t, NewPromptCallbacks())
}
