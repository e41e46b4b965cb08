package observers

import (
	"context"
	"strings"
	"unicode/utf8"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// newModelHandler logs model calls and accounts their token cost.
func newModelHandler(m *metrics.Metrics) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", "model").Str("model", modelName(info))
			if input != nil {
				// message text stays out of logs, only its size is recorded
				ev = ev.Int("messages", len(input.Messages)).Int("user_runes", utf8.RuneCountInString(lastUserContent(input.Messages)))
			}
			ev.Msg("model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			name := modelName(info)
			ev := logx.Debug().Str("component", "model").Str("model", name)
			if output != nil && output.Message != nil {
				ev = ev.Int("reply_len", len(strings.TrimSpace(output.Message.Content)))
				if meta := output.Message.ResponseMeta; meta != nil && meta.Usage != nil {
					in, out, total := ComputeCost(meta.Usage, ResolvePricing(name))
					m.AddModelCost(name, total)
					ev = ev.
						Int("prompt_tokens", meta.Usage.PromptTokens).
						Int("completion_tokens", meta.Usage.CompletionTokens).
						Int("total_tokens", meta.Usage.TotalTokens).
						Float64("input_cost_usd", in).
						Float64("output_cost_usd", out).
						Float64("total_cost_usd", total)
				}
			}
			ev.Msg("model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", "model").Str("model", modelName(info)).Msg("model call failed")
			return ctx
		},
	}
}

func modelName(info *einocb.RunInfo) string {
	if info == nil || info.Name == "" {
		return "unknown"
	}
	return info.Name
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
