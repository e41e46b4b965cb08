package nodes

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// StageFunc is one pipeline stage. It receives the state left by the previous stage.
type StageFunc func(ctx context.Context, state *model.ConversationState) (*model.ConversationState, error)

// Fallback builds the stage's safe state from its input when the stage fails.
type Fallback func(in *model.ConversationState, cause error) *model.ConversationState

// Guard runs a stage so that nothing escapes its boundary: errors, panics and nil
// results are replaced by the fallback, and the stage is appended to StagePath.
func Guard(stage string, fn StageFunc, fallback Fallback, m *metrics.Metrics) StageFunc {
	return func(ctx context.Context, in *model.ConversationState) (out *model.ConversationState, _ error) {
		if in == nil {
			in = model.NewConversationState(model.Inbound{})
		}
		start := time.Now()
		failed := false

		defer func() {
			if r := recover(); r != nil {
				failed = true
				logx.Error().
					Str("stage", stage).
					Str("conversation_id", in.ConversationID).
					Str("turn_id", in.TurnID).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("stage panicked, using safe default")
				out = fallback(in, fmt.Errorf("stage %s panicked: %v", stage, r))
			}
			if out == nil {
				failed = true
				out = fallback(in, fmt.Errorf("stage %s returned no state", stage))
			}
			out.StagePath = append(out.StagePath, stage)
			m.ObserveStage(stage, time.Since(start), failed)
		}()

		res, err := fn(ctx, in)
		if err != nil {
			failed = true
			logx.Warn().
				Err(err).
				Str("stage", stage).
				Str("conversation_id", in.ConversationID).
				Str("turn_id", in.TurnID).
				Msg("stage failed, using safe default")
			return fallback(in, err), nil
		}
		return res, nil
	}
}

// Keep returns the input unchanged; for stages whose safe default is a no-op.
func Keep(in *model.ConversationState, _ error) *model.ConversationState {
	return in.Clone()
}

// Lambda adapts a stage to an eino lambda node.
func Lambda(fn StageFunc) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *model.ConversationState) (*model.ConversationState, error) {
		return fn(ctx, in)
	})
}
