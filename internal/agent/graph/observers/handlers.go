package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/metrics"
)

// NewAllCallbacks aggregates the model and prompt observers into one callbacks.Handler.
// A nil m disables cost metrics.
func NewAllCallbacks(m *metrics.Metrics) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler(m)).
		Prompt(newPromptHandler()).
		Handler()
}
