package providers

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

// NewGenAIClient creates the Gemini API client shared by the chat model and the embedder.
func NewGenAIClient(ctx context.Context, cfg model.ProviderConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModel creates the chat model used by both analysis and synthesis. Model name,
// temperature and token limit are set per request by the caller.
func NewChatModel(ctx context.Context, client *genai.Client, cfg model.ProviderConfig) (*gemini.ChatModel, error) {
	conf := &gemini.Config{
		Client: client,
		Model:  cfg.ChatModel,
	}
	if cfg.ThinkingBudget >= 0 {
		conf.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(cfg.ThinkingBudget),
		}
	}

	chatModel, err := gemini.NewChatModel(ctx, conf)
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.ChatModel).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return chatModel, nil
}
