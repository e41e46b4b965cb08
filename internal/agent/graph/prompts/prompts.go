package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// NotFound is the exact reply the response prompt asks for when the context has no answer.
const NotFound = "NOT_FOUND"

//go:embed template/analysis_prompt.txt
var analysisSystemPrompt string

//go:embed template/response_prompt.txt
var responseSystemPrompt string

type AnalysisVars struct {
	BusinessName string
	UserMessage  string
	// History is the formatted recent conversation, empty for a first turn.
	History string
}

type ResponseVars struct {
	BusinessName string
	UserMessage  string
	Language     string
	Context      string
}

// RenderAnalysis renders the analysis messages via the Eino prompt component,
// which also emits Prompt callbacks.
func RenderAnalysis(ctx context.Context, vars AnalysisVars) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(analysisSystemPrompt),
		schema.UserMessage("{{.UserMessage}}"),
	)
	msgs, err := tpl.Format(withPromptInfo(ctx, "analysis_prompt"), map[string]any{
		"BusinessName": vars.BusinessName,
		"UserMessage":  vars.UserMessage,
		"History":      vars.History,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("analysis prompt render: expected 2 messages, got %d", len(msgs))
	}
	return msgs, nil
}

// RenderResponse renders the grounded answer messages for a search_and_answer turn.
func RenderResponse(ctx context.Context, vars ResponseVars) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(responseSystemPrompt),
		schema.UserMessage("{{.UserMessage}}"),
	)
	msgs, err := tpl.Format(withPromptInfo(ctx, "response_prompt"), map[string]any{
		"BusinessName": vars.BusinessName,
		"UserMessage":  vars.UserMessage,
		"Language":     vars.Language,
		"Context":      vars.Context,
		"NotFound":     NotFound,
	})
	if err != nil {
		return nil, fmt.Errorf("response prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("response prompt render: expected 2 messages, got %d", len(msgs))
	}
	return msgs, nil
}

func withPromptInfo(ctx context.Context, name string) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "GoTemplate",
		Component: components.ComponentOfPrompt,
	})
}
