package providers

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// TaskTypeRetrievalQuery tunes embeddings for matching a short query against stored documents.
const TaskTypeRetrievalQuery = "RETRIEVAL_QUERY"

// GenAIEmbedder turns text into vectors with the Gemini embedding endpoint.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

func NewGenAIEmbedder(client *genai.Client, model, taskType string) (*GenAIEmbedder, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if taskType == "" {
		taskType = TaskTypeRetrievalQuery
	}
	return &GenAIEmbedder{client: client, model: model, taskType: taskType}, nil
}

// EmbedStrings embeds texts in one batch request.
func (e *GenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embed returned %d embeddings for %d texts", embeddingCount(result), len(texts))
	}

	out := make([][]float64, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("genai embed returned an empty embedding at %d", i)
		}
		out[i] = toFloat64(emb.Values)
	}
	return out, nil
}

func embeddingCount(r *genai.EmbedContentResponse) int {
	if r == nil {
		return 0
	}
	return len(r.Embeddings)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

var _ embedding.Embedder = (*GenAIEmbedder)(nil)
