package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

func TestNewGenAIClientRequiresKey(t *testing.T) {
	_, err := NewGenAIClient(context.Background(), model.ProviderConfig{})
	assert.Error(t, err)
}

func TestNewGenAIEmbedderRequiresClient(t *testing.T) {
	_, err := NewGenAIEmbedder(nil, "", "")
	assert.Error(t, err)
}

func TestEmbedStringsEmptyInput(t *testing.T) {
	client, err := NewGenAIClient(context.Background(), model.ProviderConfig{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	e, err := NewGenAIEmbedder(client, "", "")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", e.model)
	assert.Equal(t, TaskTypeRetrievalQuery, e.taskType)

	out, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestToFloat64(t *testing.T) {
	assert.Equal(t, []float64{0.5, -1}, toFloat64([]float32{0.5, -1}))
	assert.Empty(t, toFloat64(nil))
}
