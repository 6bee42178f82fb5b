package llmservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
)

type stubModel struct {
	resp *llms.ContentResponse
	err  error
}

func (s stubModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return s.resp, s.err
}

func (s stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, opts...)
}

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "The answer is 4.", CleanResponse("<think>\nlet me add\n2+2</think>\n The answer is 4. "))
	assert.Equal(t, "plain", CleanResponse("plain"))
}

func TestGenerateContent(t *testing.T) {
	ctx := context.Background()

	got, err := GenerateContent(ctx, stubModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "<think>x</think>hi"}}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = GenerateContent(ctx, stubModel{resp: &llms.ContentResponse{}}, nil)
	assert.ErrorIs(t, err, ErrNoChoices)

	boom := errors.New("boom")
	_, err = GenerateContent(ctx, stubModel{err: boom}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(&config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o", Key: "Bearer sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = NewModel(&config.LLMConfig{Provider: config.ProviderOllama, Model: "llava", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = NewModel(&config.LLMConfig{Provider: "bedrock", Model: "x"})
	assert.Error(t, err)
}

func TestNewEmbeddingClient(t *testing.T) {
	c, err := NewEmbeddingClient(&config.LLMConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small", Key: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewEmbeddingClient(&config.LLMConfig{Provider: "bedrock"})
	assert.Error(t, err)
}
