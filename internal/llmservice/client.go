package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

var (
	ErrNoChoices = errors.New("model returned no choices")

	thinkTag = regexp.MustCompile(models.ThinkTag)
)

// EmbeddingModel is what the embedding batcher needs from a provider
type EmbeddingModel interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewModel builds the chat model described by cfg
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating chat model")
	switch cfg.Provider {
	case config.ProviderOllama:
		return newOllama(cfg, false)
	case config.ProviderOpenAI, "":
		return newOpenAI(cfg, false)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// NewEmbeddingClient builds the embedding endpoint described by cfg
func NewEmbeddingClient(cfg *config.LLMConfig) (EmbeddingModel, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating embedding client")
	switch cfg.Provider {
	case config.ProviderOllama:
		return newOllama(cfg, true)
	case config.ProviderOpenAI, "":
		return newOpenAI(cfg, true)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newOpenAI(cfg *config.LLMConfig, embedding bool) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if embedding {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	} else {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return llm, nil
}

func newOllama(cfg *config.LLMConfig, embedding bool) (*ollama.LLM, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	if embedding {
		opts = append(opts, ollama.WithRunnerEmbeddingOnly(true))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return llm, nil
}

// call llm
func GenerateContent(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	res, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", ErrNoChoices
	}
	return CleanResponse(res.Choices[0].Content), nil
}

// CleanResponse drops <think> blocks emitted by reasoning models
func CleanResponse(s string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(s, ""))
}
