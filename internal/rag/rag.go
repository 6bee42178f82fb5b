package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
)

// Retriever is the read side of a document store
type Retriever interface {
	Query(ctx context.Context, text string, k int) (models.QueryResult, error)
}

type RAG struct {
	store Retriever
	model llms.Model

	topK              int
	maxDistance       float32
	storeTimeout      time.Duration
	completionTimeout time.Duration
	retry             config.RetryConfig
}

func NewRAG(store Retriever, model llms.Model, cfg *config.Config) *RAG {
	return &RAG{
		store:             store,
		model:             model,
		topK:              cfg.RAG.TopK,
		maxDistance:       cfg.RAG.MaxDistance,
		storeTimeout:      cfg.Timeouts.Store,
		completionTimeout: cfg.Timeouts.Completion,
		retry:             cfg.Retry,
	}
}

// Ask answers query within the session and returns only the answer text
func (r *RAG) Ask(ctx context.Context, session *Session, query string) (string, error) {
	resp, err := r.Query(ctx, session, query)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Query retrieves context for query, appends the user turn to the session,
// asks the model and appends its answer. An empty query returns an empty
// answer without touching the store, the model or the history. When the
// model fails the user turn is removed again.
func (r *RAG) Query(ctx context.Context, session *Session, query string) (models.PromptResponse, error) {
	if query == "" {
		return models.PromptResponse{}, nil
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return models.PromptResponse{}, ErrSessionClosed
	}

	result := r.retrieve(ctx, query)
	prompt, err := Assemble(query, result, r.maxDistance)
	if err != nil {
		return models.PromptResponse{}, models.NewPipelineError(models.StageCompletion, "", err)
	}
	log.Debug().
		Int("hits", result.Len()).
		Int("used", len(prompt.Sources)).
		Int("images", len(prompt.Images)).
		Bool("grounded", prompt.Grounded).
		Msg("Assembled prompt")

	session.history = append(session.history, prompt.Message())
	messages := session.history

	answer, err := helper.Retry(ctx, r.retry, r.completionTimeout, "completion", func(ctx context.Context) (string, error) {
		return llmservice.GenerateContent(ctx, r.model, messages)
	})
	if err != nil {
		session.history = session.history[:len(session.history)-1]
		return models.PromptResponse{}, models.NewPipelineError(models.StageCompletion, "", err)
	}

	session.history = append(session.history, llms.TextParts(llms.ChatMessageTypeAI, answer))

	return models.PromptResponse{
		Query:   query,
		Source:  prompt.SourceList(),
		Content: answer,
	}, nil
}

// retrieve falls back to an empty result when the store cannot be reached so
// the question is still answered, just without context.
func (r *RAG) retrieve(ctx context.Context, query string) models.QueryResult {
	if r.store == nil {
		return models.QueryResult{}
	}
	if r.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.storeTimeout)
		defer cancel()
	}
	result, err := r.store.Query(ctx, query, r.topK)
	if err != nil {
		log.Warn().Err(fmt.Errorf("failed to query store: %w", err)).Msg("Answering without document context")
		return models.QueryResult{}
	}
	return result
}
