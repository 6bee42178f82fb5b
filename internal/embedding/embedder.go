package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// Embedder turns content units into vectors through a fresh Batcher per call
type Embedder struct {
	client    Client
	tokenizer Tokenizer
	opts      []BatcherOption
}

func NewEmbedder(client Client, tokenizer Tokenizer, opts ...BatcherOption) *Embedder {
	return &Embedder{client: client, tokenizer: tokenizer, opts: opts}
}

// Embed returns one vector per unit, in unit order. Any failed request
// aborts the whole call.
func (e *Embedder) Embed(ctx context.Context, units []models.ContentUnit) ([][]float32, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Content()
	}
	return e.EmbedTexts(ctx, texts)
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	b := NewBatcher(e.client, e.tokenizer, e.opts...)
	for _, text := range texts {
		if err := b.Add(ctx, text); err != nil {
			return nil, err
		}
	}
	if err := b.Flush(ctx); err != nil {
		return nil, err
	}

	vectors := b.Vectors()
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d texts, %d vectors", models.ErrMismatchedLengths, len(texts), len(vectors))
	}
	log.Debug().Int("texts", len(texts)).Ints("batches", b.BatchSizes()).Msg("Embedded texts")
	return vectors, nil
}

// EmbedQuery embeds a single query string
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbeddingFunc adapts the embedder to the query-side signature the vector
// stores expect.
func (e *Embedder) EmbeddingFunc() func(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedQuery
}
