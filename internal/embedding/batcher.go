package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
)

// Client is the embedding endpoint. langchaingo's openai and ollama LLMs
// satisfy it directly.
type Client interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Limits struct {
	MaxItems  int
	MaxTokens int
}

func DefaultLimits() Limits {
	return Limits{MaxItems: models.MaxItemsPerRequest, MaxTokens: models.MaxTokensPerRequest}
}

// Batcher accumulates texts into requests that stay inside Limits and
// collects the returned vectors in input order. It is not safe for
// concurrent use.
type Batcher struct {
	client    Client
	tokenizer Tokenizer
	limits    Limits
	retry     config.RetryConfig
	timeout   time.Duration

	texts  []string
	tokens int

	vectors [][]float32
	sizes   []int
}

type BatcherOption func(*Batcher)

func WithLimits(l Limits) BatcherOption {
	return func(b *Batcher) {
		if l.MaxItems > 0 {
			b.limits.MaxItems = l.MaxItems
		}
		if l.MaxTokens > 0 {
			b.limits.MaxTokens = l.MaxTokens
		}
	}
}

func WithRetry(r config.RetryConfig) BatcherOption {
	return func(b *Batcher) { b.retry = r }
}

// WithTimeout bounds every embedding request
func WithTimeout(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.timeout = d }
}

func NewBatcher(client Client, tokenizer Tokenizer, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		client:    client,
		tokenizer: tokenizer,
		limits:    DefaultLimits(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues text, flushing the pending batch first when text would push it
// over either limit. An empty batch always accepts the text, so a text larger
// than MaxTokens goes out alone.
func (b *Batcher) Add(ctx context.Context, text string) error {
	t := b.tokenizer.CountTokens(text)
	if len(b.texts) > 0 && (b.tokens+t >= b.limits.MaxTokens || len(b.texts) >= b.limits.MaxItems) {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.texts = append(b.texts, text)
	b.tokens += t
	return nil
}

// Flush sends the pending batch as one request. It is a no-op when nothing
// is pending.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.texts) == 0 {
		return nil
	}

	texts := b.texts
	oversized := len(texts) == 1 && b.tokens > b.limits.MaxTokens
	log.Debug().Int("batch_size", len(texts)).Int("tokens", b.tokens).Bool("oversized", oversized).Msg("Embedding batch")

	vectors, err := b.request(ctx, texts, oversized)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: sent %d texts, got %d vectors", models.ErrMismatchedLengths, len(texts), len(vectors))
	}

	b.vectors = append(b.vectors, vectors...)
	b.sizes = append(b.sizes, len(texts))
	b.texts = nil
	b.tokens = 0
	return nil
}

// an oversized singleton is sent exactly once
func (b *Batcher) request(ctx context.Context, texts []string, oversized bool) ([][]float32, error) {
	retry := b.retry
	if oversized {
		retry.MaxRetries = 0
	}
	vectors, err := helper.Retry(ctx, retry, b.timeout, "embedding", func(ctx context.Context) ([][]float32, error) {
		return b.client.CreateEmbedding(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch of %d: %w", len(texts), err)
	}
	return vectors, nil
}

// Vectors returns every vector flushed so far, aligned with the order of Add
func (b *Batcher) Vectors() [][]float32 { return b.vectors }

// BatchSizes returns the item count of each request sent
func (b *Batcher) BatchSizes() []int { return b.sizes }

// Pending reports how many texts wait for the next flush
func (b *Batcher) Pending() int { return len(b.texts) }
