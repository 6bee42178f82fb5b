package summarizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
)

// Summarizer describes an image in text so it can be embedded
type Summarizer interface {
	Summarize(ctx context.Context, base64Data, mimeType string) (string, error)
}

// ImageSummarizer asks a multimodal chat model for one summary per image
type ImageSummarizer struct {
	model   llms.Model
	prompt  string
	retry   config.RetryConfig
	timeout time.Duration
}

func NewImageSummarizer(model llms.Model, retry config.RetryConfig, timeout time.Duration) *ImageSummarizer {
	return &ImageSummarizer{
		model:   model,
		prompt:  models.ImageSummaryPrompt,
		retry:   retry,
		timeout: timeout,
	}
}

func (s *ImageSummarizer) Summarize(ctx context.Context, base64Data, mimeType string) (string, error) {
	if base64Data == "" {
		return "", errors.New("image payload is empty")
	}
	img := models.ImageUnit{Base64: base64Data, MIMEType: mimeType}

	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(s.prompt),
			llms.ImageURLPart(img.DataURL()),
		},
	}}

	summary, err := helper.Retry(ctx, s.retry, s.timeout, "summarize", func(ctx context.Context) (string, error) {
		return llmservice.GenerateContent(ctx, s.model, messages)
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize image: %w", err)
	}
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}

	log.Debug().Str("mime", mimeType).Str("summary", helper.Truncate(summary, 80)).Msg("Summarized image")
	return summary, nil
}
