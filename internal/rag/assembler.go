package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"pdf-rag/internal/models"
)

var promptTemplate = prompts.PromptTemplate{
	Template:       models.RAGPromptTemplate,
	InputVariables: []string{"context", "question"},
	TemplateFormat: prompts.TemplateFormatFString,
}

// Prompt is the user turn built from a query and its retrieval result
type Prompt struct {
	// NoAnswer is set for an empty query; nothing should be sent anywhere.
	NoAnswer bool
	// Grounded is false when no hit passed the distance threshold and Text
	// is the raw query.
	Grounded bool
	Text     string
	Context  []string
	Images   []models.ImageUnit
	Sources  []models.Hit
}

// Assemble keeps the hits strictly closer than threshold, splits them into
// text context and images in retrieval order, and formats the prompt text.
// It has no side effects.
func Assemble(query string, result models.QueryResult, threshold float32) (Prompt, error) {
	if query == "" {
		return Prompt{NoAnswer: true}, nil
	}

	var p Prompt
	for _, hit := range result.Hits {
		if hit.Distance >= threshold {
			continue
		}
		p.Sources = append(p.Sources, hit)
		if img, ok := hit.Unit.(models.ImageUnit); ok {
			p.Images = append(p.Images, img)
			continue
		}
		p.Context = append(p.Context, hit.Unit.Content())
	}

	if len(p.Sources) == 0 {
		return Prompt{Text: query}, nil
	}

	text, err := promptTemplate.Format(map[string]any{
		"context":  strings.Join(p.Context, models.ContextSeparator),
		"question": query,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to format prompt: %w", err)
	}
	p.Grounded = true
	p.Text = text
	return p, nil
}

// Message renders the prompt as one human turn: the text first, then each
// image in retrieval order.
func (p Prompt) Message() llms.MessageContent {
	parts := make([]llms.ContentPart, 0, 1+len(p.Images))
	parts = append(parts, llms.TextPart(p.Text))
	for _, img := range p.Images {
		parts = append(parts, llms.ImageURLPart(img.DataURL()))
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts}
}

// SourceList names the file and page of every hit used as context
func (p Prompt) SourceList() string {
	seen := make(map[string]bool)
	var out []string
	for _, hit := range p.Sources {
		loc := hit.Unit.Origin()
		s := fmt.Sprintf("%s (page %d)", loc.Source, loc.PageNumber)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}
