package rag

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

type fakeStore struct {
	result  models.QueryResult
	err     error
	queries []string
	ks      []int
}

func (s *fakeStore) Query(_ context.Context, text string, k int) (models.QueryResult, error) {
	s.queries = append(s.queries, text)
	s.ks = append(s.ks, k)
	return s.result, s.err
}

type fakeModel struct {
	answers  []string
	failures int
	calls    [][]llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, slices.Clone(msgs))
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("model unavailable")
	}
	answer := "answer"
	if len(m.answers) > 0 {
		answer, m.answers = m.answers[0], m.answers[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry = config.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	cfg.Timeouts.Completion = time.Second
	cfg.Timeouts.Store = time.Second
	return cfg
}

func mixedResult() models.QueryResult {
	return models.QueryResult{Hits: []models.Hit{
		{ID: "a", Distance: 0.3, Unit: models.TextUnit{UnitID: "a", Text: "Revenue grew 12% in 2023.", Loc: models.Origin{Source: "report.pdf", PageNumber: 2}}},
		{ID: "b", Distance: 0.9, Unit: models.ImageUnit{UnitID: "b", Summary: "bar chart of revenue", Base64: "QUJD", MIMEType: "image/png", Loc: models.Origin{Source: "report.pdf", PageNumber: 3}}},
		{ID: "c", Distance: 1.2, Unit: models.TextUnit{UnitID: "c", Text: "unrelated footnote", Loc: models.Origin{Source: "report.pdf", PageNumber: 9}}},
	}}
}

func TestAssembleFiltersByThreshold(t *testing.T) {
	p, err := Assemble("How did revenue change?", mixedResult(), 1.0)
	require.NoError(t, err)

	assert.True(t, p.Grounded)
	assert.Equal(t, []string{"Revenue grew 12% in 2023."}, p.Context)
	require.Len(t, p.Images, 1)
	assert.Equal(t, "b", p.Images[0].UnitID)
	assert.Len(t, p.Sources, 2)
	assert.Contains(t, p.Text, "Context: Revenue grew 12% in 2023.")
	assert.Contains(t, p.Text, "Question: How did revenue change?")
	assert.NotContains(t, p.Text, "unrelated footnote")
	assert.NotContains(t, p.Text, "bar chart")
	assert.Equal(t, "report.pdf (page 2), report.pdf (page 3)", p.SourceList())

	msg := p.Message()
	assert.Equal(t, llms.ChatMessageTypeHuman, msg.Role)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, llms.TextContent{Text: p.Text}, msg.Parts[0])
	assert.Equal(t, llms.ImageURLContent{URL: "data:image/png;base64,QUJD"}, msg.Parts[1])
}

func TestAssembleDropsFarImage(t *testing.T) {
	result := models.QueryResult{Hits: []models.Hit{
		{ID: "a", Distance: 0.3, Unit: models.TextUnit{UnitID: "a", Text: "Revenue grew 12% in 2023.", Loc: models.Origin{Source: "report.pdf", PageNumber: 2}}},
		{ID: "b", Distance: 0.9, Unit: models.TextUnit{UnitID: "b", Text: "Costs stayed flat.", Loc: models.Origin{Source: "report.pdf", PageNumber: 4}}},
		{ID: "c", Distance: 1.2, Unit: models.ImageUnit{UnitID: "c", Summary: "company logo", Base64: "TE9HTw==", MIMEType: "image/png", Loc: models.Origin{Source: "report.pdf", PageNumber: 1}}},
	}}

	p, err := Assemble("How did the year go?", result, 1.0)
	require.NoError(t, err)

	assert.True(t, p.Grounded)
	assert.Equal(t, []string{"Revenue grew 12% in 2023.", "Costs stayed flat."}, p.Context)
	assert.Empty(t, p.Images)
	assert.Contains(t, p.Text, "Revenue grew 12% in 2023."+models.ContextSeparator+"Costs stayed flat.")

	msg := p.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, llms.TextContent{Text: p.Text}, msg.Parts[0])
	assert.Equal(t, "report.pdf (page 2), report.pdf (page 4)", p.SourceList())
}

func TestAssembleThresholdIsStrict(t *testing.T) {
	result := models.QueryResult{Hits: []models.Hit{
		{ID: "a", Distance: 1.0, Unit: models.TextUnit{UnitID: "a", Text: "edge"}},
	}}
	p, err := Assemble("q", result, 1.0)
	require.NoError(t, err)
	assert.False(t, p.Grounded)
	assert.Equal(t, "q", p.Text)
}

func TestAssembleJoinsContextInOrder(t *testing.T) {
	result := models.QueryResult{Hits: []models.Hit{
		{ID: "a", Distance: 0.1, Unit: models.TextUnit{UnitID: "a", Text: "first"}},
		{ID: "b", Distance: 0.2, Unit: models.TableUnit{UnitID: "b", HTML: "<table></table>"}},
		{ID: "c", Distance: 0.3, Unit: models.TextUnit{UnitID: "c", Text: "third"}},
	}}
	p, err := Assemble("q", result, 1.0)
	require.NoError(t, err)
	assert.Contains(t, p.Text, "first"+models.ContextSeparator+"<table></table>"+models.ContextSeparator+"third")
	assert.Empty(t, p.Images)
}

func TestAssembleEdgeCases(t *testing.T) {
	p, err := Assemble("", mixedResult(), 1.0)
	require.NoError(t, err)
	assert.True(t, p.NoAnswer)

	p, err = Assemble("hello", models.QueryResult{}, 1.0)
	require.NoError(t, err)
	assert.False(t, p.Grounded)
	assert.Equal(t, "hello", p.Text)
	assert.Len(t, p.Message().Parts, 1)

	first, err := Assemble("q", mixedResult(), 1.0)
	require.NoError(t, err)
	second, err := Assemble("q", mixedResult(), 1.0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQueryAppendsTurns(t *testing.T) {
	store := &fakeStore{result: mixedResult()}
	model := &fakeModel{answers: []string{"<think>hmm</think>It grew 12%.", "Page 3."}}
	r := NewRAG(store, model, testConfig())
	s := NewSession()

	resp, err := r.Query(context.Background(), s, "How did revenue change?")
	require.NoError(t, err)
	assert.Equal(t, "It grew 12%.", resp.Content)
	assert.Equal(t, "How did revenue change?", resp.Query)
	assert.Equal(t, "report.pdf (page 2), report.pdf (page 3)", resp.Source)
	assert.Equal(t, []int{models.DefaultTopK}, store.ks)

	answer, err := r.Ask(context.Background(), s, "Where is the chart?")
	require.NoError(t, err)
	assert.Equal(t, "Page 3.", answer)

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, llms.ChatMessageTypeHuman, history[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, history[1].Role)
	assert.Equal(t, llms.TextContent{Text: "It grew 12%."}, history[1].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, history[2].Role)

	// the second call sees the whole conversation
	require.Len(t, model.calls, 2)
	assert.Len(t, model.calls[1], 3)
}

func TestQueryEmptyDoesNothing(t *testing.T) {
	store := &fakeStore{result: mixedResult()}
	model := &fakeModel{}
	r := NewRAG(store, model, testConfig())
	s := NewSession()

	answer, err := r.Ask(context.Background(), s, "")
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Empty(t, store.queries)
	assert.Empty(t, model.calls)
	assert.Empty(t, s.History())
}

func TestQueryUngroundedSendsRawQuery(t *testing.T) {
	store := &fakeStore{result: models.QueryResult{Hits: []models.Hit{
		{ID: "far", Distance: 1.7, Unit: models.TextUnit{UnitID: "far", Text: "noise"}},
	}}}
	model := &fakeModel{answers: []string{"Hi!"}}
	r := NewRAG(store, model, testConfig())

	resp, err := r.Query(context.Background(), NewSession(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Content)
	assert.Empty(t, resp.Source)

	require.Len(t, model.calls, 1)
	sent := model.calls[0][0]
	require.Len(t, sent.Parts, 1)
	assert.Equal(t, llms.TextContent{Text: "hello there"}, sent.Parts[0])
}

func TestQueryStoreFailureDegrades(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	model := &fakeModel{answers: []string{"ungrounded"}}
	r := NewRAG(store, model, testConfig())

	answer, err := r.Ask(context.Background(), NewSession(), "what is this?")
	require.NoError(t, err)
	assert.Equal(t, "ungrounded", answer)
	assert.Equal(t, llms.TextContent{Text: "what is this?"}, model.calls[0][0].Parts[0])
}

func TestQueryModelFailureRollsBack(t *testing.T) {
	model := &fakeModel{failures: 10}
	r := NewRAG(&fakeStore{result: mixedResult()}, model, testConfig())
	s := NewSession()

	_, err := r.Ask(context.Background(), s, "q")
	require.Error(t, err)
	stage, ok := models.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, models.StageCompletion, stage)
	assert.Empty(t, s.History())
	// one attempt plus one retry
	assert.Len(t, model.calls, 2)

	model.failures = 0
	model.answers = []string{"recovered"}
	answer, err := r.Ask(context.Background(), s, "q")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	assert.Len(t, s.History(), 2)
}

func TestQueryClosedSession(t *testing.T) {
	r := NewRAG(&fakeStore{}, &fakeModel{}, testConfig())
	s := NewSession()
	s.Close()

	_, err := r.Ask(context.Background(), s, "q")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, s.Closed())
}

func TestSessionFilesAndReset(t *testing.T) {
	s := NewSession()
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.AddFile("a.pdf"))
	assert.True(t, s.AddFile("b.pdf"))
	assert.False(t, s.AddFile("a.pdf"))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, s.Files())

	r := NewRAG(nil, &fakeModel{}, testConfig())
	_, err := r.Ask(context.Background(), s, "q")
	require.NoError(t, err)
	assert.Len(t, s.History(), 2)

	s.Reset()
	assert.Empty(t, s.History())
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, s.Files())
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRAG(&fakeStore{}, &fakeModel{}, testConfig())
	a, b := NewSession(), NewSession()

	_, err := r.Ask(context.Background(), a, "only in a")
	require.NoError(t, err)
	assert.Len(t, a.History(), 2)
	assert.Empty(t, b.History())
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.Contains(a.History()[0].Parts[0].(llms.TextContent).Text, "only in a"))
}
