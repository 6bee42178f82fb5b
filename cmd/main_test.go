package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

func lengthEmbed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text))}, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager(config.StoreConfig{Path: t.TempDir(), Collection: "docs", InMemory: true}, lengthEmbed)
	require.NoError(t, err)

	units := []models.ContentUnit{
		models.TextUnit{UnitID: "a1", Text: "alpha", Loc: models.Origin{Source: "a.pdf", PageNumber: 1}},
		models.TextUnit{UnitID: "a2", Text: "alpha two", Loc: models.Origin{Source: "a.pdf", PageNumber: 2}},
		models.TextUnit{UnitID: "b1", Text: "beta", Loc: models.Origin{Source: "b.pdf", PageNumber: 1}},
	}
	vectors := make([][]float32, len(units))
	for i, u := range units {
		vectors[i], _ = lengthEmbed(context.Background(), u.Content())
	}
	require.NoError(t, store.AddUnits(context.Background(), units, vectors))
	return &app{cfg: config.Default(), store: store, chroma: store}
}

func TestRemoveSource(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.removeSource(ctx, "docs/a.pdf"))
	n, err := a.count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// unknown names are a no-op
	require.NoError(t, a.removeSource(ctx, "missing.pdf"))
	n, err = a.count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResetStore(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.resetStore(ctx))
	n, err := a.count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the collection stays usable
	res, err := a.store.Query(ctx, "alpha", 3)
	require.NoError(t, err)
	assert.Zero(t, res.Len())
}

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		want  string
	}{
		{level: "warn", want: "warn"},
		{level: "", want: "info"},
		{level: "nonsense", want: "info"},
		{level: "error", debug: true, want: "debug"},
	}
	for _, tt := range tests {
		setLogLevel(tt.level, tt.debug)
		assert.Equal(t, tt.want, zerolog.GlobalLevel().String())
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
