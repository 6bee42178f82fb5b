package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

const tableName = "pdf_chunks"

// Chunk is one stored content unit
type Chunk struct {
	bun.BaseModel `bun:"table:pdf_chunks,alias:c"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Kind          string            `bun:"kind,notnull"`
	Source        string            `bun:"source,notnull"`
	PageNumber    int               `bun:"page_number"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector"`
}

type scoredChunk struct {
	Chunk    `bun:",extend"`
	Distance float32 `bun:"distance"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Store is the Postgres + pgvector document store
type Store struct {
	db         *bun.DB
	embed      func(ctx context.Context, text string) ([]float32, error)
	dimensions int
}

func NewStore(db *bun.DB, embed func(ctx context.Context, text string) ([]float32, error), dimensions int) *Store {
	return &Store{db: db, embed: embed, dimensions: dimensions}
}

// Init creates the vector extension and the chunks table
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if s.dimensions > 0 {
		_, err := s.db.ExecContext(ctx, "ALTER TABLE ? ALTER COLUMN embedding TYPE vector(?)", bun.Ident(tableName), s.dimensions)
		if err != nil {
			return fmt.Errorf("failed to set vector dimensions: %w", err)
		}
	}
	return nil
}

func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.dropQuery().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}

// Reset drops every stored chunk and recreates the empty table
func (s *Store) Reset(ctx context.Context) error {
	if err := s.Drop(ctx); err != nil {
		return err
	}
	return s.Init(ctx)
}

func (s *Store) dropQuery() *bun.DropTableQuery {
	return s.db.NewDropTable().Model((*Chunk)(nil)).IfExists()
}

// Add upserts parallel ids, embeddings, documents and metadatas
func (s *Store) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]string) error {
	rows, err := toRows(ids, embeddings, documents, metadatas)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := upsertQuery(s.db, &rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (s *Store) AddUnits(ctx context.Context, units []models.ContentUnit, embeddings [][]float32) error {
	ids, documents, metadatas := unitColumns(units)
	return s.Add(ctx, ids, embeddings, documents, metadatas)
}

// ReplaceSource upserts units and deletes the other chunks of source in one
// transaction, so a failed write keeps the previous version of the file.
func (s *Store) ReplaceSource(ctx context.Context, source string, units []models.ContentUnit, embeddings [][]float32) error {
	ids, documents, metadatas := unitColumns(units)
	rows, err := toRows(ids, embeddings, documents, metadatas)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := upsertQuery(tx, &rows).Exec(ctx); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		res, err := staleQuery(tx, source, ids).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete previous chunks of %s: %w", source, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Debug().Str("source", source).Int64("removed", n).Msg("Dropped previous chunks")
		}
		return nil
	})
}

func upsertQuery(idb bun.IDB, rows *[]Chunk) *bun.InsertQuery {
	return idb.NewInsert().
		Model(rows).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("kind = EXCLUDED.kind").
		Set("source = EXCLUDED.source").
		Set("page_number = EXCLUDED.page_number").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding")
}

// staleQuery deletes the chunks of source whose id is not in keep
func staleQuery(idb bun.IDB, source string, keep []string) *bun.DeleteQuery {
	return idb.NewDelete().
		Model((*Chunk)(nil)).
		Where("source = ?", source).
		Where("id NOT IN (?)", bun.In(keep))
}

func unitColumns(units []models.ContentUnit) ([]string, []string, []map[string]string) {
	ids := make([]string, len(units))
	documents := make([]string, len(units))
	metadatas := make([]map[string]string, len(units))
	for i, u := range units {
		ids[i] = u.ID()
		documents[i] = u.Content()
		metadatas[i] = models.Metadata(u)
	}
	return ids, documents, metadatas
}

// Query embeds text and returns the k nearest chunks by cosine distance
func (s *Store) Query(ctx context.Context, text string, k int) (models.QueryResult, error) {
	if text == "" {
		return models.QueryResult{}, errors.New("query text is empty")
	}
	if k <= 0 {
		k = models.DefaultTopK
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to embed query: %w", err)
	}

	var rows []scoredChunk
	if err := s.nearest(&rows, vec, k).Scan(ctx); err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to search chunks: %w", err)
	}

	hits := make([]models.Hit, 0, len(rows))
	for _, r := range rows {
		unit, err := models.UnitFromStored(r.ID, r.Content, r.Metadata)
		if err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Skipping unreadable chunk")
			continue
		}
		hits = append(hits, models.Hit{ID: r.ID, Distance: r.Distance, Unit: unit})
	}
	return models.QueryResult{Hits: hits}, nil
}

func (s *Store) nearest(rows *[]scoredChunk, vec []float32, k int) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(rows).
		Column("id", "content", "kind", "source", "page_number", "metadata").
		ColumnExpr("c.embedding <=> ? AS distance", pgvector.NewVector(vec)).
		OrderExpr("distance ASC").
		Limit(k)
}

func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	_, err := s.db.NewDelete().Model((*Chunk)(nil)).Where("source = ?", source).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", source, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*Chunk)(nil)).Count(ctx)
}

func toRows(ids []string, embeddings [][]float32, documents []string, metadatas []map[string]string) ([]Chunk, error) {
	if len(embeddings) != len(ids) || len(documents) != len(ids) || len(metadatas) != len(ids) {
		return nil, fmt.Errorf("%w: ids=%d embeddings=%d documents=%d metadatas=%d",
			models.ErrMismatchedLengths, len(ids), len(embeddings), len(documents), len(metadatas))
	}

	rows := make([]Chunk, len(ids))
	for i, id := range ids {
		unit, err := models.UnitFromStored(id, documents[i], metadatas[i])
		if err != nil {
			return nil, fmt.Errorf("invalid metadata for %s: %w", id, err)
		}
		rows[i] = Chunk{
			ID:         id,
			Content:    documents[i],
			Kind:       string(unit.Kind()),
			Source:     unit.Origin().Source,
			PageNumber: unit.Origin().PageNumber,
			Metadata:   metadatas[i],
			Embedding:  pgvector.NewVector(embeddings[i]),
		}
	}
	return rows, nil
}
