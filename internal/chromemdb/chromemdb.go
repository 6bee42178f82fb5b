package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// VectorDBManager is the chromem-go backed document store. One collection
// holds every unit of every ingested file.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	exportPath    string
	compress      bool
	encryptionKey string
}

// NewVectorDBManager opens (or creates) the persistent database at cfg.Path
// and the collection named cfg.Collection. embed is used for query text.
func NewVectorDBManager(cfg config.StoreConfig, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        cfg.Path,
		exportPath:    cfg.ExportPath,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	log.Debug().Str("path", cfg.Path).Str("collection", cfg.Collection).Int("count", m.Count()).Msg("Opened vector database")
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Add stores parallel ids, embeddings, documents and metadatas. Adding an
// id that already exists overwrites it.
func (m *VectorDBManager) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]string) error {
	if len(embeddings) != len(ids) || len(documents) != len(ids) || len(metadatas) != len(ids) {
		return fmt.Errorf("%w: ids=%d embeddings=%d documents=%d metadatas=%d",
			models.ErrMismatchedLengths, len(ids), len(embeddings), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   documents[i],
			Metadata:  metadatas[i],
			Embedding: embeddings[i],
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// AddUnits stores units with their precomputed vectors
func (m *VectorDBManager) AddUnits(ctx context.Context, units []models.ContentUnit, embeddings [][]float32) error {
	ids := make([]string, len(units))
	documents := make([]string, len(units))
	metadatas := make([]map[string]string, len(units))
	for i, u := range units {
		ids[i] = u.ID()
		documents[i] = u.Content()
		metadatas[i] = models.Metadata(u)
	}
	return m.Add(ctx, ids, embeddings, documents, metadatas)
}

// Query returns the k nearest units to text, nearest first. Distance is
// 1 - cosine similarity.
func (m *VectorDBManager) Query(ctx context.Context, text string, k int) (models.QueryResult, error) {
	if text == "" {
		return models.QueryResult{}, errors.New("query text is empty")
	}
	if k <= 0 {
		k = models.DefaultTopK
	}

	count := m.collection.Count()
	if count == 0 {
		return models.QueryResult{}, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryText: text,
		NResults:  min(k, count),
	})
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		unit, err := models.UnitFromStored(r.ID, r.Content, r.Metadata)
		if err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Skipping unreadable document")
			continue
		}
		hits = append(hits, models.Hit{ID: r.ID, Distance: 1 - r.Similarity, Unit: unit})
	}
	return models.QueryResult{Hits: hits}, nil
}

// DeleteBySource removes every unit ingested from the named file
func (m *VectorDBManager) DeleteBySource(ctx context.Context, source string) error {
	if m.collection.Count() == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, map[string]string{models.MetaSource: source}, nil); err != nil {
		return fmt.Errorf("failed to delete documents of %s: %w", source, err)
	}
	return nil
}

// ReplaceSource stores units as the new content of source and then drops
// whatever the file had stored before. A failed add leaves the previous
// entries untouched.
func (m *VectorDBManager) ReplaceSource(ctx context.Context, source string, units []models.ContentUnit, embeddings [][]float32) error {
	if err := m.AddUnits(ctx, units, embeddings); err != nil {
		return err
	}
	if len(units) == 0 {
		return nil
	}

	keep := make(map[string]bool, len(units))
	for _, u := range units {
		keep[u.ID()] = true
	}

	// chromem has no listing call, a filtered query over the whole collection returns every id of source
	stored, err := m.collection.QueryEmbedding(ctx, embeddings[0], m.collection.Count(), map[string]string{models.MetaSource: source}, nil)
	if err != nil {
		return fmt.Errorf("failed to list documents of %s: %w", source, err)
	}
	var stale []string
	for _, r := range stored {
		if !keep[r.ID] {
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, stale...); err != nil {
		return fmt.Errorf("failed to delete previous documents of %s: %w", source, err)
	}
	log.Debug().Str("source", source).Int("removed", len(stale)).Msg("Dropped previous documents")
	return nil
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// DeleteCollection drops the collection and starts an empty one under the same name
func (m *VectorDBManager) DeleteCollection() error {
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

// Export writes the collection to an encrypted snapshot file
func (m *VectorDBManager) Export(path string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if path == "" {
		path = m.defaultExportPath()
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", path).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one in the snapshot file
func (m *VectorDBManager) Import(path string) error {
	if path == "" {
		path = m.defaultExportPath()
	}

	name := m.collection.Name
	log.Debug().Str("collection", name).Str("file", path).Msg("Importing collection")
	if err := m.db.ImportFromFile(path, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}

	// the import swaps in a new collection object
	if c := m.db.GetCollection(name, m.embed); c != nil {
		m.collection = c
	}
	return nil
}

func (m *VectorDBManager) defaultExportPath() string {
	if m.exportPath != "" {
		return m.exportPath
	}
	ext := ".gob"
	if m.compress {
		ext += ".gz"
	}
	if m.encryptionKey != "" {
		ext += ".enc"
	}
	return filepath.Join(m.dbPath, m.collection.Name+ext)
}
