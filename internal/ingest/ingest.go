package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/summarizer"
)

// Embedder returns one vector per unit, in unit order
type Embedder interface {
	Embed(ctx context.Context, units []models.ContentUnit) ([][]float32, error)
}

// Store is the write side of a document store. ReplaceSource must leave the
// previous entries of source in place when it fails.
type Store interface {
	ReplaceSource(ctx context.Context, source string, units []models.ContentUnit, embeddings [][]float32) error
}

// Result summarises one ingested document
type Result struct {
	Source        string
	Text          int
	Images        int
	Tables        int
	SkippedImages int
	Replaced      bool
}

func (r Result) Units() int { return r.Text + r.Images + r.Tables }

type Ingestor struct {
	extractor  parser.Extractor
	summarizer summarizer.Summarizer
	embedder   Embedder
	store      Store
	progress   ProgressReporter

	skipFailedImages bool
	cfg              *config.Config
}

type Option func(*Ingestor)

func WithProgress(p ProgressReporter) Option {
	return func(i *Ingestor) { i.progress = p }
}

func NewIngestor(extractor parser.Extractor, sum summarizer.Summarizer, embedder Embedder, store Store, cfg *config.Config, opts ...Option) *Ingestor {
	i := &Ingestor{
		extractor:        extractor,
		summarizer:       sum,
		embedder:         embedder,
		store:            store,
		progress:         noProgress{},
		skipFailedImages: cfg.RAG.SkipFailedImages,
		cfg:              cfg,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.progress == nil {
		i.progress = noProgress{}
	}
	return i
}

// Ingest extracts, summarizes, embeds and stores one PDF. Entries already
// stored under fileName are replaced. Failures are returned as a
// PipelineError naming the stage; nothing is written before embedding
// has succeeded and a failed write keeps the previous version.
func (i *Ingestor) Ingest(ctx context.Context, session *rag.Session, r io.Reader, fileName string) (Result, error) {
	res := Result{Source: fileName}
	if session != nil && session.Closed() {
		return res, rag.ErrSessionClosed
	}

	var elements []models.Element
	for el, err := range i.extractor.Extract(ctx, r, fileName) {
		if err != nil {
			return res, models.NewPipelineError(models.StageExtraction, fileName, err)
		}
		elements = append(elements, el)
	}
	if len(elements) == 0 {
		return res, models.NewPipelineError(models.StageExtraction, fileName, errors.New("no content found"))
	}

	units, err := i.buildUnits(ctx, elements, &res)
	if err != nil {
		return res, err
	}
	if len(units) == 0 {
		return res, models.NewPipelineError(models.StageSummarization, fileName, errors.New("every image failed to summarize"))
	}

	embeddings, err := i.embedder.Embed(ctx, units)
	if err != nil {
		return res, models.NewPipelineError(models.StageEmbedding, fileName, err)
	}

	storeCtx, cancel := i.storeContext(ctx)
	defer cancel()
	if err := i.store.ReplaceSource(storeCtx, fileName, units, embeddings); err != nil {
		return res, models.NewPipelineError(models.StageStore, fileName, err)
	}

	if session != nil {
		res.Replaced = !session.AddFile(fileName)
	}

	log.Info().
		Str("source", fileName).
		Int("text", res.Text).
		Int("images", res.Images).
		Int("tables", res.Tables).
		Int("skipped_images", res.SkippedImages).
		Msg("Ingested document")
	return res, nil
}

// buildUnits turns extractor output into content units, summarizing images
// on the way.
func (i *Ingestor) buildUnits(ctx context.Context, elements []models.Element, res *Result) ([]models.ContentUnit, error) {
	images := 0
	for _, el := range elements {
		if el.Kind == models.KindImage {
			images++
		}
	}
	i.progress.Start(images)
	defer i.progress.Finish()

	units := make([]models.ContentUnit, 0, len(elements))
	for _, el := range elements {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}

		switch el.Kind {
		case models.KindText:
			units = append(units, models.TextUnit{UnitID: id, Text: el.Text, Loc: el.Origin})
			res.Text++
		case models.KindTable:
			units = append(units, models.TableUnit{UnitID: id, HTML: el.Text, Loc: el.Origin})
			res.Tables++
		case models.KindImage:
			summary, err := i.summarizer.Summarize(ctx, el.Base64, el.MIMEType)
			i.progress.Increment()
			if err != nil {
				if i.skipFailedImages && ctx.Err() == nil {
					log.Warn().Err(err).Str("source", el.Origin.Source).Int("page", el.Origin.PageNumber).Msg("Skipping image")
					res.SkippedImages++
					continue
				}
				return nil, models.NewPipelineError(models.StageSummarization, el.Origin.Source, err)
			}
			units = append(units, models.ImageUnit{
				UnitID:   id,
				Summary:  summary,
				Base64:   el.Base64,
				MIMEType: el.MIMEType,
				Loc:      el.Origin,
			})
			res.Images++
		default:
			return nil, models.NewPipelineError(models.StageExtraction, el.Origin.Source, fmt.Errorf("unknown element kind %q", el.Kind))
		}
	}
	return units, nil
}

func (i *Ingestor) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.cfg == nil || i.cfg.Timeouts.Store <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.cfg.Timeouts.Store)
}
