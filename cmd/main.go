package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/ingest"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/summarizer"
)

const configFilePath = "./configs/config.yaml"

// fileList collects repeated -file flags
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

type documentStore interface {
	rag.Retriever
	ingest.Store
	DeleteBySource(ctx context.Context, source string) error
}

type app struct {
	cfg      *config.Config
	store    documentStore
	chroma   *chromemdb.VectorDBManager
	pg       *db.Store
	bunDB    *bun.DB
	ingestor *ingest.Ingestor
	rag      *rag.RAG
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	var files fileList
	flag.Var(&files, "file", "Path to a PDF file to ingest (repeatable)")
	query := flag.String("query", "", "Query to be answered")
	chat := flag.Bool("chat", false, "Start an interactive chat session")
	dryRun := flag.Bool("dry-run", false, "Dry run, print extracted elements without saving")
	exportPath := flag.String("export", "", "Export the collection to an encrypted snapshot file")
	importPath := flag.String("import", "", "Import the collection from a snapshot file")
	var removals fileList
	flag.Var(&removals, "remove", "File name whose stored content is deleted (repeatable)")
	reset := flag.Bool("reset", false, "Delete every stored document before anything else")
	configPath := flag.String("config", configFilePath, "Path to the config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.LogLevel, *debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		if len(files) == 0 {
			log.Fatal().Msg("Please provide at least one -file with -dry-run")
		}
		for _, path := range files {
			printElements(ctx, cfg, path)
		}
		return
	}

	if len(files) == 0 && len(removals) == 0 && *query == "" && !*chat && *exportPath == "" && *importPath == "" && !*reset {
		flag.Usage()
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	log.Debug().Str("completion_model", cfg.CompletionLLM.Model).Str("embedding_model", cfg.EmbedLLM.Model).Str("backend", cfg.Store.Backend).Msg("Loaded config")

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.Close()

	if *reset {
		if err := a.resetStore(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error resetting collection")
		}
	}

	if *importPath != "" {
		if err := a.importSnapshot(*importPath); err != nil {
			log.Fatal().Err(err).Msg("Error importing collection")
		}
	}

	for _, name := range removals {
		if err := a.removeSource(ctx, name); err != nil {
			log.Fatal().Err(err).Str("file", name).Msg("Error removing document")
		}
	}

	session := rag.NewSession()
	defer session.Close()

	for _, path := range files {
		if err := a.ingestFile(ctx, session, path); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Error ingesting document")
		}
	}

	if *query != "" {
		response, err := a.rag.Query(ctx, session, *query)
		if err != nil {
			log.Fatal().Err(err).Msg("Error querying")
		}
		printResponse(response)
	}

	if *chat {
		runChat(ctx, a, session)
	}

	if *exportPath != "" {
		if err := a.exportSnapshot(*exportPath); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
	}
}

func setLogLevel(level string, debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	chatModel, err := llmservice.NewModel(&cfg.CompletionLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	embedClient, err := llmservice.NewEmbeddingClient(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	tokenizer, err := embedding.NewTiktokenTokenizer(cfg.EmbedLLM.Model)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(embedClient, tokenizer,
		embedding.WithLimits(embedding.Limits{MaxItems: cfg.RAG.MaxItemsPerRequest, MaxTokens: cfg.RAG.MaxTokensPerRequest}),
		embedding.WithRetry(cfg.Retry),
		embedding.WithTimeout(cfg.Timeouts.Embedding),
	)

	a := &app{cfg: cfg}
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		store := db.NewStore(a.bunDB, embedder.EmbeddingFunc(), cfg.Database.Dimensions)
		if err := store.Init(ctx); err != nil {
			a.bunDB.Close()
			return nil, err
		}
		a.pg = store
		a.store = store
	default:
		if !cfg.Store.InMemory {
			if err := helper.CreateFolder(cfg.Store.Path); err != nil {
				return nil, err
			}
		}
		chroma, err := chromemdb.NewVectorDBManager(cfg.Store, embedder.EmbeddingFunc())
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
		a.chroma = chroma
		a.store = chroma
	}

	sum := summarizer.NewImageSummarizer(chatModel, cfg.Retry, cfg.Timeouts.Completion)
	a.ingestor = ingest.NewIngestor(parser.NewParser(cfg), sum, embedder, a.store, cfg,
		ingest.WithProgress(ingest.NewSummaryProgress(ingest.DefaultProgressEnabled(), "summarizing images")),
	)
	a.rag = rag.NewRAG(a.store, chatModel, cfg)
	return a, nil
}

func (a *app) Close() {
	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

func (a *app) ingestFile(ctx context.Context, session *rag.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return models.NewPipelineError(models.StageExtraction, path, err)
	}
	defer f.Close()

	res, err := a.ingestor.Ingest(ctx, session, f, filepath.Base(path))
	if err != nil {
		return err
	}
	if res.Replaced {
		log.Info().Str("file", res.Source).Msg("Replaced previously ingested document")
	}
	a.logCount(ctx)
	return nil
}

// removeSource deletes what was stored for a file name
func (a *app) removeSource(ctx context.Context, name string) error {
	if err := a.store.DeleteBySource(ctx, filepath.Base(name)); err != nil {
		return err
	}
	log.Info().Str("file", filepath.Base(name)).Msg("Removed document")
	a.logCount(ctx)
	return nil
}

// resetStore empties the whole collection
func (a *app) resetStore(ctx context.Context) error {
	switch {
	case a.chroma != nil:
		if err := a.chroma.DeleteCollection(); err != nil {
			return err
		}
	case a.pg != nil:
		if err := a.pg.Reset(ctx); err != nil {
			return err
		}
	}
	log.Info().Msg("Cleared collection")
	a.logCount(ctx)
	return nil
}

func (a *app) count(ctx context.Context) (int, error) {
	switch {
	case a.chroma != nil:
		return a.chroma.Count(), nil
	case a.pg != nil:
		return a.pg.Count(ctx)
	}
	return 0, nil
}

func (a *app) logCount(ctx context.Context) {
	n, err := a.count(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Error counting stored documents")
		return
	}
	log.Debug().Int("count", n).Msg("Collection size")
}

func (a *app) exportSnapshot(path string) error {
	if a.chroma == nil {
		return fmt.Errorf("export is only supported by the %s backend", config.BackendChromem)
	}
	if path == "" {
		path = a.cfg.Store.ExportPath
	}
	if path != "" {
		if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
			return err
		}
	}
	if err := a.chroma.Export(path); err != nil {
		return err
	}
	log.Info().Str("file", path).Int("count", a.chroma.Count()).Msg("Exported collection")
	return nil
}

func (a *app) importSnapshot(path string) error {
	if a.chroma == nil {
		return fmt.Errorf("import is only supported by the %s backend", config.BackendChromem)
	}
	if err := a.chroma.Import(path); err != nil {
		return err
	}
	log.Info().Str("file", path).Int("count", a.chroma.Count()).Msg("Imported collection")
	return nil
}

func printElements(ctx context.Context, cfg *config.Config, path string) {
	elements, err := parser.NewParser(cfg).ParseFile(ctx, path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Error parsing document")
	}
	log.Info().Str("file", path).Int("elements", len(elements)).Msg("Parsed content")
	helper.PrettyPrint(elements)
}

func printResponse(response models.PromptResponse) {
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Source)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)
}
