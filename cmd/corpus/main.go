package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/efebarandurmaz/corpus/internal/chunk"
	"github.com/efebarandurmaz/corpus/internal/config"
	"github.com/efebarandurmaz/corpus/internal/embed"
	"github.com/efebarandurmaz/corpus/internal/ingest"
	"github.com/efebarandurmaz/corpus/internal/llm"
	"github.com/efebarandurmaz/corpus/internal/llmutil"
	"github.com/efebarandurmaz/corpus/internal/query"
	"github.com/efebarandurmaz/corpus/internal/secrets"
	"github.com/efebarandurmaz/corpus/internal/vector"
	"github.com/efebarandurmaz/corpus/internal/vector/qdrant"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	temporalmod "github.com/efebarandurmaz/corpus/internal/temporal"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Document question answering over a vector index",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (defaults and CORPUS_* env apply without one)")

	var (
		docID     string
		docSource string
		async     bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Chunk, embed, and index a text document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, args[0], docID, docSource, async)
		},
	}
	ingestCmd.Flags().StringVar(&docID, "id", "", "Document id (default: file name)")
	ingestCmd.Flags().StringVar(&docSource, "source", "", "Source label stored with each chunk (default: file name)")
	ingestCmd.Flags().BoolVar(&async, "async", false, "Submit to the Temporal worker instead of ingesting in-process")

	var (
		topK       int
		sourceFlag string
		plain      bool
	)
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, strings.Join(args, " "), topK, sourceFlag, plain)
		},
	}
	askCmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (default from config)")
	askCmd.Flags().StringVar(&sourceFlag, "source", "", "Restrict retrieval to one document source")
	askCmd.Flags().BoolVar(&plain, "plain", false, "Wait for the full answer instead of streaming")

	documentsCmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage indexed documents",
	}
	documentsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested documents and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocumentsList(cmd.Context(), configPath)
		},
	}
	var deleteID string
	documentsDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a document's entries from the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocumentsDelete(cmd.Context(), configPath, deleteID)
		},
	}
	documentsDeleteCmd.Flags().StringVar(&deleteID, "id", "", "Document id to delete")
	_ = documentsDeleteCmd.MarkFlagRequired("id")
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd)

	statusCmd := &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show ingestion status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			return runStatus(configPath, id)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-10s %s\n", name, url)
			}
			fmt.Println("  custom     (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in corpus.yaml or via environment:")
			fmt.Println("  CORPUS_LLM_PROVIDER=groq")
			fmt.Println("  CORPUS_LLM_API_KEY=gsk_...")
			fmt.Println("  CORPUS_LLM_MODEL=llama-3.3-70b-versatile")
		},
	}

	rootCmd.AddCommand(ingestCmd, askCmd, documentsCmd, statusCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired pipeline components a command needs.
type app struct {
	cfg      *config.Config
	provider llm.Provider
	embedder *embed.Embedder
	repo     vector.Repository
	store    ingest.StateStore
	log      *slog.Logger
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.Log)

	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)
	provider, err := factory.Create(llm.ProviderConfig{
		Provider:   cfg.LLM.Provider,
		APIKey:     resolveAPIKey(ctx, cfg, logger),
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		EmbedModel: cfg.Embedding.Model,
		Timeout:    cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if provider == nil {
		return nil, errors.New("an LLM provider is required; set llm.provider (or CORPUS_LLM_PROVIDER)")
	}

	repo, err := qdrant.New(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Embedding.Dimension, cfg.Qdrant.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	store, err := ingest.OpenFileStore(cfg.Ingest.StateDir)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	embedder := embed.New(provider, embed.Config{
		Dimension:     cfg.Embedding.Dimension,
		MaxInputChars: cfg.Embedding.MaxInputChars,
		CacheSize:     cfg.Embedding.CacheSize,
		Timeout:       cfg.Embedding.Timeout,
	})

	return &app{
		cfg:      cfg,
		provider: provider,
		embedder: embedder,
		repo:     repo,
		store:    store,
		log:      logger,
	}, nil
}

func (a *app) Close() {
	if a.repo != nil {
		a.repo.Close()
	}
}

// resolveAPIKey falls back to the secrets backend when llm.api_key is not
// set in the config or environment directly.
func resolveAPIKey(ctx context.Context, cfg *config.Config, log *slog.Logger) string {
	if cfg.LLM.APIKey != "" {
		return cfg.LLM.APIKey
	}
	sc := &secrets.Config{Provider: cfg.Secrets.Provider}
	if cfg.Secrets.File != "" {
		sc.File = &secrets.FileConfig{Path: cfg.Secrets.File}
	}
	if cfg.Secrets.VaultAddr != "" {
		sc.Vault = &secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddr,
			Token:      cfg.Secrets.VaultToken,
			MountPath:  cfg.Secrets.VaultMount,
			SecretPath: cfg.Secrets.VaultPath,
		}
	}
	mgr, err := secrets.NewManager(sc)
	if err != nil {
		log.Warn("secrets backend unavailable", "error", err)
		return ""
	}
	return mgr.LookupOrDefault(ctx, secrets.KeyLLMAPIKey, "")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runIngest(ctx context.Context, configPath, path, docID, docSource string, async bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	if docID == "" {
		docID = filepath.Base(path)
	}
	if docSource == "" {
		docSource = filepath.Base(path)
	}
	doc := ingest.Document{
		ID:         docID,
		Text:       string(data),
		Source:     docSource,
		UploadedAt: time.Now().UTC(),
	}

	if async {
		return submitIngest(ctx, configPath, doc)
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	chunker, err := chunk.New(a.cfg.Chunking.Size, a.cfg.Chunking.Overlap)
	if err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	wf := ingest.NewWorkflow(chunker, a.embedder, a.repo, a.store, ingest.Options{
		MaxAttempts:  a.cfg.Ingest.MaxAttempts,
		InitialDelay: a.cfg.Ingest.InitialDelay,
		MaxDelay:     a.cfg.Ingest.MaxDelay,
		EmbedBatch:   a.cfg.Ingest.EmbedBatch,
	}, a.log)

	rec, err := wf.Run(ctx, doc)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", docID, err)
	}
	fmt.Printf("Ingested %s: %d chunks, %d indexed\n", rec.DocumentID, rec.ChunkCount, rec.IndexedCount)
	return nil
}

// submitIngest hands the document to the Temporal worker and returns once
// the workflow is accepted.
func submitIngest(ctx context.Context, configPath string, doc ingest.Document) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	input := temporalmod.IngestionInput{
		DocumentID: doc.ID,
		Text:       doc.Text,
		Source:     doc.Source,
		UploadedAt: doc.UploadedAt,
	}
	run, err := c.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        "ingest-" + doc.ID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, temporalmod.IngestionWorkflow, input)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	fmt.Printf("Submitted %s (workflow %s, run %s)\n", doc.ID, run.GetID(), run.GetRunID())
	return nil
}

func runAsk(ctx context.Context, configPath, question string, topK int, source string, plain bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	engine := query.NewEngine(a.embedder, a.repo, a.provider, query.EngineConfig{
		TopK:             a.cfg.Retrieval.TopK,
		MaxContextTokens: a.cfg.Retrieval.MaxContextTokens,
		MaxTokens:        a.cfg.LLM.MaxTokens,
		Temperature:      a.cfg.LLM.Temperature,
	}, a.log)

	opts := query.AskOptions{TopK: topK, Source: source}

	if plain {
		ans, err := engine.AskOnce(ctx, question, opts)
		if err != nil {
			return err
		}
		fmt.Println(ans.Text)
		printCitations(ans.Citations)
		return nil
	}

	res, err := engine.Ask(ctx, question, opts)
	if err != nil {
		return err
	}

	for ev := range res.Events {
		if ev.Err != nil {
			fmt.Println()
			return fmt.Errorf("answer interrupted: %w", ev.Err)
		}
		fmt.Print(ev.Delta)
	}
	fmt.Println()
	printCitations(res.Citations)
	return nil
}

func printCitations(citations []query.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, c := range citations {
		fmt.Printf("  [%d] %s (chunk %d, score %.2f)\n", c.Number, c.Source, c.ChunkIndex, c.Score)
	}
}

func runDocumentsList(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.List()
	if err != nil {
		return fmt.Errorf("listing state: %w", err)
	}
	sources, err := a.repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}

	if len(records) == 0 && len(sources) == 0 {
		fmt.Println("No documents ingested.")
		return nil
	}

	if len(records) > 0 {
		fmt.Printf("%-30s %-10s %7s %8s  %s\n", "DOCUMENT", "STATUS", "CHUNKS", "INDEXED", "UPDATED")
		for _, rec := range records {
			fmt.Printf("%-30s %-10s %7d %8d  %s\n",
				rec.DocumentID, rec.Status, rec.ChunkCount, rec.IndexedCount,
				rec.UpdatedAt.Format(time.RFC3339))
		}
	}
	if len(sources) > 0 {
		fmt.Println("\nSources in index:")
		for _, s := range sources {
			fmt.Printf("  %s\n", s)
		}
	}
	return nil
}

func runDocumentsDelete(ctx context.Context, configPath, docID string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.repo.DeleteByDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", docID, err)
	}
	if err := a.store.Delete(docID); err != nil {
		return fmt.Errorf("clearing state for %s: %w", docID, err)
	}
	fmt.Printf("Deleted %s: %d entries removed\n", docID, removed)
	return nil
}

// runStatus only needs the state file, not Qdrant or an LLM key.
func runStatus(configPath, docID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := ingest.OpenFileStore(cfg.Ingest.StateDir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	if docID != "" {
		rec, err := store.Get(docID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no ingestion record for %q", docID)
		}
		printRecord(rec)
		return nil
	}

	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No ingestion records.")
		return nil
	}
	for _, rec := range records {
		printRecord(rec)
	}
	return nil
}

func printRecord(rec *ingest.Record) {
	fmt.Printf("%s: %s (chunks=%d indexed=%d updated=%s)\n",
		rec.DocumentID, rec.Status, rec.ChunkCount, rec.IndexedCount,
		rec.UpdatedAt.Format(time.RFC3339))
	if rec.LastError != "" {
		fmt.Printf("  last error: %s\n", rec.LastError)
	}
}
