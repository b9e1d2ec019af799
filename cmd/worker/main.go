package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
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
	"github.com/efebarandurmaz/corpus/internal/observability"
	"github.com/efebarandurmaz/corpus/internal/secrets"
	"github.com/efebarandurmaz/corpus/internal/server"
	"github.com/efebarandurmaz/corpus/internal/vector/qdrant"

	temporalmod "github.com/efebarandurmaz/corpus/internal/temporal"

	temporalclient "go.temporal.io/sdk/client"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Log)
	ctx := context.Background()
	started := time.Now()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "corpus-worker",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
		Enabled:    true,
		OutputPath: filepath.Join(cfg.Ingest.StateDir, "audit.jsonl"),
	}); err != nil {
		log.Fatalf("audit logger: %v", err)
	}

	// Build LLM provider via factory (all providers are OpenAI-compatible).
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
		log.Fatalf("creating LLM provider: %v", err)
	}
	if provider == nil {
		log.Fatalf("an LLM provider is required; set llm.provider (or CORPUS_LLM_PROVIDER)")
	}

	chunker, err := chunk.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		log.Fatalf("chunker: %v", err)
	}
	embedder := embed.New(provider, embed.Config{
		Dimension:     cfg.Embedding.Dimension,
		MaxInputChars: cfg.Embedding.MaxInputChars,
		CacheSize:     cfg.Embedding.CacheSize,
		Timeout:       cfg.Embedding.Timeout,
	})

	repo, err := qdrant.New(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Embedding.Dimension, cfg.Qdrant.Timeout)
	if err != nil {
		log.Fatalf("connecting to qdrant: %v", err)
	}

	store, err := ingest.OpenFileStore(cfg.Ingest.StateDir)
	if err != nil {
		log.Fatalf("opening state store: %v", err)
	}

	wf := ingest.NewWorkflow(chunker, embedder, repo, store, ingest.Options{
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		InitialDelay: cfg.Ingest.InitialDelay,
		MaxDelay:     cfg.Ingest.MaxDelay,
		EmbedBatch:   cfg.Ingest.EmbedBatch,
	}, logger)

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Ingest: wf,
		Store:  store,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	// Health and metrics endpoint.
	health := server.NewHealthServer("0.1.0")
	health.RegisterCheck("temporal", server.TemporalCheck(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	health.RegisterCheck("vector-index", server.VectorIndexCheck(cfg.Qdrant.Collection, cfg.Embedding.Dimension, repo.Describe))
	health.RegisterCheck("llm", server.LLMCheck(provider.Name()))
	health.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Metrics().Handler())
	mux.Handle("/", health.Handler())
	httpServer := &http.Server{Addr: cfg.Health.Addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server", "error", err)
		}
	}()

	shutdownCfg := server.DefaultShutdownConfig()
	shutdownCfg.Logger = logger
	shutdown := server.NewShutdownHandler(shutdownCfg)
	shutdown.RegisterHook(server.HTTPServerShutdownHook("health", func(ctx context.Context) error {
		health.SetReady(false)
		return httpServer.Shutdown(ctx)
	}))
	shutdown.RegisterHook(server.TemporalWorkerShutdownHook(w.Stop))
	shutdown.RegisterHook(server.TracingShutdownHook(tp.Shutdown))
	shutdown.RegisterHook(server.VectorStoreShutdownHook(repo.Close))
	shutdown.RegisterHook(server.AuditLoggerShutdownHook(func() error {
		observability.Audit().LogWorkerStop(ctx, time.Since(started))
		return observability.Audit().Close()
	}))
	shutdown.Start()

	observability.Audit().LogWorkerStart(ctx, cfg.Temporal.TaskQueue)
	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	shutdown.Wait()
	fmt.Println("Worker stopped")
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
