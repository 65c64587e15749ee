package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/toleds/rag-bot/internal/agent/graph"
	"github.com/toleds/rag-bot/internal/agent/graph/nodes"
	"github.com/toleds/rag-bot/internal/agent/model"
	"github.com/toleds/rag-bot/internal/agent/repo"
	"github.com/toleds/rag-bot/internal/core"
	apihttp "github.com/toleds/rag-bot/internal/http"
	"github.com/toleds/rag-bot/internal/rag/embedding"
	"github.com/toleds/rag-bot/internal/rag/extract"
	"github.com/toleds/rag-bot/internal/rag/generator"
	"github.com/toleds/rag-bot/internal/rag/ingest"
	"github.com/toleds/rag-bot/internal/rag/retrieval"
	"github.com/toleds/rag-bot/internal/rag/store"
	logx "github.com/toleds/rag-bot/pkg/logger"
	pkgredis "github.com/toleds/rag-bot/pkg/redis"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	HTTP        model.HTTPConfig
	VectorStore model.VectorStoreConfig
	Qdrant      model.QdrantConfig
	Redis       pkgredis.Config

	// Models
	Embedding model.EmbeddingConfig
	LLM       model.LLMConfig

	// Pipeline
	Retrieval    model.RetrievalConfig
	Ingest       model.IngestConfig
	Memory       model.MemoryConfig
	Conversation model.ConversationConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load(".env")

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(logx.LoggerOpts{Environment: env, Level: cfg.LogLevel})
	if envErr != nil {
		logx.Debug().Err(envErr).Msg("No .env file loaded")
	}

	// ====================================================
	// Retrieval pipeline

	embedBackend, err := embedding.ParseBackend(cfg.Embedding.Type)
	if err != nil {
		logx.Fatal().Err(err).Msg("Invalid EMBEDDING_TYPE")
	}
	embedder, err := embedding.New(ctx, embedding.Config{
		Backend:   embedBackend,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create embedder")
	}

	storeBackend, err := store.ParseBackend(cfg.VectorStore.Type)
	if err != nil {
		logx.Fatal().Err(err).Msg("Invalid VECTOR_STORE_TYPE")
	}
	chunkStore, err := store.New(ctx, store.Config{
		Backend:           storeBackend,
		DataPath:          cfg.VectorStore.DataPath,
		DefaultCollection: cfg.VectorStore.DefaultCollection,
		Dimension:         cfg.Embedding.Dimension,
		Qdrant: store.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		},
	}, embedder)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to open vector store")
	}

	queue, err := ingest.NewQueue(chunkStore,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithObserver(func(r ingest.TaskReport) {
			logx.Info().Uint64("task_id", r.TaskID).Str("collection", r.Collection).
				Int("fragments", r.Fragments).Int("failed_batches", r.FailedBatches).
				Dur("duration", r.Duration).Msg("Ingestion task processed")
		}),
	)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create ingestion queue")
	}

	retriever := retrieval.NewService(chunkStore, cfg.Retrieval.TopK, cfg.Retrieval.SearchTopK)
	loader := extract.NewLoader(
		extract.WithChunkSize(cfg.Ingest.ChunkSize),
		extract.WithChunkOverlap(cfg.Ingest.ChunkOverlap),
	)

	// ====================================================
	// Conversation

	chatModel, err := nodes.NewChatModel(ctx, nodes.ChatModelConfig{
		Type:        cfg.LLM.Type,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat model")
	}
	gen, err := generator.New(chatModel, cfg.LLM.Model)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create generator")
	}

	memBackend, err := repo.ParseBackend(cfg.Memory.Backend)
	if err != nil {
		logx.Fatal().Err(err).Msg("Invalid MEMORY_BACKEND")
	}
	var rdb *goredis.Client
	if memBackend == repo.BackendRedis {
		rdb, err = cfg.Redis.New()
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		logx.Info().Msg("Connected to Redis successfully")
	}
	var cmdable goredis.Cmdable
	if rdb != nil {
		cmdable = rdb
	}
	memory, err := repo.NewSessionMemory(memBackend, cfg.Memory.TTL, cmdable)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create session memory")
	}
	if closer, ok := memory.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	runner, err := graph.BuildRunner(ctx, graph.Config{
		Retriever:    retriever,
		Generator:    gen,
		ChatModel:    chatModel,
		Memory:       memory,
		Conversation: cfg.Conversation,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build conversation graph")
	}

	// ====================================================
	// HTTP

	server := apihttp.NewServer(apihttp.Deps{
		Store:     chunkStore,
		Ingester:  queue,
		Loader:    loader,
		Searcher:  retriever,
		Generator: gen,
		Runner:    runner,
	}, apihttp.Options{
		HTTP:         cfg.HTTP,
		ResourcePath: cfg.VectorStore.ResourcePath,
		Crawl: extract.CrawlOptions{
			MaxDepth: cfg.Ingest.CrawlDepth,
			MaxPages: cfg.Ingest.CrawlLimit,
		},
		MaxDistance: cfg.Retrieval.MaxDistance,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logx.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logx.Error().Err(err).Msg("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("Ingestion queue not drained")
	}
	if err := chunkStore.Persist(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Failed to persist vector store")
	}
	if err := chunkStore.Close(); err != nil {
		logx.Error().Err(err).Msg("Failed to close vector store")
	}
	logx.Info().Msg("Shutdown complete")
}
