package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/cache/redis"
	"github.com/docqa/backend/internal/chunking"
	"github.com/docqa/backend/internal/embedding"
	"github.com/docqa/backend/internal/extract"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/resilience"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/storage"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/config"
	"github.com/docqa/backend/pkg/logger"
)

// application holds every wired component. Optional pieces stay nil: the
// embedding gateway and LLM client without an API key, the cache when
// redis is disabled.
type application struct {
	db           *sqlite.Client
	storeGuard   *resilience.Guard
	store        storage.Store
	cache        *redis.Client
	embedBreaker *circuitbreaker.CircuitBreaker
	gateway      *embedding.Gateway
	llmClient    *llm.Client
	coordinator  *ingestion.Coordinator
	retriever    *retrieval.Engine
	queryEngine  *query.Engine
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{}

	if dir := filepath.Dir(cfg.SQLite.Path); cfg.SQLite.Path != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := db.InitSchema(); err != nil {
		a.close()
		return nil, err
	}

	a.storeGuard = resilience.NewGuard("store", resilience.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		Cooldown:         seconds(cfg.Breaker.CooldownSec),
		RetryAttempts:    cfg.Breaker.RetryAttempts,
		RetryDelay:       ms(cfg.Breaker.RetryInitialDelayMs),
		Transient:        storage.IsUnavailable,
		Logger:           logger.Named("store"),
	})
	a.store = storage.NewGuarded(db, a.storeGuard)

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.EmbeddingTTLHours)*time.Hour)
		if err != nil {
			logger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			a.cache = cache
		}
	}

	var embedder ingestion.Embedder
	var answerer query.Answerer

	if cfg.OpenAI.APIKey != "" {
		client := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

		a.embedBreaker = circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
			FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
			Cooldown:         seconds(cfg.Breaker.CooldownSec),
			IsFailure:        embedding.IsTransport,
			Logger:           logger.Named("embedding"),
			OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
				metrics.CircuitState.WithLabelValues(name).Set(float64(to))
			},
		})

		opts := []embedding.Option{
			embedding.WithBreaker(a.embedBreaker),
			embedding.WithLogger(logger.Named("embedding")),
		}
		if a.cache != nil {
			opts = append(opts, embedding.WithCache(a.cache))
		}
		a.gateway = embedding.NewGateway(client, embedding.Config{
			Model:          cfg.OpenAI.EmbeddingModel,
			Dimensions:     cfg.OpenAI.EmbeddingDim,
			MaxInputChars:  cfg.Embedding.MaxInputChars,
			Timeout:        seconds(cfg.Embedding.TimeoutSec),
			MaxRetries:     cfg.Embedding.MaxRetries,
			InitialBackoff: ms(cfg.Embedding.InitialBackoffMs),
		}, opts...)
		embedder = a.gateway

		a.llmClient = llm.NewClient(client, llm.Config{
			Model:            cfg.OpenAI.ChatModel,
			Temperature:      cfg.OpenAI.Temperature,
			MaxTokens:        cfg.OpenAI.MaxTokens,
			Timeout:          seconds(cfg.OpenAI.TimeoutSec),
			RetryAttempts:    cfg.Breaker.RetryAttempts,
			RetryDelay:       ms(cfg.Breaker.RetryInitialDelayMs),
			FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
			Cooldown:         seconds(cfg.Breaker.CooldownSec),
		}, logger.Named("llm"))
		answerer = a.llmClient
	} else {
		logger.Warn("No OpenAI API key configured, chunks are stored without embeddings and questions cannot be answered")
	}

	chunker := chunking.New(
		chunking.WithChunkSize(cfg.Chunking.Size),
		chunking.WithOverlap(cfg.Chunking.Overlap),
	)

	a.coordinator = ingestion.NewCoordinator(a.store, extract.NewRegistry(), chunker, embedder, ingestion.Config{
		WindowBatchSize:        cfg.Ingestion.WindowBatchSize,
		StructuralBatchSize:    cfg.Ingestion.StructuralBatchSize,
		PDFBatchDelay:          ms(cfg.Ingestion.PDFBatchDelayMs),
		SpreadsheetBatchDelay:  ms(cfg.Ingestion.ExcelBatchDelayMs),
		PresentationBatchDelay: ms(cfg.Ingestion.SlideBatchDelayMs),
		EmbedConcurrency:       cfg.Embedding.Concurrency,
		PipelineAttempts:       cfg.Ingestion.PipelineAttempts,
		PipelineRetryDelay:     ms(cfg.Breaker.RetryInitialDelayMs),
		CleanupRetryDelay:      seconds(cfg.Breaker.CooldownSec) + time.Second,
		SerializeSameName:      cfg.Ingestion.SerializeSameName,
	}, logger.Named("ingestion"))

	a.retriever = retrieval.NewEngine(a.store, embedder, retrieval.Config{
		TopK:          cfg.Retrieval.TopK,
		KeywordLimit:  cfg.Retrieval.KeywordLimit,
		FallbackLimit: cfg.Retrieval.FallbackLimit,
		MinKeywordLen: cfg.Retrieval.MinKeywordLen,
	}, logger.Named("retrieval"))

	a.queryEngine = query.NewEngine(a.retriever, answerer, a.store, logger.Named("query"))

	return a, nil
}

// close waits for background ingestion before releasing the store.
func (a *application) close() {
	if a.coordinator != nil {
		a.coordinator.Wait()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
