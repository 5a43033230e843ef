// Package app assembles the backend services from configuration. Both the API
// server and the indexer CLI build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casebot/backend/internal/cache/redis"
	"github.com/casebot/backend/internal/chat"
	"github.com/casebot/backend/internal/embedding"
	"github.com/casebot/backend/internal/extract"
	"github.com/casebot/backend/internal/ingestion"
	"github.com/casebot/backend/internal/llm"
	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/internal/storage/sqlite"
	"github.com/casebot/backend/internal/uploads"
	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/internal/vector/memory"
	"github.com/casebot/backend/internal/vector/zilliz"
	"github.com/casebot/backend/pkg/config"
	"github.com/casebot/backend/pkg/logger"
)

type Services struct {
	Config       *config.Config
	Store        *sqlite.Client
	Index        vector.Index
	Extractor    *extract.Extractor
	Embedder     embedding.Embedder
	LLM          *llm.Client
	Uploads      *uploads.Store
	Processor    *ingestion.Processor
	Engine       *retrieval.Engine
	Orchestrator *chat.Orchestrator

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{Config: cfg}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite client: %w", err)
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	if err := store.InitSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	index, closeIndex, err := newIndex(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Index = index
	if closeIndex != nil {
		s.closers = append(s.closers, closeIndex)
	}

	embedClient := embedding.NewClient(embedding.Config{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Dim:     cfg.Embedding.Dim,
		Timeout: time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
	})
	s.Embedder = embedClient

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The cache is optional; run uncached rather than refuse to start.
			logger.Warn("Embedding cache disabled", zap.Error(err))
		} else {
			s.closers = append(s.closers, cache.Close)
			ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
			s.Embedder = embedding.NewCachedEmbedder(embedClient, cache, embedClient.Model(), ttl)
		}
	}

	s.LLM = llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxAttempts: cfg.LLM.MaxAttempts,
	})

	s.Uploads, err = uploads.NewStore(cfg.Uploads.Dir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open uploads dir: %w", err)
	}

	resolver := resolverChain{s.Uploads}
	if cfg.Ingestion.Folder != "" && cfg.Ingestion.Folder != cfg.Uploads.Dir {
		folder, err := uploads.NewStore(cfg.Ingestion.Folder)
		if err != nil {
			logger.Warn("Ingestion folder unavailable for lazy fills", zap.String("dir", cfg.Ingestion.Folder), zap.Error(err))
		} else {
			resolver = append(resolver, folder)
		}
	}

	s.Extractor = extract.New()
	s.Processor = ingestion.NewProcessor(s.Index, s.Extractor, s.Embedder, cfg.Ingestion.Workers)
	s.Engine = retrieval.NewEngine(s.Index, s.Embedder, s.Processor, resolver, retrieval.Options{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.Threshold,
	})
	s.Orchestrator = chat.NewOrchestrator(s.Store, s.Engine, s.LLM, chat.Options{
		HistoryTurns: cfg.Retrieval.HistoryTurns,
		TopK:         cfg.Retrieval.TopK,
		Threshold:    cfg.Retrieval.Threshold,
		MaxTokens:    cfg.LLM.MaxTokens,
	})

	if n, err := s.Index.Count(ctx); err == nil {
		metrics.IndexSize.Set(float64(n))
	}

	return s, nil
}

// SweepDirs lists the folders a manual sweep covers, without duplicates.
func (s *Services) SweepDirs() []string {
	var dirs []string
	for _, d := range []string{s.Config.Ingestion.Folder, s.Config.Uploads.Dir} {
		if d == "" || (len(dirs) > 0 && dirs[0] == d) {
			continue
		}
		dirs = append(dirs, d)
	}
	return dirs
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	s.closers = nil
}

func newIndex(ctx context.Context, cfg *config.Config) (vector.Index, func() error, error) {
	switch cfg.Index.Backend {
	case "milvus":
		client, err := zilliz.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey,
			cfg.Milvus.CollectionName, cfg.Milvus.VectorDim, cfg.Milvus.ConnectRetries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create milvus client: %w", err)
		}
		if err := client.EnsureCollection(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to prepare collection: %w", err)
		}
		return client, client.Close, nil
	case "memory", "":
		return memory.New(cfg.Embedding.Dim), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// resolverChain finds a document source in the first directory that has it.
type resolverChain []retrieval.Resolver

func (rc resolverChain) Resolve(name string) (string, bool) {
	for _, r := range rc {
		if path, ok := r.Resolve(name); ok {
			return path, true
		}
	}
	return "", false
}
