package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/pkg/logger"
	"github.com/casebot/backend/pkg/utils"
)

// Cache is satisfied by the redis client.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeat texts from a cache and sends only misses to the
// underlying embedder. Cache errors count as misses.
type CachedEmbedder struct {
	next  Embedder
	cache Cache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		keys[i] = utils.CacheKey(c.model, text)

		emb, ok, err := c.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			out[i] = emb
			continue
		}

		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		if err := c.cache.SetEmbedding(ctx, keys[i], fresh[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return out, nil
}
