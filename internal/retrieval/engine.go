// Package retrieval ranks indexed documents against a query, over the whole
// index or a caller-supplied subset that is lazily filled from uploads.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casebot/backend/internal/embedding"
	"github.com/casebot/backend/internal/ingestion"
	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/pkg/logger"
)

type Mode string

const (
	ModeUnscoped Mode = "unscoped"
	ModeScoped   Mode = "scoped"
)

type Status int

const (
	// StatusFound means at least one result.
	StatusFound Status = iota
	// StatusNoMatches is an unscoped query against an index with nothing to return.
	StatusNoMatches
	// StatusEmptyScope means none of the scoped ids is indexed, even after lazy fill.
	StatusEmptyScope
	// StatusBelowThreshold means scoped ids were indexed but none passed the threshold.
	StatusBelowThreshold
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNoMatches:
		return "no_matches"
	case StatusEmptyScope:
		return "empty_scope"
	case StatusBelowThreshold:
		return "below_threshold"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Mode    Mode
	Status  Status
	Results []vector.Result
	// Dropped lists scoped ids with no indexed record and no locatable source.
	Dropped []string
	// Filled lists scoped ids indexed on demand by this query.
	Filled []string
}

type Ingester interface {
	IngestFile(ctx context.Context, path string) (ingestion.Status, error)
}

type Resolver interface {
	Resolve(name string) (string, bool)
}

type Options struct {
	TopK      int
	Threshold float64
}

type Engine struct {
	index     vector.Index
	embedder  embedding.Embedder
	ingester  Ingester
	resolver  Resolver
	topK      int
	threshold float64
}

func NewEngine(index vector.Index, embedder embedding.Embedder, ingester Ingester, resolver Resolver, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Engine{
		index:     index,
		embedder:  embedder,
		ingester:  ingester,
		resolver:  resolver,
		topK:      opts.TopK,
		threshold: opts.Threshold,
	}
}

func (e *Engine) TopK() int {
	return e.topK
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Retrieve searches the whole index. k <= 0 uses the configured top-k.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) (Outcome, error) {
	start := time.Now()
	out := Outcome{Mode: ModeUnscoped}

	if k <= 0 {
		k = e.topK
	}

	emb, err := e.embedQuery(ctx, query)
	if err != nil {
		return out, err
	}

	results, err := e.index.QueryAll(ctx, emb, k)
	if err != nil {
		return out, fmt.Errorf("failed to query index: %w", err)
	}

	out.Results = results
	out.Status = StatusFound
	if len(results) == 0 {
		out.Status = StatusNoMatches
	}

	e.observe(out, start)
	return out, nil
}

// RetrieveScoped searches only ids, indexing any that are missing from their
// uploaded source first. Similarity >= threshold passes. k <= 0 uses the
// configured top-k.
func (e *Engine) RetrieveScoped(ctx context.Context, ids []string, query string, threshold float64, k int) (Outcome, error) {
	start := time.Now()
	out := Outcome{Mode: ModeScoped}

	if k <= 0 {
		k = e.topK
	}

	present, missing, err := e.partition(ctx, dedupe(ids))
	if err != nil {
		return out, err
	}

	if len(missing) > 0 {
		filled, dropped := e.lazyFill(ctx, missing)
		out.Filled = filled
		out.Dropped = dropped

		// Recompute presence; a fill may have lost a race or failed.
		nowPresent, _, err := e.partition(ctx, missing)
		if err != nil {
			return out, err
		}
		present = append(present, nowPresent...)
	}

	if len(present) == 0 {
		out.Status = StatusEmptyScope
		out.Results = []vector.Result{}
		e.observe(out, start)
		return out, nil
	}

	emb, err := e.embedQuery(ctx, query)
	if err != nil {
		return out, err
	}

	results, err := e.index.QuerySubset(ctx, present, emb, threshold, k)
	if err != nil {
		return out, fmt.Errorf("failed to query index subset: %w", err)
	}

	out.Results = results
	out.Status = StatusFound
	if len(results) == 0 {
		out.Status = StatusBelowThreshold
	}

	e.observe(out, start)
	return out, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("%w: got %d embeddings for 1 query", embedding.ErrEmbeddingUnavailable, len(embs))
	}
	return embs[0], nil
}

func (e *Engine) partition(ctx context.Context, ids []string) (present, missing []string, err error) {
	for _, id := range ids {
		ok, err := e.index.Exists(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check index for %s: %w", id, err)
		}
		if ok {
			present = append(present, id)
		} else {
			missing = append(missing, id)
		}
	}
	return present, missing, nil
}

// lazyFill ingests missing ids from the upload store. Fills run detached from
// ctx so a disconnecting caller does not abort a half-written document.
func (e *Engine) lazyFill(ctx context.Context, missing []string) (filled, dropped []string) {
	fillCtx := context.WithoutCancel(ctx)

	for _, id := range missing {
		path, ok := e.resolver.Resolve(id)
		if !ok {
			logger.Warn("Scoped document has no source file, dropping", zap.String("doc_id", id))
			metrics.LazyFills.WithLabelValues("dropped").Inc()
			dropped = append(dropped, id)
			continue
		}

		status, err := e.ingester.IngestFile(fillCtx, path)
		if err != nil {
			logger.Warn("Lazy fill failed", zap.String("doc_id", id), zap.Error(err))
			metrics.LazyFills.WithLabelValues("failed").Inc()
			continue
		}

		logger.Info("Lazy fill", zap.String("doc_id", id), zap.String("status", status.String()))
		metrics.LazyFills.WithLabelValues(status.String()).Inc()
		if status == ingestion.StatusInserted {
			filled = append(filled, id)
		}
	}
	return filled, dropped
}

func (e *Engine) observe(out Outcome, start time.Time) {
	metrics.RetrievalDuration.WithLabelValues(string(out.Mode)).Observe(time.Since(start).Seconds())
	metrics.RetrievalOutcomes.WithLabelValues(string(out.Mode), out.Status.String()).Inc()

	logger.Debug("Retrieval complete",
		zap.String("mode", string(out.Mode)),
		zap.String("status", out.Status.String()),
		zap.Int("results", len(out.Results)),
	)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
