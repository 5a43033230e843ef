// Package ingestion drives extract, embed and index for source files.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casebot/backend/internal/embedding"
	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/pkg/logger"
)

type Status int

const (
	StatusInserted Status = iota
	StatusSkipped
	StatusUnsupported
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInserted:
		return "inserted"
	case StatusSkipped:
		return "skipped"
	case StatusUnsupported:
		return "unsupported"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error tags an extraction, embedding or indexing failure with its source file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Extractor interface {
	Supported(path string) bool
	Extract(path string) (string, error)
}

// Summary counts per-file outcomes of a folder sweep.
type Summary struct {
	Inserted    int      `json:"inserted"`
	Skipped     int      `json:"skipped"`
	Unsupported int      `json:"unsupported"`
	Failed      int      `json:"failed"`
	FailedFiles []string `json:"failed_files,omitempty"`
}

func (s *Summary) add(path string, status Status) {
	switch status {
	case StatusInserted:
		s.Inserted++
	case StatusSkipped:
		s.Skipped++
	case StatusUnsupported:
		s.Unsupported++
	default:
		s.Failed++
		s.FailedFiles = append(s.FailedFiles, filepath.Base(path))
	}
}

type Processor struct {
	index     vector.Index
	extractor Extractor
	embedder  embedding.Embedder
	workers   int
	locks     *keyedLocker
}

func NewProcessor(index vector.Index, extractor Extractor, embedder embedding.Embedder, workers int) *Processor {
	if workers <= 0 {
		workers = 5
	}
	return &Processor{
		index:     index,
		extractor: extractor,
		embedder:  embedder,
		workers:   workers,
		locks:     newKeyedLocker(),
	}
}

// DocumentID is the index id for a source file: its base name.
func DocumentID(path string) string {
	return filepath.Base(path)
}

// IngestFile indexes path unless its id is already present. Unsupported
// extensions are logged and reported as StatusUnsupported without an error.
func (p *Processor) IngestFile(ctx context.Context, path string) (Status, error) {
	id := DocumentID(path)

	if !p.extractor.Supported(path) {
		logger.Info("Skipping unsupported file", zap.String("path", path))
		metrics.DocumentsIngested.WithLabelValues(StatusUnsupported.String()).Inc()
		return StatusUnsupported, nil
	}

	unlock := p.locks.lock(id)
	defer unlock()

	status, err := p.ingestLocked(ctx, id, path)
	metrics.DocumentsIngested.WithLabelValues(status.String()).Inc()
	if err != nil {
		logger.Error("Ingestion failed", zap.String("path", path), zap.Error(err))
		return status, &Error{Path: path, Err: err}
	}

	logger.Info("File ingested", zap.String("doc_id", id), zap.String("status", status.String()))
	return status, nil
}

func (p *Processor) ingestLocked(ctx context.Context, id, path string) (Status, error) {
	exists, err := p.index.Exists(ctx, id)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to check index: %w", err)
	}
	if exists {
		return StatusSkipped, nil
	}

	text, err := p.extractor.Extract(path)
	if err != nil {
		return StatusFailed, err
	}

	embeddings, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return StatusFailed, err
	}
	if len(embeddings) != 1 {
		return StatusFailed, fmt.Errorf("%w: got %d embeddings for 1 input", embedding.ErrEmbeddingUnavailable, len(embeddings))
	}

	// Once embedded, the write completes even if the caller goes away.
	err = p.index.Insert(context.WithoutCancel(ctx), vector.Record{ID: id, Embedding: embeddings[0], Text: text})
	if errors.Is(err, vector.ErrDuplicateID) {
		return StatusSkipped, nil
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to insert into index: %w", err)
	}

	metrics.IndexSize.Inc()
	return StatusInserted, nil
}

// IngestFolder ingests every regular file directly inside dir using a bounded
// pool. Per-file failures are counted in the summary, never returned; only an
// unreadable dir is an error.
func (p *Processor) IngestFolder(ctx context.Context, dir string) (Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read folder %s: %w", dir, err)
	}

	var (
		mu      sync.Mutex
		summary Summary
		g       errgroup.Group
	)
	g.SetLimit(p.workers)

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		g.Go(func() error {
			status, _ := p.IngestFile(ctx, path)
			mu.Lock()
			summary.add(path, status)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Strings(summary.FailedFiles)

	logger.Info("Folder sweep complete",
		zap.String("dir", dir),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unsupported", summary.Unsupported),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}
