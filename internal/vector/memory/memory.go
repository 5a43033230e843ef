// Package memory is a brute-force in-process vector index.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/casebot/backend/internal/vector"
)

var _ vector.Index = (*Index)(nil)

// Index keeps records in insertion order so equal scores rank by age.
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   []vector.Record
	positions map[string]int
}

// New creates an index. A dimension of 0 is fixed by the first insert.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		positions: make(map[string]int),
	}
}

func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}

func (ix *Index) Exists(_ context.Context, id string) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.positions[id]
	return ok, nil
}

func (ix *Index) Insert(_ context.Context, rec vector.Record) error {
	if rec.ID == "" {
		return vector.ErrEmptyID
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.positions[rec.ID]; ok {
		return fmt.Errorf("%w: %s", vector.ErrDuplicateID, rec.ID)
	}
	if ix.dimension == 0 {
		ix.dimension = len(rec.Embedding)
	}
	if len(rec.Embedding) != ix.dimension {
		return fmt.Errorf("%w: got %d, index has %d", vector.ErrDimensionMismatch, len(rec.Embedding), ix.dimension)
	}

	ix.positions[rec.ID] = len(ix.records)
	ix.records = append(ix.records, vector.Record{
		ID:        rec.ID,
		Embedding: vector.Normalize(rec.Embedding),
		Text:      rec.Text,
	})
	return nil
}

func (ix *Index) QueryAll(_ context.Context, query []float32, k int) ([]vector.Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.records) == 0 {
		return []vector.Result{}, nil
	}
	if err := ix.checkDimension(query); err != nil {
		return nil, err
	}

	q := vector.Normalize(query)
	results := make([]vector.Result, 0, len(ix.records))
	for _, rec := range ix.records {
		results = append(results, vector.Result{
			ID:         rec.ID,
			Text:       rec.Text,
			Similarity: vector.Dot(q, rec.Embedding),
		})
	}
	return vector.Rank(results, k), nil
}

func (ix *Index) QuerySubset(_ context.Context, ids []string, query []float32, threshold float64, k int) ([]vector.Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	candidates := ix.candidatePositions(ids)
	if len(candidates) == 0 {
		return []vector.Result{}, nil
	}
	if err := ix.checkDimension(query); err != nil {
		return nil, err
	}

	q := vector.Normalize(query)
	results := make([]vector.Result, 0, len(candidates))
	for _, pos := range candidates {
		rec := ix.records[pos]
		results = append(results, vector.Result{
			ID:         rec.ID,
			Text:       rec.Text,
			Similarity: vector.Dot(q, rec.Embedding),
		})
	}
	return vector.RankThreshold(results, threshold, k), nil
}

func (ix *Index) Count(_ context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records), nil
}

// candidatePositions resolves ids to positions in insertion order, ignoring
// unknown and repeated ids.
func (ix *Index) candidatePositions(ids []string) []int {
	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if pos, ok := ix.positions[id]; ok {
			wanted[pos] = struct{}{}
		}
	}
	out := make([]int, 0, len(wanted))
	for pos := range ix.records {
		if _, ok := wanted[pos]; ok {
			out = append(out, pos)
		}
	}
	return out
}

func (ix *Index) checkDimension(query []float32) error {
	if len(query) != ix.dimension {
		return fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(query), ix.dimension)
	}
	return nil
}
