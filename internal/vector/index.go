// Package vector defines the document index shared by ingestion and retrieval.
package vector

import (
	"context"
	"errors"
	"math"
	"sort"
)

var (
	ErrDuplicateID       = errors.New("document id already indexed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyID           = errors.New("document id is empty")
)

// Record is one indexed document.
type Record struct {
	ID        string
	Embedding []float32
	Text      string
}

// Result is a ranked match. Similarity is cosine similarity in [-1, 1].
type Result struct {
	ID         string
	Text       string
	Similarity float64
}

// Index stores document id -> (embedding, text). Implementations must allow
// concurrent readers alongside writers, and Insert must reject an id that is
// already present with ErrDuplicateID.
type Index interface {
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, rec Record) error
	QueryAll(ctx context.Context, query []float32, k int) ([]Result, error)
	QuerySubset(ctx context.Context, ids []string, query []float32, threshold float64, k int) ([]Result, error)
	Count(ctx context.Context) (int, error)
}

// Normalize returns a unit-length copy of v. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot assumes equal lengths; callers check dimensions first.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity normalizes both vectors before the dot product.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return Dot(Normalize(a), Normalize(b))
}

// RankThreshold keeps results with Similarity >= threshold, orders them by
// descending similarity (stable, so equal scores keep input order) and
// truncates to k. A non-positive k means no limit.
func RankThreshold(results []Result, threshold float64, k int) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Similarity >= threshold {
			filtered = append(filtered, r)
		}
	}
	return Rank(filtered, k)
}

// Rank sorts by descending similarity, stable on input order, and truncates to k.
func Rank(results []Result, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
