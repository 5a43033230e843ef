package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebot/backend/internal/embedding"
	"github.com/casebot/backend/internal/extract"
	"github.com/casebot/backend/internal/ingestion"
	"github.com/casebot/backend/internal/uploads"
	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/internal/vector/memory"
)

// letterEmbedder maps text to its a-z letter counts.
type letterEmbedder struct {
	calls int
	err   error
}

func (l *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

type fixture struct {
	engine   *Engine
	index    *memory.Index
	embedder *letterEmbedder
	uploads  *uploads.Store
	proc     *ingestion.Processor
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	store, err := uploads.NewStore(t.TempDir())
	require.NoError(t, err)
	for name, body := range files {
		_, err := store.Save(name, strings.NewReader(body))
		require.NoError(t, err)
	}

	ix := memory.New(0)
	emb := &letterEmbedder{}
	proc := ingestion.NewProcessor(ix, extract.New(), emb, 2)
	eng := NewEngine(ix, emb, proc, store, Options{TopK: 3, Threshold: 0.8})

	return &fixture{engine: eng, index: ix, embedder: emb, uploads: store, proc: proc}
}

func (f *fixture) ingest(t *testing.T, name string) {
	t.Helper()
	path, ok := f.uploads.Resolve(name)
	require.True(t, ok)
	_, err := f.proc.IngestFile(context.Background(), path)
	require.NoError(t, err)
}

func TestRetrieveFox(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "The quick brown fox"})
	f.ingest(t, "a.txt")

	out, err := f.engine.Retrieve(context.Background(), "fox", 1)
	require.NoError(t, err)

	assert.Equal(t, ModeUnscoped, out.Mode)
	assert.Equal(t, StatusFound, out.Status)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a.txt", out.Results[0].ID)
	assert.Greater(t, out.Results[0].Similarity, 0.0)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.engine.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatches, out.Status)
	assert.Empty(t, out.Results)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.embedder.err = embedding.ErrEmbeddingUnavailable

	_, err := f.engine.Retrieve(context.Background(), "q", 1)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingUnavailable)
}

func TestRetrieveScopedLazyFill(t *testing.T) {
	f := newFixture(t, map[string]string{
		"b.txt": "fox and hound",
		"c.txt": "fox hunting law",
	})
	ctx := context.Background()

	out, err := f.engine.RetrieveScoped(ctx, []string{"b.txt", "c.txt", "ghost.txt"}, "fox", -1, 5)
	require.NoError(t, err)

	assert.Equal(t, ModeScoped, out.Mode)
	assert.Equal(t, StatusFound, out.Status)
	assert.ElementsMatch(t, []string{"b.txt", "c.txt"}, out.Filled)
	assert.Equal(t, []string{"ghost.txt"}, out.Dropped)
	assert.Len(t, out.Results, 2)

	for _, id := range []string{"b.txt", "c.txt"} {
		ok, err := f.index.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}

func TestRetrieveScopedEmptyScopeVersusBelowThreshold(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "zzzz"})
	f.ingest(t, "a.txt")
	ctx := context.Background()

	empty, err := f.engine.RetrieveScoped(ctx, []string{"ghost.txt"}, "fox", 0.8, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusEmptyScope, empty.Status)
	assert.Empty(t, empty.Results)

	below, err := f.engine.RetrieveScoped(ctx, []string{"a.txt"}, "fox", 0.8, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusBelowThreshold, below.Status)
	assert.Empty(t, below.Results)

	assert.NotEqual(t, empty.Status, below.Status)
}

func TestRetrieveScopedEmptyScopeSkipsEmbedding(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.engine.RetrieveScoped(context.Background(), nil, "fox", 0.8, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusEmptyScope, out.Status)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestRetrieveScopedThresholdIsMonotonic(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.txt": "fox",
		"b.txt": "fox box",
		"c.txt": "quick brown",
		"d.txt": "xylophone",
	})
	ids := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for _, id := range ids {
		f.ingest(t, id)
	}

	ctx := context.Background()
	thresholds := []float64{-1, 0, 0.2, 0.5, 0.8, 1}
	var prev map[string]bool
	for _, th := range thresholds {
		out, err := f.engine.RetrieveScoped(ctx, ids, "fox", th, 10)
		require.NoError(t, err)

		cur := map[string]bool{}
		for _, r := range out.Results {
			assert.GreaterOrEqual(t, r.Similarity, th)
			cur[r.ID] = true
		}
		for id := range cur {
			if prev != nil {
				assert.True(t, prev[id], "%s appears at %.1f but not at a lower threshold", id, th)
			}
		}
		prev = cur
	}
}

func TestRetrieveScopedInclusiveThreshold(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "fox"})
	f.ingest(t, "a.txt")

	// Identical letter counts give similarity 1 (up to float rounding).
	out, err := f.engine.RetrieveScoped(context.Background(), []string{"a.txt"}, "fox", 0.999999, 3)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
}

type failingIngester struct{}

func (failingIngester) IngestFile(_ context.Context, path string) (ingestion.Status, error) {
	return ingestion.StatusFailed, &ingestion.Error{Path: path, Err: errors.New("disk on fire")}
}

func TestRetrieveScopedFailedFillIsEmptyScope(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("fox"), 0o644))
	store, err := uploads.NewStore(dir)
	require.NoError(t, err)

	eng := NewEngine(memory.New(0), &letterEmbedder{}, failingIngester{}, store, Options{})
	out, err := eng.RetrieveScoped(context.Background(), []string{"a.txt"}, "fox", 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusEmptyScope, out.Status)
	assert.Empty(t, out.Filled)
	assert.Empty(t, out.Dropped)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
}

var _ vector.Index = (*memory.Index)(nil)
