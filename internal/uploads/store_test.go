package uploads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveListResolve(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	_, err = s.Save("b.txt", strings.NewReader("second"))
	require.NoError(t, err)
	path, err := s.Save("a.txt", strings.NewReader("first"))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	got, ok := s.Resolve("a.txt")
	require.True(t, ok)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	_, ok = s.Resolve("missing.txt")
	assert.False(t, ok)
	_, ok = s.Resolve("sub")
	assert.False(t, ok)
}

func TestSaveOverwrites(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save("a.txt", strings.NewReader("v1"))
	require.NoError(t, err)
	path, err := s.Save("a.txt", strings.NewReader("v2"))
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "v2", string(data))
}

func TestRejectsTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b.txt", `a\b.txt`, ".hidden"} {
		_, err := s.Save(name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)

		_, ok := s.Resolve(name)
		assert.False(t, ok, name)
	}
}
