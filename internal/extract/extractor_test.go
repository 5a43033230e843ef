package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeDOCX(t *testing.T, name, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>The court </w:t></w:r><w:r><w:t>held that</w:t></w:r></w:p>
    <w:p><w:r><w:t>the appeal fails.</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestExtractPlainText(t *testing.T) {
	e := New()

	got, err := e.Extract(writeFile(t, "a.txt", "The quick brown fox"))
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox", got)

	got, err = e.Extract(writeFile(t, "NOTES.MD", "# Heading\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "# Heading\nbody", got)
}

func TestExtractDOCXJoinsParagraphs(t *testing.T) {
	got, err := New().Extract(writeDOCX(t, "ruling.docx", sampleDocument))
	require.NoError(t, err)
	assert.Equal(t, "The court held that\nthe appeal fails.", got)
}

func TestExtractHTML(t *testing.T) {
	body := `<html><head><title>t</title><style>p{}</style></head>
<body><nav>menu</nav><p>Judgment   text</p><script>var x;</script></body></html>`

	got, err := New().Extract(writeFile(t, "page.html", body))
	require.NoError(t, err)
	assert.Equal(t, "Judgment text", got)
}

func TestExtractErrors(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unsupported extension", writeFile(t, "image.png", "binary"), ErrUnsupportedFormat},
		{"no extension", writeFile(t, "README", "text"), ErrUnsupportedFormat},
		{"missing file", filepath.Join(t.TempDir(), "gone.txt"), ErrExtractionFailure},
		{"empty text", writeFile(t, "blank.txt", "  \n\t"), ErrExtractionFailure},
		{"corrupt docx", writeFile(t, "broken.docx", "not a zip"), ErrExtractionFailure},
		{"corrupt pdf", writeFile(t, "broken.pdf", "%PDF-1.4 garbage"), ErrExtractionFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Extract(tc.path)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSupported(t *testing.T) {
	e := New()
	assert.True(t, e.Supported("/x/case.PDF"))
	assert.True(t, e.Supported("case.docx"))
	assert.False(t, e.Supported("case.doc"))
	assert.Equal(t, []string{".docx", ".htm", ".html", ".md", ".pdf", ".txt"}, e.Extensions())
}
