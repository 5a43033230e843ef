// Package extract turns uploaded files into plain text for embedding.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtractionFailure = errors.New("text extraction failed")
)

type readerFunc func(path string) (string, error)

type Extractor struct {
	readers map[string]readerFunc
}

func New() *Extractor {
	return &Extractor{
		readers: map[string]readerFunc{
			".txt":  readPlain,
			".md":   readPlain,
			".pdf":  readPDF,
			".docx": readDOCX,
			".html": readHTML,
			".htm":  readHTML,
		},
	}
}

// Supported reports whether the file extension has a reader.
func (e *Extractor) Supported(path string) bool {
	_, ok := e.readers[extension(path)]
	return ok
}

// Extensions lists the handled extensions in sorted order.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.readers))
	for ext := range e.readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract returns the text of the file at path. Unknown extensions fail with
// ErrUnsupportedFormat; unreadable, corrupt or empty files with ErrExtractionFailure.
func (e *Extractor) Extract(path string) (string, error) {
	ext := extension(path)
	read, ok := e.readers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	text, err := read(path)
	if err != nil {
		if errors.Is(err, ErrExtractionFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrExtractionFailure, filepath.Base(path), err)
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no text content", ErrExtractionFailure, filepath.Base(path))
	}

	return text, nil
}

func extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
