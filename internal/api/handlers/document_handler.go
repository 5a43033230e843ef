package handlers

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/ingestion"
	"github.com/casebot/backend/internal/middleware/validation"
	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/pkg/logger"
)

type Ingester interface {
	IngestFile(ctx context.Context, path string) (ingestion.Status, error)
	IngestFolder(ctx context.Context, dir string) (ingestion.Summary, error)
}

type UploadStore interface {
	Save(name string, r io.Reader) (string, error)
	List() ([]string, error)
}

type UploadRecorder interface {
	RecordUpload(ctx context.Context, meta models.FileMeta) (int64, error)
}

type IndexChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type DocumentHandler struct {
	ingester  Ingester
	uploads   UploadStore
	recorder  UploadRecorder
	index     IndexChecker
	sweepDirs []string
}

func NewDocumentHandler(ingester Ingester, uploads UploadStore, recorder UploadRecorder, index IndexChecker, sweepDirs []string) *DocumentHandler {
	return &DocumentHandler{
		ingester:  ingester,
		uploads:   uploads,
		recorder:  recorder,
		index:     index,
		sweepDirs: sweepDirs,
	}
}

// UploadDocument stores the multipart file and indexes it right away.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fh, err := c.FormFile(validation.UploadFormField)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file is required in the 'file' field",
		})
	}
	name := filepath.Base(fh.Filename)

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.String("file", name), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	defer f.Close()

	path, err := h.uploads.Save(name, f)
	if err != nil {
		logger.Error("Failed to save upload", zap.String("file", name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
		})
	}

	ctx := c.UserContext()
	if _, err := h.recorder.RecordUpload(ctx, models.FileMeta{
		FileName:   name,
		FileSize:   fh.Size,
		UploadedAt: time.Now(),
	}); err != nil {
		logger.Warn("Failed to record upload metadata", zap.String("file", name), zap.Error(err))
	}

	status, err := h.ingester.IngestFile(ctx, path)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success":  false,
			"filename": name,
			"status":   status.String(),
			"error":    "File saved but could not be indexed",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"filename": name,
		"status":   status.String(),
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	names, err := h.uploads.List()
	if err != nil {
		logger.Error("Failed to list uploads", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	docs := make([]fiber.Map, 0, len(names))
	for _, name := range names {
		indexed, err := h.index.Exists(c.UserContext(), ingestion.DocumentID(name))
		if err != nil {
			logger.Warn("Index lookup failed", zap.String("file", name), zap.Error(err))
		}
		docs = append(docs, fiber.Map{"name": name, "indexed": indexed})
	}

	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}

// Sweep ingests every configured folder.
func (h *DocumentHandler) Sweep(c *fiber.Ctx) error {
	results := make(fiber.Map, len(h.sweepDirs))
	for _, dir := range h.sweepDirs {
		summary, err := h.ingester.IngestFolder(c.UserContext(), dir)
		if err != nil {
			logger.Warn("Folder sweep skipped", zap.String("dir", dir), zap.Error(err))
			results[dir] = fiber.Map{"error": "folder could not be read"}
			continue
		}
		results[dir] = summary
	}

	return c.JSON(fiber.Map{"folders": results})
}
