package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/storage"
	"github.com/casebot/backend/internal/storage/models"
	"github.com/casebot/backend/pkg/logger"
)

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, includeArchived bool) ([]models.Session, error)
	ArchiveSession(ctx context.Context, sessionID string) error
	RenameSession(ctx context.Context, sessionID, name string) error
	RecentChatTurns(ctx context.Context, sessionID string, n int) ([]models.ChatTurn, error)
}

const maxHistoryLimit = 500

type SessionHandler struct {
	store SessionStore
}

func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.store.ListSessions(c.UserContext(), c.QueryBool("archived", false))
	if err != nil {
		return storeError(c, "Failed to list sessions", err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) GetHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit is out of range"})
	}

	ctx := c.UserContext()
	if _, err := h.store.GetSession(ctx, id); err != nil {
		return storeError(c, "Failed to load session", err)
	}

	turns, err := h.store.RecentChatTurns(ctx, id, limit)
	if err != nil {
		return storeError(c, "Failed to load history", err)
	}
	return c.JSON(fiber.Map{"session_id": id, "history": turns})
}

func (h *SessionHandler) ArchiveSession(c *fiber.Ctx) error {
	if err := h.store.ArchiveSession(c.UserContext(), c.Params("id")); err != nil {
		return storeError(c, "Failed to archive session", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *SessionHandler) RenameSession(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"session_name"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_name is required"})
	}

	if err := h.store.RenameSession(c.UserContext(), c.Params("id"), strings.TrimSpace(req.Name)); err != nil {
		return storeError(c, "Failed to rename session", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func storeError(c *fiber.Ctx, msg string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}
