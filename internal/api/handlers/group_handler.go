package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/casebot/backend/internal/storage/models"
)

type GroupStore interface {
	CreateGroup(ctx context.Context, name string, files []string) (models.Group, error)
	AddGroupFiles(ctx context.Context, groupID int64, files []string) error
	ListGroups(ctx context.Context) ([]models.Group, error)
}

type GroupHandler struct {
	store GroupStore
}

func NewGroupHandler(store GroupStore) *GroupHandler {
	return &GroupHandler{store: store}
}

type groupRequest struct {
	Name  string   `json:"group_name"`
	Files []string `json:"files"`
}

func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "group_name is required"})
	}

	group, err := h.store.CreateGroup(c.UserContext(), req.Name, req.Files)
	if err != nil {
		return storeError(c, "Failed to create group", err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

func (h *GroupHandler) AddFiles(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid group id"})
	}

	var req groupRequest
	if err := c.BodyParser(&req); err != nil || len(req.Files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "files are required"})
	}

	if err := h.store.AddGroupFiles(c.UserContext(), int64(id), req.Files); err != nil {
		return storeError(c, "Failed to add files to group", err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *GroupHandler) ListGroups(c *fiber.Ctx) error {
	groups, err := h.store.ListGroups(c.UserContext())
	if err != nil {
		return storeError(c, "Failed to list groups", err)
	}
	return c.JSON(fiber.Map{"groups": groups})
}
