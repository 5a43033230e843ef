package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type HealthHandler struct {
	store Pinger
	index Counter
}

func NewHealthHandler(store Pinger, index Counter) *HealthHandler {
	return &HealthHandler{store: store, index: index}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports whether the store and index answer.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{"store": "ok", "index": "ok"}
	ready := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}

	docs, err := h.index.Count(ctx)
	if err != nil {
		checks["index"] = err.Error()
		ready = false
	}

	status := fiber.StatusOK
	if !ready {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"ready":     ready,
		"checks":    checks,
		"documents": docs,
	})
}
