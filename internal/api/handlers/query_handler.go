package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/middleware/validation"
	"github.com/casebot/backend/internal/retrieval"
	"github.com/casebot/backend/pkg/logger"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (retrieval.Outcome, error)
	RetrieveScoped(ctx context.Context, ids []string, query string, threshold float64, k int) (retrieval.Outcome, error)
	Threshold() float64
}

type GroupResolver interface {
	GroupFileNames(ctx context.Context, groupIDs []int64) ([]string, error)
}

type QueryHandler struct {
	retriever Retriever
	groups    GroupResolver
}

func NewQueryHandler(retriever Retriever, groups GroupResolver) *QueryHandler {
	return &QueryHandler{
		retriever: retriever,
		groups:    groups,
	}
}

type queryMatch struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

// HandleQuery expects validation.Query to have run first.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.QueryLocalsKey).(*validation.QueryRequest)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx := c.UserContext()
	var (
		outcome retrieval.Outcome
		err     error
	)

	if len(req.GroupIDs) > 0 {
		names, gerr := h.groups.GroupFileNames(ctx, req.GroupIDs)
		if gerr != nil {
			logger.Error("Failed to resolve groups", zap.Int64s("group_ids", req.GroupIDs), zap.Error(gerr))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to resolve groups",
			})
		}

		threshold := h.retriever.Threshold()
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		outcome, err = h.retriever.RetrieveScoped(ctx, names, req.Query, threshold, req.K)
	} else {
		outcome, err = h.retriever.Retrieve(ctx, req.Query, req.K)
	}

	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	matches := make([]queryMatch, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		matches = append(matches, queryMatch{ID: r.ID, Similarity: r.Similarity, Snippet: snippet(r.Text, 300)})
	}

	return c.JSON(fiber.Map{
		"query":   req.Query,
		"mode":    outcome.Mode,
		"status":  outcome.Status.String(),
		"results": matches,
		"dropped": outcome.Dropped,
		"filled":  outcome.Filled,
	})
}

func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
