package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Asker interface {
	Ask(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
	History(ctx context.Context, ownerID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	queryEngine Asker
}

func NewQueryHandler(queryEngine Asker) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.queryEngine.Ask(c.UserContext(), query.QueryRequest{
		Question: req.Question,
		OwnerID:  ownerID(c),
	})
	if err != nil {
		return respondError(c, err, "Failed to process question")
	}

	return c.JSON(responseBody(response))
}

func responseBody(r *query.QueryResponse) fiber.Map {
	return fiber.Map{
		"id":             r.ID,
		"question":       r.Question,
		"answer":         r.Answer,
		"model":          r.Model,
		"retrieval_mode": r.Mode,
		"general":        r.General,
		"tokens":         r.Tokens,
		"sources":        r.Sources,
		"latency_ms":     r.LatencyMS,
	}
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	records, err := h.queryEngine.History(c.UserContext(), ownerID(c), c.QueryInt("limit", query.DefaultHistoryLimit))
	if err != nil {
		return respondError(c, err, "Failed to load history")
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":             r.ID,
			"question":       r.Question,
			"answer":         r.Answer,
			"retrieval_mode": r.RetrievalMode,
			"latency_ms":     r.LatencyMS,
			"created_at":     r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
