package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/storage"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/logger"
)

// OwnerHeader carries the caller's owner id on every document and query
// request.
const OwnerHeader = "X-Owner-ID"

func ownerID(c *fiber.Ctx) string {
	if v, ok := c.Locals("owner_id").(string); ok && v != "" {
		return v
	}
	return c.Get(OwnerHeader)
}

// statusFor maps an error to its HTTP status and the message shown to the
// client.
func statusFor(err error, fallback string) (int, string) {
	var openErr *circuitbreaker.OpenError
	switch {
	case errors.As(err, &openErr):
		return fiber.StatusServiceUnavailable, openErr.Error()
	case ingestion.IsValidation(err), errors.Is(err, retrieval.ErrBlankQuestion):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound, "Document not found"
	case storage.IsUnavailable(err):
		return fiber.StatusServiceUnavailable, "Service temporarily unavailable, please try again"
	case errors.Is(err, query.ErrNoAnswerer):
		return fiber.StatusServiceUnavailable, "Question answering is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Request timed out"
	default:
		return fiber.StatusInternalServerError, fallback
	}
}

func respondError(c *fiber.Ctx, err error, fallback string) error {
	status, msg := statusFor(err, fallback)

	var openErr *circuitbreaker.OpenError
	if errors.As(err, &openErr) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(openErr.RetryAfterSeconds()))
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error(fallback, zap.Error(err), zap.String("path", c.Path()))
	} else {
		logger.Debug("Request rejected", zap.Error(err), zap.Int("status", status))
	}

	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
