package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/docqa/backend/pkg/circuitbreaker"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StateReporter interface {
	State() circuitbreaker.State
}

type HealthHandler struct {
	store    Pinger
	cache    Pinger
	breakers map[string]StateReporter
}

func NewHealthHandler(store Pinger, breakers map[string]StateReporter) *HealthHandler {
	return &HealthHandler{store: store, breakers: breakers}
}

// WithCache adds the embedding cache to the readiness report. The cache is
// optional, so an unreachable cache does not make the service degraded.
func (h *HealthHandler) WithCache(cache Pinger) *HealthHandler {
	h.cache = cache
	return h
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports 503 while the store cannot be reached or any breaker is
// open.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	circuits := make(fiber.Map, len(h.breakers))
	ready := true
	for name, b := range h.breakers {
		state := b.State()
		circuits[name] = state.String()
		if state == circuitbreaker.StateOpen {
			ready = false
		}
	}

	storeStatus := "ok"
	if h.store != nil {
		storeStatus = ping(c.UserContext(), h.store)
		if storeStatus != "ok" {
			ready = false
		}
	}

	status := fiber.StatusOK
	label := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		label = "degraded"
	}
	body := fiber.Map{
		"status":   label,
		"store":    storeStatus,
		"circuits": circuits,
	}
	if h.cache != nil {
		body["cache"] = ping(c.UserContext(), h.cache)
	}
	return c.Status(status).JSON(body)
}

func ping(ctx context.Context, p Pinger) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
