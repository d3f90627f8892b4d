package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/docqa/backend/internal/api/handlers"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/middleware/ratelimit"
	"github.com/docqa/backend/internal/middleware/security"
	"github.com/docqa/backend/internal/middleware/validation"
)

type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
	// AccessLog enables the per-request access log line.
	AccessLog bool
}

type Dependencies struct {
	Documents   *handlers.DocumentHandler
	Queries     *handlers.QueryHandler
	WebSocket   *handlers.WebSocketHandler
	Health      *handlers.HealthHandler
	RateLimiter *ratelimit.RateLimiter
	Validation  validation.Config
	Security    security.HeadersConfig
}

// NewApp builds the fiber application with every route mounted. Health and
// metrics routes sit outside owner validation and rate limiting.
func NewApp(cfg Config, deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + handlers.OwnerHeader,
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(deps.Security))

	app.Get("/metrics", metrics.MetricsHandler())

	v1 := app.Group("/api/v1")
	if deps.Health != nil {
		v1.Get("/health", deps.Health.Health)
		v1.Get("/ready", deps.Health.Ready)
	}

	if deps.WebSocket != nil {
		v1.Get("/ws", deps.WebSocket.Upgrade, websocket.New(deps.WebSocket.HandleConnection))
	}

	owned := v1.Group("", validation.Middleware(deps.Validation))
	if deps.RateLimiter != nil {
		owned.Use(deps.RateLimiter.Middleware())
	}

	if deps.Documents != nil {
		owned.Post("/documents", deps.Documents.UploadDocument)
		owned.Get("/documents", deps.Documents.ListDocuments)
		owned.Delete("/documents/:id", deps.Documents.DeleteDocument)
		owned.Get("/documents/:id/chunks", deps.Documents.GetChunks)
	}
	if deps.Queries != nil {
		owned.Post("/query", deps.Queries.HandleQuery)
		owned.Get("/query/history", deps.Queries.GetQueryHistory)
	}

	return app
}
