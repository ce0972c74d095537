package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	infraPostgres "github.com/sifan077/TempLink/internal/infra/postgres"
	infraRedis "github.com/sifan077/TempLink/internal/infra/redis"
	"go.uber.org/zap"
)

// HealthDeps groups the optional backends reported by the health endpoint.
type HealthDeps struct {
	Logger   *zap.Logger
	Postgres *pgxpool.Pool
	Redis    *goredis.Client
}

// HealthHandler reports service status and the fallback for unrouted requests.
type HealthHandler struct {
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
}

// NewHealthHandler creates a health handler with the provided dependencies.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, postgres: deps.Postgres, redis: deps.Redis}
}

// Register wires /health and, last, the catch-all 403.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Use(h.Forbidden)
}

// Health reports the service and the reachability of enabled backends.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	status := "ok"
	checks := fiber.Map{}
	if h.postgres != nil {
		checks["postgres"] = h.check(ctx, "postgres", func(ctx context.Context) error {
			return infraPostgres.Ping(ctx, h.postgres)
		}, &status)
	}
	if h.redis != nil {
		checks["redis"] = h.check(ctx, "redis", func(ctx context.Context) error {
			return infraRedis.Ping(ctx, h.redis)
		}, &status)
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service": "TempLink",
		"status":  status,
		"checks":  checks,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Forbidden answers requests that carry no routing context and match no route.
func (h *HealthHandler) Forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).SendString(statusText(fiber.StatusForbidden))
}

func (h *HealthHandler) check(ctx context.Context, name string, ping func(context.Context) error, status *string) string {
	if err := ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.String("backend", name), zap.Error(err))
		*status = "degraded"
		return "down"
	}
	return "up"
}
