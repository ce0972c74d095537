package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/TempLink/internal/http/util"
	"go.uber.org/zap"
)

// Logger creates a logging middleware using zap. The client address is
// taken from clientIPHeader when the edge sets it.
func Logger(logger *zap.Logger, clientIPHeader string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("host", c.Hostname()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", util.ClientIP(c, clientIPHeader)),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		}
		if rid := requestID(c); rid != "" {
			fields = append(fields, zap.String("request_id", rid))
		}

		if err != nil {
			logger.Error("request error", append(fields, zap.Error(err))...)
		} else {
			logger.Info("request", fields...)
		}

		return err
	}
}
