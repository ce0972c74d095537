package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"

	maxRequestIDLength = 64
)

// RequestID tags each request with an ID, reusing a well-formed inbound one
// so the edge and the service log the same value.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(RequestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.New().String()
		}
		c.Set(RequestIDHeader, rid)
		c.Locals(RequestIDKey, rid)
		return c.Next()
	}
}

func validRequestID(rid string) bool {
	if rid == "" || len(rid) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(rid); i++ {
		ch := rid[i]
		if ch < 0x21 || ch > 0x7e {
			return false
		}
	}
	return true
}

func requestID(c *fiber.Ctx) string {
	if rid, ok := c.Locals(RequestIDKey).(string); ok {
		return rid
	}
	return ""
}
