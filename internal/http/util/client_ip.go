package util

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP returns the address from the edge header (e.g. Cf-Connecting-Ip)
// when it holds a valid IP, otherwise the peer address.
func ClientIP(c *fiber.Ctx, header string) string {
	if header != "" {
		value := strings.TrimSpace(c.Get(header))
		if first, _, found := strings.Cut(value, ","); found {
			value = strings.TrimSpace(first)
		}
		if addr, err := netip.ParseAddr(value); err == nil {
			return addr.String()
		}
	}
	return c.IP()
}
