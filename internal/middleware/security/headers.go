package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	IsDevelopment bool
	// NoStorePrefixes lists path prefixes whose responses must not be
	// cached because they carry document text or answers.
	NoStorePrefixes []string
}

// HeadersMiddleware sets the response headers of a JSON API that serves no
// active content.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	if len(cfg.NoStorePrefixes) == 0 {
		cfg.NoStorePrefixes = []string{"/api/"}
	}

	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderXFrameOptions, "DENY")
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		c.Set(fiber.HeaderReferrerPolicy, "no-referrer")
		c.Set(fiber.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")

		if !cfg.IsDevelopment {
			c.Set(fiber.HeaderStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		}

		for _, prefix := range cfg.NoStorePrefixes {
			if strings.HasPrefix(c.Path(), prefix) {
				c.Set(fiber.HeaderCacheControl, "no-store")
				break
			}
		}

		return c.Next()
	}
}
