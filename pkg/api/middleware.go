package api

import (
	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets the baseline response headers
// for a JSON-and-SSE API: job records carry research text and credentials may
// slip past masking, so nothing here is cacheable, and the responses are
// never embedded in pages.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// The stream handler replaces this with its own no-cache before
			// the first SSE frame.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
