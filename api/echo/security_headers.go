package echo

import "github.com/labstack/echo/v4"

// SecurityHeaders adds the standard security headers to every response. The
// CSP allows Graph API connections for the connect flow pages.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
			h.Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' https://graph.facebook.com https://www.facebook.com")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), location=()")
			return next(c)
		}
	}
}
