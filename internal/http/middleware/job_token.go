package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

// JobTokenMiddleware authenticates the periodic job trigger endpoints
// with a shared-secret bearer token. An unconfigured token is a
// configuration error, not an auth failure.
func JobTokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "job token not configured"})
			}

			auth := strings.TrimSpace(c.Request().Header.Get("Authorization"))
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid job token"})
			}

			return next(c)
		}
	}
}
