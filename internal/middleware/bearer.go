package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// tokenFromRequest reads Authorization: Bearer <t>, then X-Auth-Token.
func tokenFromRequest(r *http.Request) string {
	if ah := r.Header.Get("Authorization"); len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
		return strings.TrimSpace(ah[7:])
	}
	return r.Header.Get("X-Auth-Token")
}

// BearerAuth rejects requests whose token does not match. An empty expected
// token disables the check.
func BearerAuth(getToken func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			expected := getToken()
			if expected == "" {
				return next(c)
			}
			got := tokenFromRequest(c.Request())
			if got == "" || !hmac.Equal([]byte(got), []byte(expected)) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
