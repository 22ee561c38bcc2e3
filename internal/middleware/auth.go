package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SharedSecret rejects requests that do not present the password returned
// by getSecret. An empty secret disables the check. The password is read
// from "Authorization: Bearer", X-Auth-Token or the password query
// parameter. Paths in skip are always allowed.
func SharedSecret(getSecret func() string, skip ...string) echo.MiddlewareFunc {
	skipSet := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipSet[p] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skipSet[c.Request().URL.Path]; ok {
				return next(c)
			}
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if !TokenOK(c.Request(), getSecret()) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"details": "missing or invalid password",
				})
			}
			return next(c)
		}
	}
}

// TokenOK reports whether r carries expected. It is true when expected is empty.
func TokenOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	for _, candidate := range presented(r) {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}

func presented(r *http.Request) []string {
	var out []string
	if auth := r.Header.Get("Authorization"); len(auth) > len("bearer ") && strings.EqualFold(auth[:7], "bearer ") {
		out = append(out, strings.TrimSpace(auth[7:]))
	}
	out = append(out, r.Header.Get("X-Auth-Token"))
	out = append(out, r.URL.Query().Get("password"))
	return out
}
