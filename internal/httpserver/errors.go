package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func badRequest(c echo.Context, details string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request", Details: details})
}

// writeError maps err onto a status: validation failures are the caller's
// fault, everything else is reported as 500.
func writeError(c echo.Context, summary string, err error) error {
	status := http.StatusInternalServerError
	var he *echo.HTTPError
	switch {
	case apperr.IsKind(err, apperr.KindValidation):
		status = http.StatusBadRequest
	case errors.As(err, &he):
		status = he.Code
	}
	return c.JSON(status, errorBody{Error: summary, Details: err.Error()})
}
