package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// APIError is the JSON body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// HTTPError wraps an APIError so echo renders it with the given status.
func HTTPError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, &APIError{Code: code, Message: message})
}

func BadRequest(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusBadRequest, code, message)
}

func Unauthorized(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusUnauthorized, code, message)
}

func Forbidden(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusForbidden, code, message)
}

func NotFound(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusNotFound, code, message)
}

func Conflict(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusConflict, code, message)
}

func TooManyRequests(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusTooManyRequests, code, message)
}

func InternalError(code, message string) *echo.HTTPError {
	return HTTPError(http.StatusInternalServerError, code, message)
}
