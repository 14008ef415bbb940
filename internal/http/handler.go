package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alexandernizov/accounts/internal/domain/errs"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
)

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts h to net/http, forwarding any returned error to the shared
// error writer so no handler writes error replies itself.
func Handle(log *slog.Logger, h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(log, w, r, err)
		}
	}
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var validationErr *errs.ValidationError
	if errors.As(err, &validationErr) {
		message := "All fields are required"
		if !validationErr.MissingOnly() {
			message = "Invalid user data"
		}
		return NewAPIError(http.StatusBadRequest, message, validationErr.Messages()...)
	}

	switch {
	case errors.Is(err, errs.ErrAccountAlreadyExists):
		return NewAPIError(http.StatusConflict, "User with email or username already exists")
	case errors.Is(err, errs.ErrInvalidCredentials):
		return NewAPIError(http.StatusUnauthorized, "Invalid user credentials")
	case errors.Is(err, errs.ErrInvalidToken):
		return NewAPIError(http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, errs.ErrAccountNotFound):
		return NewAPIError(http.StatusNotFound, "User does not exist")
	default:
		return nil
	}
}

func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr == nil {
		log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			sl.Err(err),
		)
		apiErr = NewAPIError(http.StatusInternalServerError, "Internal Server Error")
	}
	writeJSON(w, apiErr.StatusCode, apiErr)
}
