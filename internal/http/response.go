package http

import (
	"encoding/json"
	"net/http"
)

const (
	defaultSuccessMessage = "Success"
	defaultErrorMessage   = "Something went wrong"
)

// Response is the envelope of every successful reply.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func NewResponse(statusCode int, data any, message string) Response {
	if message == "" {
		message = defaultSuccessMessage
	}
	return Response{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
		Success:    statusCode < http.StatusBadRequest,
	}
}

// APIError is the envelope of every failed reply. Handlers may return it
// directly to choose the status code.
type APIError struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func NewAPIError(statusCode int, message string, errors ...string) *APIError {
	if message == "" {
		message = defaultErrorMessage
	}
	if errors == nil {
		errors = []string{}
	}
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Success:    false,
		Errors:     errors,
	}
}

func (e *APIError) Error() string {
	return e.Message
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, statusCode int, data any, message string) error {
	writeJSON(w, statusCode, NewResponse(statusCode, data, message))
	return nil
}
