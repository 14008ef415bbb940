package errs

import (
	"errors"
	"strings"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account with this username or email already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("token is invalid")

	ErrValidation = errors.New("validation failed")
)

type FieldError struct {
	Field   string
	Message string
	Missing bool
}

// ValidationError is a client-facing failure listing every offending field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(msgs, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) Messages() []string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return msgs
}

// MissingOnly reports whether every field failed only because it was empty.
func (e *ValidationError) MissingOnly() bool {
	for _, f := range e.Fields {
		if !f.Missing {
			return false
		}
	}
	return true
}
