package storage

import "errors"

var (
	ErrNoConnection = errors.New("can't establish connection to db")

	ErrInternal = errors.New("internal error")

	ErrAccountNotFound = errors.New("account is not found")
	ErrAccountExists   = errors.New("account with this username or email already exists")
	ErrCacheMiss       = errors.New("account is not cached")

	ErrNoOutbox = errors.New("have no outbox to send")
)
