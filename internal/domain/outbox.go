package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	AccountTopic = "accounts"

	EventAccountRegistered = "account.registered"
)

type Outbox struct {
	ID      int64
	Key     uuid.UUID
	Topic   string
	Message []byte
	SentAt  *time.Time
}
