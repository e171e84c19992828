package domain

import (
	"fmt"
	"time"
)

const (
	MaxUserNameLength    = 50
	MaxDescriptionLength = 500
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRefused  Status = "refused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

// Settable reports whether s may be assigned through a status update.
// Pending is only ever the initial status.
func (s Status) Settable() bool {
	return s == StatusAccepted || s == StatusRefused
}

// ParseSettableStatus converts raw input into a status accepted by a status update.
func ParseSettableStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Settable() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

type Task struct {
	ID          string    `json:"_id" bson:"_id"`
	StreamID    string    `json:"stream_id" bson:"stream_id"`
	UserName    string    `json:"user_name" bson:"user_name"`
	Description string    `json:"description" bson:"description"`
	Votes       int64     `json:"votes" bson:"votes"`
	Status      Status    `json:"status" bson:"status"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}
