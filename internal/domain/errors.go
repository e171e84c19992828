package domain

import "errors"

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidStatus  = errors.New("invalid task status")
	ErrInvalidEvent   = errors.New("invalid event")
)
