package domain

import "time"

const MaxStreamNameLength = 100

// Stream is a named channel that tasks are submitted to.
type Stream struct {
	ID        string    `json:"stream_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Snapshot is the authoritative state of a stream at load time.
// Tasks are ordered newest first.
type Snapshot struct {
	Stream Stream `json:"stream"`
	Tasks  []Task `json:"tasks"`
}
