package domain

import "context"

type StreamRepository interface {
	CreateStream(ctx context.Context, stream *Stream) error
	GetStream(ctx context.Context, id string) (*Stream, error)
	ListStreams(ctx context.Context) ([]Stream, error)
}

// TaskRepository persists tasks. IncrementVotes must be atomic per task:
// concurrent calls on the same id never lose an increment.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, streamID string) ([]Task, error)
	IncrementVotes(ctx context.Context, id string) (int64, error)
	SetStatus(ctx context.Context, id string, status Status) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Store is the full persistence contract used by the application layer.
type Store interface {
	StreamRepository
	TaskRepository
	Ping(ctx context.Context) error
}
