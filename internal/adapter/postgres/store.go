package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const foreignKeyViolation = "23503"

// Store implements domain.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const createStream = `-- name: CreateStream
INSERT INTO streams (id, name, created_at) VALUES ($1, $2, $3)`

func (s *Store) CreateStream(ctx context.Context, stream *domain.Stream) error {
	if _, err := s.pool.Exec(ctx, createStream, stream.ID, stream.Name, stream.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

const getStream = `-- name: GetStream
SELECT id, name, created_at FROM streams WHERE id = $1`

func (s *Store) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	var stream domain.Stream
	err := s.pool.QueryRow(ctx, getStream, id).Scan(&stream.ID, &stream.Name, &stream.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	stream.CreatedAt = stream.CreatedAt.UTC()
	return &stream, nil
}

const listStreams = `-- name: ListStreams
SELECT id, name, created_at FROM streams ORDER BY created_at DESC, seq DESC`

func (s *Store) ListStreams(ctx context.Context) ([]domain.Stream, error) {
	rows, err := s.pool.Query(ctx, listStreams)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	streams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Stream, error) {
		var st domain.Stream
		err := row.Scan(&st.ID, &st.Name, &st.CreatedAt)
		st.CreatedAt = st.CreatedAt.UTC()
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan streams: %w", err)
	}
	return streams, nil
}

const createTask = `-- name: CreateTask
INSERT INTO tasks (id, stream_id, user_name, description, votes, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	_, err := s.pool.Exec(ctx, createTask,
		task.ID, task.StreamID, task.UserName, task.Description, task.Votes, string(task.Status), task.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return domain.ErrStreamNotFound
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, stream_id, user_name, description, votes, status, created_at`

const getTask = `-- name: GetTask
SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, getTask, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

const listTasks = `-- name: ListTasks
SELECT ` + taskColumns + ` FROM tasks WHERE stream_id = $1 ORDER BY created_at DESC, seq DESC`

func (s *Store) ListTasks(ctx context.Context, streamID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, listTasks, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Task, error) {
		task, err := scanTask(row)
		if err != nil {
			return domain.Task{}, err
		}
		return *task, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

const incrementVotes = `-- name: IncrementVotes
UPDATE tasks SET votes = votes + 1 WHERE id = $1 RETURNING votes`

func (s *Store) IncrementVotes(ctx context.Context, id string) (int64, error) {
	var votes int64
	err := s.pool.QueryRow(ctx, incrementVotes, id).Scan(&votes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment votes: %w", err)
	}
	return votes, nil
}

const setStatus = `-- name: SetStatus
UPDATE tasks SET status = $2 WHERE id = $1 RETURNING ` + taskColumns

func (s *Store) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, setStatus, id, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set status: %w", err)
	}
	return task, nil
}

const deleteTask = `-- name: DeleteTask
DELETE FROM tasks WHERE id = $1`

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteTask, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task   domain.Task
		status string
	)
	if err := row.Scan(&task.ID, &task.StreamID, &task.UserName, &task.Description, &task.Votes, &status, &task.CreatedAt); err != nil {
		return nil, err
	}
	task.Status = domain.Status(status)
	task.CreatedAt = task.CreatedAt.UTC()
	return &task, nil
}
