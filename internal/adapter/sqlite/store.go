package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const backendName = "sqlite"

// Store implements domain.Store on SQLite. Timestamps are stored as unix
// microseconds; rowid breaks ties in insert order.
type Store struct {
	db      *sql.DB
	metrics *metrics.StoreMetrics
}

var _ domain.Store = (*Store)(nil)

// NewStore wraps an opened database. m may be nil.
func NewStore(db *sql.DB, m *metrics.StoreMetrics) *Store {
	return &Store{db: db, metrics: m}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrStreamNotFound) {
		err = nil
	}
	s.metrics.Observe(backendName, operation, time.Since(start).Seconds(), err)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateStream(ctx context.Context, stream *domain.Stream) (err error) {
	defer func(start time.Time) { s.observe("CreateStream", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO streams (id, name, created_at) VALUES (?, ?, ?)`,
		stream.ID, stream.Name, stream.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, id string) (_ *domain.Stream, err error) {
	defer func(start time.Time) { s.observe("GetStream", start, err) }(time.Now())

	var (
		stream  domain.Stream
		created int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM streams WHERE id = ?`, id).
		Scan(&stream.ID, &stream.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	stream.CreatedAt = fromMicros(created)
	return &stream, nil
}

func (s *Store) ListStreams(ctx context.Context) (_ []domain.Stream, err error) {
	defer func(start time.Time) { s.observe("ListStreams", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM streams ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	streams := []domain.Stream{}
	for rows.Next() {
		var (
			st      domain.Stream
			created int64
		)
		if err := rows.Scan(&st.ID, &st.Name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		st.CreatedAt = fromMicros(created)
		streams = append(streams, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate streams: %w", err)
	}
	return streams, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) (err error) {
	defer func(start time.Time) { s.observe("CreateTask", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, stream_id, user_name, description, votes, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.StreamID, task.UserName, task.Description, task.Votes, string(task.Status), task.CreatedAt.UnixMicro())
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && isForeignKeyViolation(sqliteErr) {
			return domain.ErrStreamNotFound
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, stream_id, user_name, description, votes, status, created_at`

func (s *Store) GetTask(ctx context.Context, id string) (_ *domain.Task, err error) {
	defer func(start time.Time) { s.observe("GetTask", start, err) }(time.Now())

	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, streamID string) (_ []domain.Task, err error) {
	defer func(start time.Time) { s.observe("ListTasks", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE stream_id = ? ORDER BY created_at DESC, rowid DESC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) IncrementVotes(ctx context.Context, id string) (_ int64, err error) {
	defer func(start time.Time) { s.observe("IncrementVotes", start, err) }(time.Now())

	var votes int64
	err = s.db.QueryRowContext(ctx, `UPDATE tasks SET votes = votes + 1 WHERE id = ? RETURNING votes`, id).Scan(&votes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment votes: %w", err)
	}
	return votes, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status domain.Status) (_ *domain.Task, err error) {
	defer func(start time.Time) { s.observe("SetStatus", start, err) }(time.Now())

	task, err := scanTask(s.db.QueryRowContext(ctx,
		`UPDATE tasks SET status = ? WHERE id = ? RETURNING `+taskColumns, string(status), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set status: %w", err)
	}
	return task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("DeleteTask", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func isForeignKeyViolation(err *sqlite.Error) bool {
	if err.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return err.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var (
		task    domain.Task
		status  string
		created int64
	)
	if err := row.Scan(&task.ID, &task.StreamID, &task.UserName, &task.Description, &task.Votes, &status, &created); err != nil {
		return nil, err
	}
	task.Status = domain.Status(status)
	task.CreatedAt = fromMicros(created)
	return &task, nil
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
