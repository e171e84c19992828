package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const snapshotTimeout = 10 * time.Second

// EventBroadcaster delivers an event to the live viewers of a stream.
type EventBroadcaster interface {
	Broadcast(streamID string, event domain.Event) error
}

// Service is the mutation gateway: the only component that writes to the
// store and the only one that turns a write into a broadcast event.
//
// Every mutation persists first and broadcasts second. A failed write emits
// nothing; a failed broadcast is logged and the mutation still succeeds.
// Writes and broadcast hand-off for one stream happen under a per-stream
// lock, so viewers receive events in the order the store applied them.
type Service struct {
	store       domain.Store
	broadcaster EventBroadcaster
	clock       clockwork.Clock
	metrics     *metrics.MutationMetrics
	locks       stripedLock
	snapshots   singleflight.Group
}

func NewService(store domain.Store, broadcaster EventBroadcaster, clock clockwork.Clock, m *metrics.MutationMetrics) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		clock:       clock,
		metrics:     m,
	}
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateStream(ctx context.Context, name string) (_ *domain.Stream, err error) {
	defer s.observe("create_stream", s.clock.Now(), &err)

	name = strings.TrimSpace(name)
	if err := validateText("name", name, domain.MaxStreamNameLength); err != nil {
		return nil, err
	}

	stream := &domain.Stream{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateStream(context.WithoutCancel(ctx), stream); err != nil {
		return nil, apperrors.InternalError("failed to create stream", err)
	}
	s.snapshots.Forget(stream.ID)

	slog.InfoContext(ctx, "Stream created", "stream_id", stream.ID)
	return stream, nil
}

// LookupStream returns a stream without its tasks.
func (s *Service) LookupStream(ctx context.Context, streamID string) (*domain.Stream, error) {
	stream, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, storeError(err, "failed to load stream", streamID)
	}
	return stream, nil
}

// ListStreams returns all streams, newest first.
func (s *Service) ListStreams(ctx context.Context) ([]domain.Stream, error) {
	streams, err := s.store.ListStreams(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list streams", err)
	}
	return streams, nil
}

// GetStream loads the authoritative snapshot of a stream. Concurrent loads of
// the same stream share one store round trip. A load never reflects less than
// the mutations that returned before GetStream was called: every write forgets
// the in-flight load for its stream, so later callers start a fresh one.
func (s *Service) GetStream(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	v, err, shared := s.snapshots.Do(streamID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
		defer cancel()

		stream, err := s.store.GetStream(loadCtx, streamID)
		if err != nil {
			return nil, storeError(err, "failed to load stream", streamID)
		}
		tasks, err := s.store.ListTasks(loadCtx, streamID)
		if err != nil {
			return nil, storeError(err, "failed to load tasks", streamID)
		}
		return &domain.Snapshot{Stream: *stream, Tasks: tasks}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.metrics.SnapshotsShared.Inc()
	}

	snap := v.(*domain.Snapshot)
	return &domain.Snapshot{
		Stream: snap.Stream,
		Tasks:  append(make([]domain.Task, 0, len(snap.Tasks)), snap.Tasks...),
	}, nil
}

// AddTask submits a new pending task with zero votes to an existing stream.
func (s *Service) AddTask(ctx context.Context, streamID, userName, description string) (_ *domain.Task, err error) {
	defer s.observe("add_task", s.clock.Now(), &err)
	ctx = context.WithoutCancel(ctx)

	userName = strings.TrimSpace(userName)
	description = strings.TrimSpace(description)
	if err := validateText("name", userName, domain.MaxUserNameLength); err != nil {
		return nil, err
	}
	if err := validateText("description", description, domain.MaxDescriptionLength); err != nil {
		return nil, err
	}

	if _, err := s.store.GetStream(ctx, streamID); err != nil {
		return nil, storeError(err, "failed to load stream", streamID)
	}

	task := &domain.Task{
		ID:          uuid.NewString(),
		StreamID:    streamID,
		UserName:    userName,
		Description: description,
		Votes:       0,
		Status:      domain.StatusPending,
		CreatedAt:   s.clock.Now().UTC(),
	}

	unlock := s.locks.lock(streamID)
	defer unlock()

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, storeError(err, "failed to create task", streamID)
	}
	s.snapshots.Forget(streamID)
	s.publish(ctx, streamID, domain.TaskCreated{Task: *task})

	return task, nil
}

// Vote adds exactly one vote and returns the new count. The increment is
// atomic at the store, so concurrent votes are never lost.
func (s *Service) Vote(ctx context.Context, taskID string) (_ int64, err error) {
	defer s.observe("vote", s.clock.Now(), &err)
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, storeError(err, "failed to load task", taskID)
	}

	unlock := s.locks.lock(task.StreamID)
	defer unlock()

	votes, err := s.store.IncrementVotes(ctx, taskID)
	if err != nil {
		return 0, storeError(err, "failed to record vote", taskID)
	}
	s.snapshots.Forget(task.StreamID)
	s.publish(ctx, task.StreamID, domain.TaskVoted{TaskID: taskID, Votes: votes})

	return votes, nil
}

// SetStatus moves a task to accepted or refused. Any other value, including
// pending, is rejected. The caller is responsible for admin authorization.
func (s *Service) SetStatus(ctx context.Context, taskID string, status domain.Status) (_ *domain.Task, err error) {
	defer s.observe("set_status", s.clock.Now(), &err)
	ctx = context.WithoutCancel(ctx)

	if !status.Settable() {
		return nil, apperrors.ValidationError("status must be accepted or refused").
			WithField("status", string(status)).
			WithCause(domain.ErrInvalidStatus)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeError(err, "failed to load task", taskID)
	}

	unlock := s.locks.lock(task.StreamID)
	defer unlock()

	updated, err := s.store.SetStatus(ctx, taskID, status)
	if err != nil {
		return nil, storeError(err, "failed to update status", taskID)
	}
	s.snapshots.Forget(task.StreamID)
	s.publish(ctx, updated.StreamID, domain.TaskStatusChanged{TaskID: taskID, Status: updated.Status})

	return updated, nil
}

// DeleteTask removes a task permanently. The caller is responsible for admin authorization.
func (s *Service) DeleteTask(ctx context.Context, taskID string) (err error) {
	defer s.observe("delete_task", s.clock.Now(), &err)
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return storeError(err, "failed to load task", taskID)
	}

	unlock := s.locks.lock(task.StreamID)
	defer unlock()

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return storeError(err, "failed to delete task", taskID)
	}
	s.snapshots.Forget(task.StreamID)
	s.publish(ctx, task.StreamID, domain.TaskDeleted{TaskID: taskID})

	return nil
}

func (s *Service) publish(ctx context.Context, streamID string, event domain.Event) {
	if err := s.broadcaster.Broadcast(streamID, event); err != nil {
		slog.WarnContext(ctx, "Broadcast failed after successful write",
			"stream_id", streamID,
			"event", event.Name(),
			"error", apperrors.TransportError("broadcast hand-off failed", err),
		)
		s.metrics.BroadcastFailures.WithLabelValues(string(event.Name())).Inc()
	}
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	result := "ok"
	if *errp != nil {
		result = string(apperrors.AsStructuredError(*errp).Type)
	}
	s.metrics.MutationsTotal.WithLabelValues(operation, result).Inc()
	s.metrics.MutationDuration.WithLabelValues(operation).Observe(s.clock.Since(start).Seconds())
}

func validateText(field, value string, maxRunes int) error {
	if value == "" {
		return apperrors.ValidationError(field + " is required").WithField("field", field)
	}
	if utf8.RuneCountInString(value) > maxRunes {
		return apperrors.ValidationError(field+" is too long").
			WithField("field", field).
			WithField("max_length", maxRunes)
	}
	return nil
}

// storeError maps domain sentinels to not-found errors and everything else to internal errors.
func storeError(err error, message, id string) error {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return apperrors.NotFoundError("task not found").WithField("task_id", id).WithCause(err)
	case errors.Is(err, domain.ErrStreamNotFound):
		return apperrors.NotFoundError("stream not found").WithField("stream_id", id).WithCause(err)
	default:
		return apperrors.InternalError(message, err)
	}
}
