// Package storetest is a behavioural test suite shared by every domain.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) domain.Store

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGetStream", func(t *testing.T) { testCreateAndGetStream(t, newStore(t)) })
	t.Run("GetStreamNotFound", func(t *testing.T) { testGetStreamNotFound(t, newStore(t)) })
	t.Run("ListStreamsNewestFirst", func(t *testing.T) { testListStreamsNewestFirst(t, newStore(t)) })
	t.Run("ListTasksNewestFirstPerStream", func(t *testing.T) { testListTasksNewestFirst(t, newStore(t)) })
	t.Run("CreateTaskUnknownStream", func(t *testing.T) { testCreateTaskUnknownStream(t, newStore(t)) })
	t.Run("ListTasksEmpty", func(t *testing.T) { testListTasksEmpty(t, newStore(t)) })
	t.Run("IncrementVotes", func(t *testing.T) { testIncrementVotes(t, newStore(t)) })
	t.Run("ConcurrentVotesNoLostUpdates", func(t *testing.T) { testConcurrentVotes(t, newStore(t)) })
	t.Run("SetStatus", func(t *testing.T) { testSetStatus(t, newStore(t)) })
	t.Run("DeleteThenNotFound", func(t *testing.T) { testDeleteThenNotFound(t, newStore(t)) })
	t.Run("MissingTask", func(t *testing.T) { testMissingTask(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

// NewStream builds a stream created offset after the suite's base time.
func NewStream(name string, offset time.Duration) *domain.Stream {
	return &domain.Stream{ID: uuid.NewString(), Name: name, CreatedAt: baseTime.Add(offset)}
}

// NewTask builds a pending task with zero votes.
func NewTask(streamID, userName, description string, offset time.Duration) *domain.Task {
	return &domain.Task{
		ID:          uuid.NewString(),
		StreamID:    streamID,
		UserName:    userName,
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   baseTime.Add(offset),
	}
}

func mustCreateStream(t *testing.T, store domain.Store, name string, offset time.Duration) *domain.Stream {
	t.Helper()
	s := NewStream(name, offset)
	require.NoError(t, store.CreateStream(context.Background(), s))
	return s
}

func mustCreateTask(t *testing.T, store domain.Store, streamID, description string, offset time.Duration) *domain.Task {
	t.Helper()
	task := NewTask(streamID, "Alice", description, offset)
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func testCreateAndGetStream(t *testing.T, store domain.Store) {
	want := mustCreateStream(t, store, "Sprint Planning", 0)

	got, err := store.GetStream(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "Sprint Planning", got.Name)
	assert.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
}

func testGetStreamNotFound(t *testing.T, store domain.Store) {
	_, err := store.GetStream(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func testListStreamsNewestFirst(t *testing.T, store domain.Store) {
	older := mustCreateStream(t, store, "older", 0)
	newer := mustCreateStream(t, store, "newer", time.Minute)

	streams, err := store.ListStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, newer.ID, streams[0].ID)
	assert.Equal(t, older.ID, streams[1].ID)
}

func testListTasksNewestFirst(t *testing.T, store domain.Store) {
	s1 := mustCreateStream(t, store, "one", 0)
	s2 := mustCreateStream(t, store, "two", 0)

	first := mustCreateTask(t, store, s1.ID, "first", time.Second)
	second := mustCreateTask(t, store, s1.ID, "second", 2*time.Second)
	third := mustCreateTask(t, store, s1.ID, "third", 3*time.Second)
	mustCreateTask(t, store, s2.ID, "elsewhere", 4*time.Second)

	tasks, err := store.ListTasks(context.Background(), s1.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})

	got := tasks[2]
	assert.Equal(t, s1.ID, got.StreamID)
	assert.Equal(t, "Alice", got.UserName)
	assert.Equal(t, "first", got.Description)
	assert.Equal(t, int64(0), got.Votes)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func testCreateTaskUnknownStream(t *testing.T, store domain.Store) {
	task := NewTask(uuid.NewString(), "Alice", "orphan", 0)
	err := store.CreateTask(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	_, err = store.GetTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func testListTasksEmpty(t *testing.T, store domain.Store) {
	s := mustCreateStream(t, store, "empty", 0)

	tasks, err := store.ListTasks(context.Background(), s.ID)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func testIncrementVotes(t *testing.T, store domain.Store) {
	ctx := context.Background()
	s := mustCreateStream(t, store, "votes", 0)
	task := mustCreateTask(t, store, s.ID, "vote me", 0)

	for want := int64(1); want <= 3; want++ {
		votes, err := store.IncrementVotes(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, want, votes)
	}

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Votes)
}

func testConcurrentVotes(t *testing.T, store domain.Store) {
	ctx := context.Background()
	s := mustCreateStream(t, store, "race", 0)
	task := mustCreateTask(t, store, s.ID, "popular", 0)

	const voters = 50
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementVotes(ctx, task.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(voters), got.Votes)
}

func testSetStatus(t *testing.T, store domain.Store) {
	ctx := context.Background()
	s := mustCreateStream(t, store, "status", 0)
	task := mustCreateTask(t, store, s.ID, "decide", 0)
	_, err := store.IncrementVotes(ctx, task.ID)
	require.NoError(t, err)

	for _, status := range []domain.Status{domain.StatusAccepted, domain.StatusRefused, domain.StatusAccepted} {
		updated, err := store.SetStatus(ctx, task.ID, status)
		require.NoError(t, err, fmt.Sprintf("set %s", status))
		assert.Equal(t, status, updated.Status)
		assert.Equal(t, int64(1), updated.Votes)
		assert.Equal(t, s.ID, updated.StreamID)
	}
}

func testDeleteThenNotFound(t *testing.T, store domain.Store) {
	ctx := context.Background()
	s := mustCreateStream(t, store, "delete", 0)
	task := mustCreateTask(t, store, s.ID, "doomed", 0)

	require.NoError(t, store.DeleteTask(ctx, task.ID))

	_, err := store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = store.IncrementVotes(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = store.SetStatus(ctx, task.ID, domain.StatusAccepted)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.ErrorIs(t, store.DeleteTask(ctx, task.ID), domain.ErrTaskNotFound)

	tasks, err := store.ListTasks(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func testMissingTask(t *testing.T, store domain.Store) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := store.GetTask(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = store.IncrementVotes(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = store.SetStatus(ctx, id, domain.StatusRefused)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.ErrorIs(t, store.DeleteTask(ctx, id), domain.ErrTaskNotFound)
}
