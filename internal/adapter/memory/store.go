// Package memory is a process-local domain.Store for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
)

// Store keeps streams and tasks in maps guarded by a single mutex, which makes
// every task mutation atomic.
type Store struct {
	mu          sync.RWMutex
	streams     map[string]domain.Stream
	streamOrder []string
	tasks       map[string]*domain.Task
	streamTasks map[string][]string // insertion order per stream
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		streams:     make(map[string]domain.Stream),
		tasks:       make(map[string]*domain.Task),
		streamTasks: make(map[string][]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateStream(_ context.Context, stream *domain.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams[stream.ID] = *stream
	s.streamOrder = append(s.streamOrder, stream.ID)
	return nil
}

func (s *Store) GetStream(_ context.Context, id string) (*domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	return &stream, nil
}

func (s *Store) ListStreams(context.Context) ([]domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Stream, 0, len(s.streamOrder))
	for _, id := range s.streamOrder {
		out = append(out, s.streams[id])
	}
	slices.Reverse(out)
	sortNewestFirst(out, func(st domain.Stream) int64 { return st.CreatedAt.UnixNano() })
	return out, nil
}

func (s *Store) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[task.StreamID]; !ok {
		return domain.ErrStreamNotFound
	}
	stored := *task
	s.tasks[task.ID] = &stored
	s.streamTasks[task.StreamID] = append(s.streamTasks[task.StreamID], task.ID)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	out := *task
	return &out, nil
}

func (s *Store) ListTasks(_ context.Context, streamID string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.streamTasks[streamID]
	out := make([]domain.Task, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *s.tasks[ids[i]])
	}
	sortNewestFirst(out, func(t domain.Task) int64 { return t.CreatedAt.UnixNano() })
	return out, nil
}

func (s *Store) IncrementVotes(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return 0, domain.ErrTaskNotFound
	}
	task.Votes++
	return task.Votes, nil
}

func (s *Store) SetStatus(_ context.Context, id string, status domain.Status) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	task.Status = status
	out := *task
	return &out, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	delete(s.tasks, id)
	s.streamTasks[task.StreamID] = slices.DeleteFunc(s.streamTasks[task.StreamID], func(tid string) bool {
		return tid == id
	})
	return nil
}

// sortNewestFirst orders by creation time descending. The sort is stable, so
// items created at the same instant keep reverse insertion order.
func sortNewestFirst[T any](items []T, createdAt func(T) int64) {
	slices.SortStableFunc(items, func(a, b T) int {
		ca, cb := createdAt(a), createdAt(b)
		switch {
		case ca > cb:
			return -1
		case ca < cb:
			return 1
		}
		return 0
	})
}
