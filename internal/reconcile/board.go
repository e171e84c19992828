// Package reconcile keeps a viewer's local copy of a stream's task list in
// step with the live event feed.
//
// The board is a cache, never a source of truth: events for unknown tasks are
// dropped and the next snapshot load restores consistency.
package reconcile

import (
	"fmt"
	"sync"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
)

// Board is a newest-first task list. It is safe for concurrent use.
type Board struct {
	mu    sync.RWMutex
	tasks []domain.Task
}

func NewBoard() *Board {
	return &Board{}
}

// Load replaces the whole list with a fetched snapshot.
func (b *Board) Load(tasks []domain.Task) {
	loaded := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		loaded = insertNewestFirst(loaded, t)
	}

	b.mu.Lock()
	b.tasks = loaded
	b.mu.Unlock()
}

// Apply merges one event. It reports whether the board changed.
func (b *Board) Apply(event domain.Event) (bool, error) {
	if event == nil {
		return false, fmt.Errorf("%w: nil event", domain.ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := event.(type) {
	case domain.TaskCreated:
		if b.indexOf(e.Task.ID) >= 0 {
			return false, nil
		}
		b.tasks = insertNewestFirst(b.tasks, e.Task)
		return true, nil

	case domain.TaskVoted:
		i := b.indexOf(e.TaskID)
		if i < 0 || b.tasks[i].Votes == e.Votes {
			return false, nil
		}
		b.tasks[i].Votes = e.Votes
		return true, nil

	case domain.TaskStatusChanged:
		i := b.indexOf(e.TaskID)
		if i < 0 || b.tasks[i].Status == e.Status {
			return false, nil
		}
		b.tasks[i].Status = e.Status
		return true, nil

	case domain.TaskDeleted:
		i := b.indexOf(e.TaskID)
		if i < 0 {
			return false, nil
		}
		b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
		return true, nil

	default:
		return false, fmt.Errorf("%w: unsupported event %T", domain.ErrInvalidEvent, event)
	}
}

// Tasks returns a copy of the current list, newest first.
func (b *Board) Tasks() []domain.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Task(nil), b.tasks...)
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks)
}

func (b *Board) indexOf(taskID string) int {
	for i := range b.tasks {
		if b.tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}

// insertNewestFirst places t before the first task that is older than it.
// A task created after everything on the board lands at the front, which is a
// plain prepend for events arriving in order. Out-of-order arrivals still end
// up in creation order. Ties on CreatedAt break by ID.
func insertNewestFirst(tasks []domain.Task, t domain.Task) []domain.Task {
	i := 0
	for i < len(tasks) && newer(tasks[i], t) {
		i++
	}
	tasks = append(tasks, domain.Task{})
	copy(tasks[i+1:], tasks[i:])
	tasks[i] = t
	return tasks
}

func newer(a, b domain.Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
