package reconcile

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func task(id string, offset int) domain.Task {
	return domain.Task{
		ID:          id,
		StreamID:    "stream-1",
		UserName:    "ana",
		Description: "task " + id,
		Status:      domain.StatusPending,
		CreatedAt:   baseTime.Add(time.Duration(offset) * time.Second),
	}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestLoad_SortsNewestFirst(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1), task("c", 3), task("b", 2)})

	assert.Equal(t, []string{"c", "b", "a"}, ids(b.Tasks()))
}

func TestLoad_ReplacesEverything(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})
	_, err := b.Apply(domain.TaskCreated{Task: task("b", 2)})
	require.NoError(t, err)

	b.Load([]domain.Task{task("z", 5)})
	assert.Equal(t, []string{"z"}, ids(b.Tasks()))
}

func TestApply_CreatedPrepends(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})

	changed, err := b.Apply(domain.TaskCreated{Task: task("b", 2)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"b", "a"}, ids(b.Tasks()))
}

func TestApply_CreatedIsIdempotent(t *testing.T) {
	b := NewBoard()
	event := domain.TaskCreated{Task: task("a", 1)}

	changed, err := b.Apply(event)
	require.NoError(t, err)
	assert.True(t, changed)
	once := b.Tasks()

	changed, err = b.Apply(event)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, once, b.Tasks())
}

func TestApply_CreatedForKnownTaskKeepsLocalState(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})
	_, err := b.Apply(domain.TaskVoted{TaskID: "a", Votes: 4})
	require.NoError(t, err)

	changed, err := b.Apply(domain.TaskCreated{Task: task("a", 1)})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(4), b.Tasks()[0].Votes)
}

func TestApply_VotedOverwritesCount(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})

	changed, err := b.Apply(domain.TaskVoted{TaskID: "a", Votes: 3})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(3), b.Tasks()[0].Votes)

	changed, err = b.Apply(domain.TaskVoted{TaskID: "a", Votes: 3})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApply_VotesDoNotReorder(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1), task("b", 2)})

	_, err := b.Apply(domain.TaskVoted{TaskID: "a", Votes: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(b.Tasks()))
}

func TestApply_StatusChanged(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})

	changed, err := b.Apply(domain.TaskStatusChanged{TaskID: "a", Status: domain.StatusRefused})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusRefused, b.Tasks()[0].Status)
}

func TestApply_UnknownTaskIsDropped(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})
	before := b.Tasks()

	events := []domain.Event{
		domain.TaskVoted{TaskID: "ghost", Votes: 1},
		domain.TaskStatusChanged{TaskID: "ghost", Status: domain.StatusAccepted},
		domain.TaskDeleted{TaskID: "ghost"},
	}
	for _, e := range events {
		changed, err := b.Apply(e)
		require.NoError(t, err)
		assert.False(t, changed, "%s", e.Name())
	}
	assert.Equal(t, before, b.Tasks())
}

func TestApply_Deleted(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1), task("b", 2), task("c", 3)})

	changed, err := b.Apply(domain.TaskDeleted{TaskID: "b"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"c", "a"}, ids(b.Tasks()))

	changed, err = b.Apply(domain.TaskDeleted{TaskID: "b"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApply_RejectsInvalidEvents(t *testing.T) {
	b := NewBoard()

	_, err := b.Apply(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = b.Apply(domain.TaskVoted{TaskID: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
	assert.Zero(t, b.Len())
}

func TestApply_TasksReturnsCopy(t *testing.T) {
	b := NewBoard()
	b.Load([]domain.Task{task("a", 1)})

	tasks := b.Tasks()
	tasks[0].Votes = 99
	assert.Equal(t, int64(0), b.Tasks()[0].Votes)
}

// Events on distinct task ids commute: every ordering yields the same board.
func TestApply_PermutationsConverge(t *testing.T) {
	snapshot := []domain.Task{task("a", 1), task("b", 2), task("c", 3)}
	events := []domain.Event{
		domain.TaskCreated{Task: task("d", 4)},
		domain.TaskCreated{Task: task("e", 5)},
		domain.TaskCreated{Task: task("f", 5)},
		domain.TaskVoted{TaskID: "a", Votes: 7},
		domain.TaskStatusChanged{TaskID: "b", Status: domain.StatusAccepted},
		domain.TaskDeleted{TaskID: "c"},
	}

	reference := NewBoard()
	reference.Load(snapshot)
	for _, e := range events {
		_, err := reference.Apply(e)
		require.NoError(t, err)
	}
	want := reference.Tasks()

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 200 {
		shuffled := append([]domain.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		b := NewBoard()
		b.Load(snapshot)
		for _, e := range shuffled {
			_, err := b.Apply(e)
			require.NoError(t, err)
		}
		require.Equal(t, want, b.Tasks(), "permutation %d", i)
	}
}

// Replaying the whole feed a second time changes nothing.
func TestApply_ReplayIsIdempotent(t *testing.T) {
	events := []domain.Event{
		domain.TaskCreated{Task: task("a", 1)},
		domain.TaskVoted{TaskID: "a", Votes: 1},
		domain.TaskStatusChanged{TaskID: "a", Status: domain.StatusAccepted},
		domain.TaskCreated{Task: task("b", 2)},
	}

	b := NewBoard()
	for _, e := range events {
		_, err := b.Apply(e)
		require.NoError(t, err)
	}
	once := b.Tasks()

	for _, e := range events {
		changed, err := b.Apply(e)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Equal(t, once, b.Tasks())
}

func TestBoard_ConcurrentUse(t *testing.T) {
	b := NewBoard()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Apply(domain.TaskCreated{Task: task(fmt.Sprintf("t%02d", i), i)})
			_ = b.Tasks()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, b.Len())
	tasks := b.Tasks()
	for i := 1; i < len(tasks); i++ {
		assert.False(t, tasks[i].CreatedAt.After(tasks[i-1].CreatedAt))
	}
}
