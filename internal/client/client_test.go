package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamID = "2f6c1f0e-7d4b-4a55-9b61-0c1b8a9f3e21"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)

	_, err = New("://nope")
	require.Error(t, err)
}

func TestWebsocketURL(t *testing.T) {
	c, err := New("https://board.example.com/base")
	require.NoError(t, err)
	assert.Equal(t, "wss://board.example.com/base/ws", c.websocketURL())

	c, err = New("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", c.websocketURL())
}

func TestSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/streams/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, streamID, r.PathValue("id"))
		assert.Contains(t, r.Header.Get("User-Agent"), "taskstream-watch/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"stream": {"stream_id": "` + streamID + `", "name": "Sprint Planning", "created_at": "2025-06-01T12:00:00Z"},
			"tasks": [{"_id": "t1", "stream_id": "` + streamID + `", "user_name": "Alice", "description": "Fix login bug",
			           "votes": 3, "status": "accepted", "created_at": "2025-06-01T12:01:00Z"}]
		}`))
	})
	c := newTestClient(t, mux)

	snapshot, err := c.Snapshot(context.Background(), streamID)

	require.NoError(t, err)
	assert.Equal(t, "Sprint Planning", snapshot.Stream.Name)
	require.Len(t, snapshot.Tasks, 1)
	assert.Equal(t, int64(3), snapshot.Tasks[0].Votes)
	assert.Equal(t, domain.StatusAccepted, snapshot.Tasks[0].Status)
}

func TestSnapshot_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"stream not found"}`, http.StatusNotFound)
	}))

	_, err := c.Snapshot(context.Background(), "missing")

	require.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestSnapshot_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.Snapshot(context.Background(), streamID)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Body)
}

const joinedFrame = `{"event":"joined","data":{"room":"` + streamID + `"}}`

// wsServer accepts one join, acknowledges it and replays frames to the viewer.
func wsServer(t *testing.T, frames []string, closeAfter bool) http.Handler {
	return wsServerWithAck(t, joinedFrame, frames, closeAfter)
}

// wsServerWithAck is wsServer with a custom acknowledgement; an empty ack
// leaves the join unacknowledged.
func wsServerWithAck(t *testing.T, ack string, frames []string, closeAfter bool) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var join map[string]string
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		assert.Equal(t, "join", join["type"])
		assert.Equal(t, streamID, join["room"])

		if ack != "" {
			frames = append([]string{ack}, frames...)
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if closeAfter {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		// Hold the connection open until the viewer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func TestWatch_DeliversEventsAndSkipsMalformed(t *testing.T) {
	frames := []string{
		`{"event":"task-voted","data":{"taskId":"t1","votes":4}}`,
		`{"event":"mystery","data":{}}`,
		`not json`,
		`{"event":"task-deleted","data":{"task_id":"t1"}}`,
	}
	c := newTestClient(t, wsServer(t, frames, true))

	var events []domain.Event
	joined := false
	err := c.Watch(context.Background(), streamID, func() error {
		joined = true
		return nil
	}, func(e domain.Event) {
		events = append(events, e)
	})

	require.ErrorIs(t, err, ErrClosed)
	assert.True(t, joined)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TaskVoted{TaskID: "t1", Votes: 4}, events[0])
	assert.Equal(t, domain.TaskDeleted{TaskID: "t1"}, events[1])
}

func TestWatch_StopsOnCancel(t *testing.T) {
	frames := []string{`{"event":"task-voted","data":{"taskId":"t1","votes":1}}`}
	c := newTestClient(t, wsServer(t, frames, false))

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, streamID, nil, func(domain.Event) { once.Do(cancel) })
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestWatch_DialFailure(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	err := c.Watch(context.Background(), streamID, nil, func(domain.Event) {})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial failed")
}

func TestWatch_OnJoinedErrorEndsWatch(t *testing.T) {
	c := newTestClient(t, wsServer(t, nil, false))
	boom := errors.New("snapshot failed")

	err := c.Watch(context.Background(), streamID, func() error { return boom }, func(domain.Event) {
		t.Fatal("no events expected")
	})

	require.ErrorIs(t, err, boom)
}

func TestWatch_OnJoinedWaitsForAcknowledgement(t *testing.T) {
	release := make(chan struct{})
	var acked atomic.Bool
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var join map[string]string
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		// A frame for another room the connection already watches.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"joined","data":{"room":"other"}}`))
		<-release
		acked.Store(true)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(joinedFrame))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"task-deleted","data":{"task_id":"t1"}}`))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	var events []domain.Event
	err := c.Watch(context.Background(), streamID, func() error {
		assert.True(t, acked.Load(), "onJoined ran before the server acknowledged the join")
		return nil
	}, func(e domain.Event) {
		events = append(events, e)
	})

	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, []domain.Event{domain.TaskDeleted{TaskID: "t1"}}, events)
}

func TestWatch_JoinTimeout(t *testing.T) {
	ts := httptest.NewServer(wsServerWithAck(t, "", nil, false))
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, WithJoinTimeout(100*time.Millisecond))
	require.NoError(t, err)

	err = c.Watch(context.Background(), streamID, func() error {
		t.Error("onJoined must not run without an acknowledgement")
		return nil
	}, func(domain.Event) {})

	require.ErrorIs(t, err, ErrJoinTimeout)
}
