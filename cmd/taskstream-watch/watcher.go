package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/client"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/retry"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/reconcile"
	"github.com/jonboulle/clockwork"
)

const initialBackoff = time.Second

type streamClient interface {
	Snapshot(ctx context.Context, streamID string) (*domain.Snapshot, error)
	Watch(ctx context.Context, streamID string, onJoined func() error, handle func(domain.Event)) error
}

// watcher keeps a reconciled board for one stream and renders it on change.
type watcher struct {
	client   streamClient
	streamID string
	out      io.Writer
	clock    clockwork.Clock
	board    *reconcile.Board

	mu     sync.Mutex
	stream domain.Stream
}

func newWatcher(c streamClient, streamID string, out io.Writer, clock clockwork.Clock) *watcher {
	return &watcher{
		client:   c,
		streamID: streamID,
		out:      out,
		clock:    clock,
		board:    reconcile.NewBoard(),
	}
}

func (w *watcher) printOnce(ctx context.Context) error {
	if err := w.load(ctx); err != nil {
		return err
	}
	return w.render()
}

// follow runs sessions until ctx ends. Each session that got as far as
// loading the board resets the failure budget.
func (w *watcher) follow(ctx context.Context, maxAttempts int, maxBackoff time.Duration) error {
	policy := retry.Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		Clock:          w.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Connection lost, reconnecting", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	for {
		if err := retry.DoVoid(ctx, policy, classify, w.session); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Info("Session ended, reconnecting", "stream_id", w.streamID)
	}
}

// session joins the room and loads the snapshot once the server has
// acknowledged the join, so every event after the snapshot read reaches the
// board. Events already in the snapshot are absorbed by the board.
func (w *watcher) session(ctx context.Context) error {
	loaded := false
	err := w.client.Watch(ctx, w.streamID,
		func() error {
			if err := w.load(ctx); err != nil {
				return err
			}
			loaded = true
			return w.render()
		},
		w.handle,
	)
	if loaded && ctx.Err() == nil {
		slog.Info("Stream connection ended", "stream_id", w.streamID, "error", err)
		return nil
	}
	if errors.Is(err, client.ErrJoinTimeout) {
		// Joins for unknown streams are never acknowledged.
		if _, lookupErr := w.client.Snapshot(ctx, w.streamID); errors.Is(lookupErr, domain.ErrStreamNotFound) {
			err = lookupErr
		}
	}
	if errors.Is(err, domain.ErrStreamNotFound) {
		return retry.Permanent(err)
	}
	return err
}

func (w *watcher) load(ctx context.Context) error {
	snapshot, err := w.client.Snapshot(ctx, w.streamID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.stream = snapshot.Stream
	w.mu.Unlock()
	w.board.Load(snapshot.Tasks)
	return nil
}

func (w *watcher) handle(event domain.Event) {
	changed, err := w.board.Apply(event)
	if err != nil {
		slog.Warn("Dropping event", "event", event.Name(), "error", err)
		return
	}
	if !changed {
		slog.Debug("Event did not change the board", "event", event.Name(), "task_id", event.AffectedTaskID())
		return
	}
	if err := w.render(); err != nil {
		slog.Error("Failed to render board", "error", err)
	}
}

func (w *watcher) render() error {
	w.mu.Lock()
	stream := w.stream
	w.mu.Unlock()
	return renderBoard(w.out, stream, w.board.Tasks(), w.clock.Now())
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}
