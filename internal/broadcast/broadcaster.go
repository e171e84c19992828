package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout   = 5 * time.Second
	stopTimeout      = 10 * time.Second
	commandQueueSize = 256
)

var (
	ErrStopped        = errors.New("broadcaster stopped")
	ErrCommandTimeout = errors.New("broadcaster command timed out")
	ErrTooManyRooms   = errors.New("connection has joined too many rooms")
	ErrRoomFull       = errors.New("room is full")
	ErrViewerTooSlow  = errors.New("viewer send buffer is full")
)

// Limits bounds the resources a single connection or room can hold.
// Zero values mean unlimited.
type Limits struct {
	MaxRoomsPerConnection int
	MaxClientsPerRoom     int
}

type member struct {
	writer *clientWriter
	rooms  map[string]struct{}
}

type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type joinCmd struct {
	baseBroadcasterCmd
	streamID     string
	connection   *websocket.Conn
	errorChannel chan error
}

type leaveCmd struct {
	baseBroadcasterCmd
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseBroadcasterCmd
	streamID string
	event    domain.EventName
	payload  []byte
}

type membersCmd struct {
	baseBroadcasterCmd
	streamID     string
	replyChannel chan []*websocket.Conn
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster tracks which connections watch which stream and pushes events
// to them. Delivery is at-most-once: viewers absent at dispatch time never see
// the event and resynchronise from the next snapshot.
type Broadcaster struct {
	cmdCh       chan broadcasterCmd
	clock       clockwork.Clock
	metrics     *metrics.BroadcastMetrics
	limits      Limits
	members     map[*websocket.Conn]*member
	rooms       map[string]map[*websocket.Conn]struct{}
	done        chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration
}

func NewBroadcaster(clock clockwork.Clock, m *metrics.BroadcastMetrics, limits Limits) *Broadcaster {
	b := newBroadcaster(clock, m, limits)
	go b.run()
	return b
}

func newBroadcaster(clock clockwork.Clock, m *metrics.BroadcastMetrics, limits Limits) *Broadcaster {
	return &Broadcaster{
		cmdCh:       make(chan broadcasterCmd, commandQueueSize),
		clock:       clock,
		metrics:     m,
		limits:      limits,
		members:     make(map[*websocket.Conn]*member),
		rooms:       make(map[string]map[*websocket.Conn]struct{}),
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
}

// Join adds conn to the room of streamID and queues a joined frame for it.
// Every event broadcast to the room after that frame reaches conn. Joining a
// room twice only repeats the acknowledgement. The connection's writer is
// started on its first join.
func (b *Broadcaster) Join(conn *websocket.Conn, streamID string) error {
	errCh := make(chan error, 1)
	if err := b.send(joinCmd{streamID: streamID, connection: conn, errorChannel: errCh}); err != nil {
		return err
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-b.done:
		return ErrStopped
	case <-timer.Chan():
		return fmt.Errorf("join: %w after %v", ErrCommandTimeout, commandTimeout)
	}
}

// Leave removes conn from every room and stops its writer, closing the
// connection. Unknown connections are ignored. Leave blocks until the command
// is queued or the broadcaster stops.
func (b *Broadcaster) Leave(conn *websocket.Conn) {
	for {
		err := b.send(leaveCmd{connection: conn})
		if err == nil || errors.Is(err, ErrStopped) {
			return
		}
		slog.Warn("Leave command delayed, retrying", "error", err)
	}
}

// Broadcast encodes event once and enqueues it for every current member of
// streamID's room. It returns once the event is queued for dispatch; per
// connection delivery failures are handled inside the broadcaster.
func (b *Broadcaster) Broadcast(streamID string, event domain.Event) error {
	payload, err := domain.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return b.send(broadcastCmd{streamID: streamID, event: event.Name(), payload: payload})
}

// Members returns the connections currently in streamID's room, or nil if
// the room is empty or the broadcaster does not answer in time.
func (b *Broadcaster) Members(streamID string) []*websocket.Conn {
	replyCh := make(chan []*websocket.Conn, 1)
	if err := b.send(membersCmd{streamID: streamID, replyChannel: replyCh}); err != nil {
		return nil
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case conns := <-replyCh:
		return conns
	case <-b.done:
		return nil
	case <-timer.Chan():
		slog.Warn("Members timed out", "stream_id", streamID, "timeout", commandTimeout)
		return nil
	}
}

// Stop closes every connection with a close frame and waits for the actor to exit.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if err := b.send(stopCmd{}); err != nil {
			slog.Warn("Broadcaster stop command not delivered", "error", err)
			return
		}

		timeout := b.clock.NewTimer(b.stopTimeout)
		defer timeout.Stop()

		select {
		case <-b.done:
			slog.Info("Broadcaster stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.stopTimeout)
			b.metrics.StopTimeoutsTotal.Inc()
		}
	})
}

func (b *Broadcaster) send(cmd broadcasterCmd) error {
	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	select {
	case b.cmdCh <- cmd:
		return nil
	default:
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case b.cmdCh <- cmd:
		return nil
	case <-b.done:
		return ErrStopped
	case <-timer.Chan():
		return fmt.Errorf("%w: queue full for %v", ErrCommandTimeout, commandTimeout)
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			b.closeAll("broadcaster failure")
		}
	}()

	depthTicker := b.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			b.metrics.CommandChannelDepth.Set(float64(depth))
			if depth > commandQueueSize*8/10 {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case joinCmd:
				c.errorChannel <- b.handleJoin(c)
			case leaveCmd:
				b.handleLeave(c.connection)
			case broadcastCmd:
				b.handleBroadcast(c)
			case membersCmd:
				c.replyChannel <- b.membersOf(c.streamID)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (b *Broadcaster) handleJoin(c joinCmd) error {
	ack, err := domain.EncodeJoined(c.streamID)
	if err != nil {
		return err
	}

	m, known := b.members[c.connection]
	if known {
		if _, in := m.rooms[c.streamID]; in {
			return b.acknowledge(c.connection, m, ack)
		}
		if b.limits.MaxRoomsPerConnection > 0 && len(m.rooms) >= b.limits.MaxRoomsPerConnection {
			b.metrics.ConnectionsRejected.WithLabelValues("rooms_per_connection").Inc()
			return fmt.Errorf("%w (max %d)", ErrTooManyRooms, b.limits.MaxRoomsPerConnection)
		}
	}

	room := b.rooms[c.streamID]
	if b.limits.MaxClientsPerRoom > 0 && len(room) >= b.limits.MaxClientsPerRoom {
		b.metrics.ConnectionsRejected.WithLabelValues("room_full").Inc()
		return fmt.Errorf("%w (max %d)", ErrRoomFull, b.limits.MaxClientsPerRoom)
	}

	if !known {
		m = &member{
			writer: newClientWriter(c.connection, b.clock, b.metrics),
			rooms:  make(map[string]struct{}),
		}
		b.members[c.connection] = m
		b.metrics.ActiveConnections.Inc()
	}

	if room == nil {
		room = make(map[*websocket.Conn]struct{})
		b.rooms[c.streamID] = room
		b.metrics.ActiveRooms.Set(float64(len(b.rooms)))
	}

	room[c.connection] = struct{}{}
	m.rooms[c.streamID] = struct{}{}

	slog.Debug("Viewer joined", "stream_id", c.streamID, "room_size", len(room))
	return b.acknowledge(c.connection, m, ack)
}

// acknowledge queues the joined frame ahead of any later event for the room.
// A viewer whose buffer cannot take it is evicted like any slow viewer.
func (b *Broadcaster) acknowledge(conn *websocket.Conn, m *member, ack []byte) error {
	if m.writer.enqueue(ack) {
		return nil
	}
	b.metrics.DeliveriesDropped.WithLabelValues(metrics.DropSlowClient).Inc()
	b.handleLeave(conn)
	return ErrViewerTooSlow
}

func (b *Broadcaster) handleLeave(conn *websocket.Conn) {
	m, ok := b.members[conn]
	if !ok {
		return
	}

	for streamID := range m.rooms {
		room := b.rooms[streamID]
		delete(room, conn)
		if len(room) == 0 {
			delete(b.rooms, streamID)
			slog.Debug("Last viewer left", "stream_id", streamID)
		}
	}
	delete(b.members, conn)
	m.writer.stop()

	b.metrics.ActiveConnections.Dec()
	b.metrics.ActiveRooms.Set(float64(len(b.rooms)))
}

func (b *Broadcaster) handleBroadcast(c broadcastCmd) {
	room := b.rooms[c.streamID]
	b.metrics.EventsDispatched.WithLabelValues(string(c.event)).Inc()
	b.metrics.RoomFanout.Observe(float64(len(room)))

	var slow []*websocket.Conn
	for conn := range room {
		if !b.members[conn].writer.enqueue(c.payload) {
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow viewer", "stream_id", c.streamID, "event", c.event, "remote_addr", conn.RemoteAddr().String())
		b.metrics.DeliveriesDropped.WithLabelValues(metrics.DropSlowClient).Inc()
		b.handleLeave(conn)
	}
}

func (b *Broadcaster) membersOf(streamID string) []*websocket.Conn {
	room := b.rooms[streamID]
	if len(room) == 0 {
		return nil
	}
	conns := make([]*websocket.Conn, 0, len(room))
	for conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

func (b *Broadcaster) handleStop() {
	slog.Info("Broadcaster shutting down", "rooms", len(b.rooms), "connections", len(b.members))
	b.closeAll("server shutting down")
}

func (b *Broadcaster) closeAll(reason string) {
	for conn, m := range b.members {
		m.writer.stopGraceful(reason)
		delete(b.members, conn)
	}
	clear(b.rooms)
	b.metrics.ActiveConnections.Set(0)
	b.metrics.ActiveRooms.Set(0)
}
