package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	// PongWait is how long a reader may wait for the next pong or message
	// before treating the viewer as gone. Pings are sent well within it.
	PongWait = 60 * time.Second

	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	messageBufferSize = 16
)

// clientWriter owns all writes to one connection. Messages are queued in a
// bounded buffer and written by a dedicated goroutine.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	metrics     *metrics.BroadcastMetrics
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, m *metrics.BroadcastMetrics) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		metrics:     m,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// enqueue queues msg without blocking. It reports false when the buffer is full.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.fail("websocket write failed", err)
				return
			}
			cw.metrics.MessageSendDuration.Observe(cw.clock.Since(start).Seconds())

		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				cw.metrics.PingFailures.Inc()
				cw.fail("websocket ping failed", err)
				return
			}

		case <-cw.doneChannel:
			return
		}
	}
}

// fail closes the connection so the reader notices and the viewer leaves its rooms.
func (cw *clientWriter) fail(message string, cause error) {
	err := apperrors.TransportError(message, cause).
		WithField("remote_addr", cw.connection.RemoteAddr().String())
	slog.Warn("Event delivery failed", "error", err)
	cw.metrics.DeliveriesDropped.WithLabelValues(metrics.DropWriteError).Inc()
	_ = cw.connection.Close()
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		// The run goroutine must exit before the close frame is written:
		// gorilla/websocket allows a single concurrent writer.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}
