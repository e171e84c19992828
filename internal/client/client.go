// Package client is a viewer-side client for a taskstream server: it loads
// stream snapshots over HTTP and follows live events over the websocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/version"
	"github.com/gorilla/websocket"
)

const (
	httpCallTimeout  = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	joinTimeout      = 10 * time.Second
	maxErrorBody     = 4096
	wsPath           = "/ws"
)

var (
	// ErrClosed is returned by Watch when the server closes the connection normally.
	ErrClosed = errors.New("connection closed by server")
	// ErrJoinTimeout is returned by Watch when the server does not acknowledge
	// the join in time, for example because the stream does not exist.
	ErrJoinTimeout = errors.New("join not acknowledged")
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     *url.URL
	http        *http.Client
	dialer      *websocket.Dialer
	userAgent   string
	joinTimeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithJoinTimeout bounds how long Watch waits for the join acknowledgement.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) { c.joinTimeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:     u,
		http:        &http.Client{Timeout: httpCallTimeout},
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		userAgent:   version.UserAgent("taskstream-watch"),
		joinTimeout: joinTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Snapshot loads a stream and its tasks, newest first.
// An unknown stream yields domain.ErrStreamNotFound.
func (c *Client) Snapshot(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	endpoint := c.baseURL.JoinPath("api", "streams", streamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var snapshot domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Watch joins streamID's room and calls handle for every event until ctx is
// cancelled or the connection ends. Malformed events are logged and skipped.
// onJoined, if set, runs once the server has acknowledged the join and before
// any event is handled; an error from it ends the watch. Every event the
// server broadcasts after the acknowledgement is delivered to handle, so a
// snapshot loaded in onJoined misses nothing.
func (c *Client) Watch(ctx context.Context, streamID string, onJoined func() error, handle func(domain.Event)) error {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	conn, resp, err := c.dialer.DialContext(ctx, c.websocketURL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	})
	defer stop()

	join := map[string]string{"type": "join", "room": streamID}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	if err := c.awaitJoined(ctx, conn, streamID); err != nil {
		return err
	}
	if onJoined != nil {
		if err := onJoined(); err != nil {
			return err
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return readError(ctx, err)
		}
		if _, ok := domain.JoinedRoom(raw); ok {
			continue
		}

		event, err := domain.DecodeEvent(raw)
		if err != nil {
			slog.Warn("Skipping malformed event", "stream_id", streamID, "error", err)
			continue
		}
		handle(event)
	}
}

// awaitJoined reads until the server acknowledges the join of streamID.
// Frames for other rooms that arrive first are dropped.
func (c *Client) awaitJoined(ctx context.Context, conn *websocket.Conn, streamID string) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.joinTimeout)); err != nil {
		return fmt.Errorf("failed to set join deadline: %w", err)
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
				return fmt.Errorf("%w after %v", ErrJoinTimeout, c.joinTimeout)
			}
			return readError(ctx, err)
		}
		if room, ok := domain.JoinedRoom(raw); ok && room == streamID {
			return conn.SetReadDeadline(time.Time{})
		}
	}
}

func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrClosed
	}
	return fmt.Errorf("websocket read failed: %w", err)
}

func (c *Client) websocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.JoinPath(wsPath).String()
}
