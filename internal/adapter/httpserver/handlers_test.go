package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/auth"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAdminToken = "valid-admin-token"
	testStreamID   = "2f6c1f0e-7d4b-4a55-9b61-0c1b8a9f3e21"
	testTaskID     = "9d1e0a55-3c7f-4f0b-8f57-5b8a4b2c6e10"
)

var testCreatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockAppService struct {
	createStreamFn func(ctx context.Context, name string) (*domain.Stream, error)
	listStreamsFn  func(ctx context.Context) ([]domain.Stream, error)
	getStreamFn    func(ctx context.Context, streamID string) (*domain.Snapshot, error)
	lookupStreamFn func(ctx context.Context, streamID string) (*domain.Stream, error)
	addTaskFn      func(ctx context.Context, streamID, userName, description string) (*domain.Task, error)
	voteFn         func(ctx context.Context, taskID string) (int64, error)
	setStatusFn    func(ctx context.Context, taskID string, status domain.Status) (*domain.Task, error)
	deleteTaskFn   func(ctx context.Context, taskID string) error
}

func (m *mockAppService) CreateStream(ctx context.Context, name string) (*domain.Stream, error) {
	if m.createStreamFn != nil {
		return m.createStreamFn(ctx, name)
	}
	return &domain.Stream{ID: testStreamID, Name: name, CreatedAt: testCreatedAt}, nil
}

func (m *mockAppService) ListStreams(ctx context.Context) ([]domain.Stream, error) {
	if m.listStreamsFn != nil {
		return m.listStreamsFn(ctx)
	}
	return nil, nil
}

func (m *mockAppService) GetStream(ctx context.Context, streamID string) (*domain.Snapshot, error) {
	if m.getStreamFn != nil {
		return m.getStreamFn(ctx, streamID)
	}
	return &domain.Snapshot{Stream: domain.Stream{ID: streamID}}, nil
}

func (m *mockAppService) LookupStream(ctx context.Context, streamID string) (*domain.Stream, error) {
	if m.lookupStreamFn != nil {
		return m.lookupStreamFn(ctx, streamID)
	}
	return &domain.Stream{ID: streamID}, nil
}

func (m *mockAppService) AddTask(ctx context.Context, streamID, userName, description string) (*domain.Task, error) {
	if m.addTaskFn != nil {
		return m.addTaskFn(ctx, streamID, userName, description)
	}
	return &domain.Task{
		ID:          testTaskID,
		StreamID:    streamID,
		UserName:    userName,
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   testCreatedAt,
	}, nil
}

func (m *mockAppService) Vote(ctx context.Context, taskID string) (int64, error) {
	if m.voteFn != nil {
		return m.voteFn(ctx, taskID)
	}
	return 1, nil
}

func (m *mockAppService) SetStatus(ctx context.Context, taskID string, status domain.Status) (*domain.Task, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, taskID, status)
	}
	return &domain.Task{ID: taskID, Status: status}, nil
}

func (m *mockAppService) DeleteTask(ctx context.Context, taskID string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, taskID)
	}
	return nil
}

type mockTokenService struct {
	loginFn  func(username, password string) (*auth.Token, error)
	verifyFn func(token string) (*auth.Claims, error)
}

func (m *mockTokenService) Login(username, password string) (*auth.Token, error) {
	if m.loginFn != nil {
		return m.loginFn(username, password)
	}
	return nil, auth.ErrInvalidCredentials
}

func (m *mockTokenService) Verify(token string) (*auth.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	if token == testAdminToken {
		return &auth.Claims{Subject: "admin"}, nil
	}
	return nil, auth.ErrInvalidToken
}

type mockRooms struct {
	joinFn  func(conn *websocket.Conn, streamID string) error
	leaveFn func(conn *websocket.Conn)
}

func (m *mockRooms) Join(conn *websocket.Conn, streamID string) error {
	if m.joinFn != nil {
		return m.joinFn(conn, streamID)
	}
	return nil
}

func (m *mockRooms) Leave(conn *websocket.Conn) {
	if m.leaveFn != nil {
		m.leaveFn(conn)
	}
}

// --- Helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		PublicURL:               "http://taskstream.example.com",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		MaxRoomsPerConnection:   8,
		PublicRatePerMinute:     600,
		PublicRateBurst:         100,
	}
}

type testServerOptions struct {
	cfg    *config.Config
	tokens tokenService
	rooms  roomRegistry
	opts   []Option
}

type testServerOption func(*testServerOptions)

func withConfig(cfg *config.Config) testServerOption {
	return func(o *testServerOptions) { o.cfg = cfg }
}

func withTokens(tokens tokenService) testServerOption {
	return func(o *testServerOptions) { o.tokens = tokens }
}

func withRooms(rooms roomRegistry) testServerOption {
	return func(o *testServerOptions) { o.rooms = rooms }
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(o *testServerOptions) { o.opts = append(o.opts, WithHealthChecks(checks...)) }
}

func withServerOption(opt Option) testServerOption {
	return func(o *testServerOptions) { o.opts = append(o.opts, opt) }
}

func newTestServer(t *testing.T, app appService, opts ...testServerOption) *Server {
	t.Helper()

	o := &testServerOptions{
		cfg:    testConfig(),
		tokens: &mockTokenService{},
		rooms:  &mockRooms{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return NewServer(o.cfg, app, o.tokens, o.rooms, o.opts...)
}

// doRequest runs a request through the full middleware stack.
func doRequest(t *testing.T, srv *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func adminHeader() []string {
	return []string{"Authorization", "Bearer " + testAdminToken}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
