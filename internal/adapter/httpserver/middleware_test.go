package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/memory"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/app"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/auth"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/correlation"
	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broadcasterFunc func(streamID string, event domain.Event) error

func (f broadcasterFunc) Broadcast(streamID string, event domain.Event) error {
	return f(streamID, event)
}

// newGatewayServer serves a real gateway over an in-memory store, so handlers
// see the errors the gateway actually produces.
func newGatewayServer(t *testing.T, broadcaster app.EventBroadcaster) (*Server, *app.Service) {
	t.Helper()
	if broadcaster == nil {
		broadcaster = broadcasterFunc(func(string, domain.Event) error { return nil })
	}
	clock := clockwork.NewFakeClockAt(testCreatedAt)
	svc := app.NewService(memory.NewStore(), broadcaster, clock,
		metrics.NewMutationMetrics(prometheus.NewRegistry()))
	return newTestServer(t, svc), svc
}

func seedTask(t *testing.T, svc *app.Service) *domain.Task {
	t.Helper()
	ctx := context.Background()
	stream, err := svc.CreateStream(ctx, "Sprint Planning")
	require.NoError(t, err)
	task, err := svc.AddTask(ctx, stream.ID, "Alice", "Fix login bug")
	require.NoError(t, err)
	return task
}

func TestErrorHandling_UnknownTaskReportsTaskID(t *testing.T) {
	srv, _ := newGatewayServer(t, nil)

	rec := doRequest(t, srv, http.MethodPut, "/api/tasks/"+testTaskID+"/vote", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
	assert.Equal(t, "task not found", resp.Error)
	assert.Equal(t, testTaskID, resp.Context["task_id"])
}

func TestErrorHandling_PendingStatusReportsStatus(t *testing.T) {
	srv, svc := newGatewayServer(t, nil)
	task := seedTask(t, svc)

	rec := doRequest(t, srv, http.MethodPatch, "/api/tasks/"+task.ID+"/status",
		map[string]string{"status": "pending"}, adminHeader()...)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
	assert.Equal(t, "pending", resp.Context["status"])
}

func TestErrorHandling_BroadcastFailureIsNotSurfaced(t *testing.T) {
	srv, svc := newGatewayServer(t, broadcasterFunc(func(string, domain.Event) error {
		return errors.New("broadcaster stopped")
	}))
	task := seedTask(t, svc)

	rec := doRequest(t, srv, http.MethodPut, "/api/tasks/"+task.ID+"/vote", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"votes":1}`, rec.Body.String())
}

func TestErrorHandling_StoreFailureHidesCause(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		voteFn: func(context.Context, string) (int64, error) {
			return 0, apperrors.InternalError("failed to record vote", errors.New("connection reset by peer"))
		},
	})

	rec := doRequest(t, srv, http.MethodPut, "/api/tasks/"+testTaskID+"/vote", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
	assert.Equal(t, "failed to record vote", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestErrorHandling_UnstructuredErrorIsInternal(t *testing.T) {
	srv := newTestServer(t, &mockAppService{
		deleteTaskFn: func(context.Context, string) error { return errors.New("disk full") },
	})

	rec := doRequest(t, srv, http.MethodDelete, "/api/tasks/"+testTaskID, nil, adminHeader()...)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestErrorHandling_ConnectionLimitReportsReason(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	srv := newTestServer(t, &mockAppService{}, withConfig(cfg))

	// httptest requests come from 192.0.2.1.
	ok, _ := srv.wsLimits.acquire("192.0.2.1")
	require.True(t, ok)

	rec := doRequest(t, srv, http.MethodGet, wsPath, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, string(reasonPerIP), resp.Context["reason"])
}

func TestErrorHandling_UnmatchedRouteIsStructured(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(t, srv, http.MethodGet, "/api/boards", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
}

func TestErrorHandling_MethodNotAllowedKeepsStatus(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(t, srv, http.MethodDelete, "/api/config", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{"bad request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), apperrors.TypeValidation, http.StatusBadRequest},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "origin not allowed"), apperrors.TypeAuth, http.StatusUnauthorized},
		{"not found", echo.ErrNotFound, apperrors.TypeNotFound, http.StatusNotFound},
		{"too many requests", echo.ErrTooManyRequests, apperrors.TypeRateLimited, http.StatusTooManyRequests},
		{"service unavailable", echo.ErrServiceUnavailable, apperrors.TypeExternal, http.StatusBadGateway},
		{"teapot", echo.NewHTTPError(http.StatusTeapot), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPError_KeepsInternalCause(t *testing.T) {
	httpErr := echo.NewHTTPError(http.StatusBadRequest, "malformed").SetInternal(domain.ErrInvalidStatus)

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "malformed", err.Message)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestCorrelationMiddleware_GeneratesID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		id, ok := correlation.ID(c.Request().Context())
		require.True(t, ok)
		seen = id
		return nil
	})

	require.NoError(t, handler(c))
	assert.Len(t, seen, 8)
	assert.Equal(t, seen, rec.Header().Get(correlation.Header))
}

func TestCorrelationMiddleware_AcceptsInboundID(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(t, srv, http.MethodGet, "/api/config", nil, correlation.Header, "upstream-42")

	assert.Equal(t, "upstream-42", rec.Header().Get(correlation.Header))
}

func TestCorrelationMiddleware_ReplacesMalformedID(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(t, srv, http.MethodGet, "/api/config", nil, correlation.Header, "bad id with spaces")

	got := rec.Header().Get(correlation.Header)
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "bad id with spaces", got)
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAdminToken, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer forged", http.StatusUnauthorized},
		{"valid token", "Bearer " + testAdminToken, http.StatusOK},
		{"lowercase scheme", "bearer " + testAdminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockAppService{})
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := ErrorHandlingMiddleware()(srv.requireAdmin(func(c echo.Context) error {
				assert.Equal(t, "admin", c.Get(adminContextKey))
				return c.NoContent(http.StatusOK)
			}))

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequireAdmin_ExpiredToken(t *testing.T) {
	tokens := &mockTokenService{
		verifyFn: func(string) (*auth.Claims, error) { return nil, auth.ErrExpiredToken },
	}
	srv := newTestServer(t, &mockAppService{}, withTokens(tokens))

	rec := doRequest(t, srv, http.MethodGet, "/api/streams", nil, adminHeader()...)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeBody[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeAuth, resp.Type)
	assert.Equal(t, "invalid or expired token", resp.Error)
}

func TestRequireAdmin_RealTokenRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testCreatedAt)
	tokens, err := auth.NewTokenService("0123456789abcdef0123456789abcdef", "admin", "secret", time.Hour, clock)
	require.NoError(t, err)
	srv := newTestServer(t, &mockAppService{}, withTokens(tokens))

	token, err := tokens.Login("admin", "secret")
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/streams", nil, echo.HeaderAuthorization, "Bearer "+token.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	clock.Advance(2 * time.Hour)
	rec = doRequest(t, srv, http.MethodGet, "/api/streams", nil, echo.HeaderAuthorization, "Bearer "+token.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
