package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/memory"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/app"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/version"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableStore is a store whose backend cannot be reached.
type unreachableStore struct {
	domain.Store
	err error
}

func (s unreachableStore) Ping(context.Context) error { return s.err }

// storeCheck wires the gateway's Ping the way the server binary does.
func storeCheck(store domain.Store) HealthCheck {
	svc := app.NewService(store, broadcasterFunc(func(string, domain.Event) error { return nil }),
		clockwork.NewRealClock(), metrics.NewMutationMetrics(prometheus.NewRegistry()))
	return HealthCheck{Name: "store", Check: svc.Ping}
}

func redisCheck(err error) HealthCheck {
	return HealthCheck{Name: "redis", Check: func(context.Context) error { return err }}
}

func TestHealth_AlwaysUp(t *testing.T) {
	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(storeCheck(unreachableStore{err: errors.New("dial tcp: connection refused")})),
	)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"up"}`, rec.Body.String())
}

func TestHealth_ReadyWithLiveStore(t *testing.T) {
	srv := newTestServer(t, &mockAppService{},
		withHealthChecks(storeCheck(memory.NewStore()), redisCheck(nil)),
	)

	for _, path := range []string{"/health/ready", "/health/startup"} {
		rec := doRequest(t, srv, http.MethodGet, path, nil)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String(), path)
	}
}

func TestHealth_UnreachableDependency(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantFailed string
		wantError  string
	}{
		{
			name:       "store down",
			checks:     []HealthCheck{storeCheck(unreachableStore{err: errors.New("database unreachable")}), redisCheck(nil)},
			wantFailed: "store",
			wantError:  "database unreachable",
		},
		{
			name:       "redis down",
			checks:     []HealthCheck{storeCheck(memory.NewStore()), redisCheck(errors.New("circuit breaker open"))},
			wantFailed: "redis",
			wantError:  "circuit breaker open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockAppService{}, withHealthChecks(tt.checks...))

			for _, path := range []string{"/health/ready", "/health/startup"} {
				rec := doRequest(t, srv, http.MethodGet, path, nil)

				assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
				body := decodeBody[map[string]string](t, rec)
				assert.Equal(t, "unhealthy", body["status"])
				assert.Equal(t, tt.wantFailed, body["failed_check"])
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestHealth_ReadyWithoutRedis(t *testing.T) {
	srv := newTestServer(t, &mockAppService{}, withHealthChecks(storeCheck(memory.NewStore())))

	rec := doRequest(t, srv, http.MethodGet, "/health/ready", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_LivenessReportsUptime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testCreatedAt)
	srv := newTestServer(t, &mockAppService{}, withServerOption(WithClock(clock)))
	clock.Advance(90 * time.Second)

	rec := doRequest(t, srv, http.MethodGet, "/health/live", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 90.0, body["uptime"], 0.001)
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(t, srv, http.MethodGet, "/version", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[version.Info](t, rec)
	assert.Equal(t, version.Get(), body)
}
