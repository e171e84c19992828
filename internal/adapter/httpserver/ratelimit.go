package httpserver

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	rateLimiterExpiry  = 5 * time.Minute
	sharedLimitTimeout = 500 * time.Millisecond
)

// fallbackStore consults the shared bucket first and limits locally while the
// shared bucket is unreachable.
type fallbackStore struct {
	scope  string
	shared RateLimitStore
	local  middleware.RateLimiterStore
}

func (s *fallbackStore) Allow(identifier string) (bool, error) {
	if s.shared == nil {
		return s.local.Allow(identifier)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sharedLimitTimeout)
	defer cancel()

	allowed, err := s.shared.Allow(ctx, s.scope+":"+identifier)
	if err != nil {
		slog.Warn("Shared rate limit unavailable, limiting locally", "scope", s.scope, "error", err)
		return s.local.Allow(identifier)
	}
	return allowed, nil
}

func newMemoryStore(perMinute, burst int) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
}

// newPublicRateLimiter limits unauthenticated endpoints per client IP.
// Each scope has its own bucket.
func (s *Server) newPublicRateLimiter(scope string, perMinute, burst int) echo.MiddlewareFunc {
	return newRateLimiter(scope, s.rateStore, perMinute, burst)
}

func newRateLimiter(scope string, shared RateLimitStore, perMinute, burst int) echo.MiddlewareFunc {
	store := &fallbackStore{
		scope:  scope,
		shared: shared,
		local:  newMemoryStore(perMinute, burst),
	}
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(perMinute))))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return apperrors.RateLimitedError("rate limit exceeded").WithField("scope", scope)
		},
	})
}
