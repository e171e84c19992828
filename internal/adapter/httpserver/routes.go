package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/correlation"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const wsPath = "/ws"

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	if len(s.config.CORSOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, correlation.Header},
		}))
	}

	s.registerHealthRoutes()
	s.registerAPIRoutes()
	s.echo.GET(wsPath, s.handleWebSocket)

	if s.metricsPage != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsPage))
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	perMinute, burst := s.config.PublicRatePerMinute, s.config.PublicRateBurst

	api.GET("/config", s.handlePublicConfig)
	api.POST("/admin/login", s.handleLogin, s.newPublicRateLimiter("login", perMinute, burst))

	api.POST("/streams", s.handleCreateStream, s.requireAdmin)
	api.GET("/streams", s.handleListStreams, s.requireAdmin)
	api.GET("/streams/:id", s.handleGetStream)
	api.POST("/streams/:id/task", s.handleAddTask, s.newPublicRateLimiter("task", perMinute, burst))

	api.PUT("/tasks/:id/vote", s.handleVote, s.newPublicRateLimiter("vote", perMinute, burst))
	api.PATCH("/tasks/:id/status", s.handleSetStatus, s.requireAdmin)
	api.DELETE("/tasks/:id", s.handleDeleteTask, s.requireAdmin)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
