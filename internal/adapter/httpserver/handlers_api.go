package httpserver

import (
	"fmt"
	"net/http"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	apperrors "github.com/LAAOUAFIFATIHA/taskstream/internal/platform/errors"
	"github.com/LAAOUAFIFATIHA/taskstream/internal/platform/version"
	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createStreamRequest struct {
	Name string `json:"name"`
}

type addTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type voteResponse struct {
	Votes int64 `json:"votes"`
}

type publicConfigResponse struct {
	PublicURL string `json:"public_url"`
	WSPath    string `json:"ws_path"`
	Version   string `json:"version"`
}

func bindJSON(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperrors.ValidationError("malformed request body").WithCause(err)
	}
	return nil
}

func respond(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return apperrors.ValidationError("username and password are required")
	}

	token, err := s.tokens.Login(req.Username, req.Password)
	if err != nil {
		return apperrors.AuthError("invalid credentials").WithCause(err)
	}
	return respond(c, http.StatusOK, token)
}

func (s *Server) handleCreateStream(c echo.Context) error {
	var req createStreamRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	stream, err := s.app.CreateStream(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, stream)
}

func (s *Server) handleListStreams(c echo.Context) error {
	streams, err := s.app.ListStreams(c.Request().Context())
	if err != nil {
		return err
	}
	if streams == nil {
		streams = []domain.Stream{}
	}
	return respond(c, http.StatusOK, streams)
}

func (s *Server) handleGetStream(c echo.Context) error {
	snapshot, err := s.app.GetStream(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if snapshot.Tasks == nil {
		snapshot.Tasks = []domain.Task{}
	}
	return respond(c, http.StatusOK, snapshot)
}

func (s *Server) handleAddTask(c echo.Context) error {
	var req addTaskRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	task, err := s.app.AddTask(c.Request().Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, task)
}

func (s *Server) handleVote(c echo.Context) error {
	votes, err := s.app.Vote(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, voteResponse{Votes: votes})
}

func (s *Server) handleSetStatus(c echo.Context) error {
	var req setStatusRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	status, err := domain.ParseSettableStatus(req.Status)
	if err != nil {
		return apperrors.ValidationError("status must be accepted or refused").
			WithField("status", req.Status).
			WithCause(err)
	}

	task, err := s.app.SetStatus(c.Request().Context(), c.Param("id"), status)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c echo.Context) error {
	if err := s.app.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePublicConfig(c echo.Context) error {
	return respond(c, http.StatusOK, publicConfigResponse{
		PublicURL: s.config.PublicURL,
		WSPath:    wsPath,
		Version:   version.Get().Version,
	})
}
