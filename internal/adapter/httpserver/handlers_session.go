package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/racecontrol/internal/app"
	"github.com/pscheid92/racecontrol/internal/domain"
	apperrors "github.com/pscheid92/racecontrol/internal/platform/errors"
)

type statusResponse struct {
	Status string `json:"status"`
}

type startResponse struct {
	Status  string              `json:"status"`
	Session domain.EventSession `json:"session"`
}

type sessionListResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type sessionView struct {
	Name      string               `json:"name"`
	Status    domain.SessionStatus `json:"status"`
	StartedAt *time.Time           `json:"started_at"`
}

type activeResponse struct {
	Name     *string `json:"name"`
	Database *string `json:"database"`
}

func (s *Server) registerSessionRoutes(limiter echo.MiddlewareFunc) {
	g := s.echo.Group("/session")
	g.POST("/start", s.handleStartSession, limiter)
	g.POST("/load", s.handleLoadSession, limiter)
	g.POST("/close", s.handleCloseSession, limiter)
	g.DELETE("/delete", s.handleDeleteSession, limiter)
	g.GET("/", s.handleListSessions)
	g.GET("/active", s.handleActiveSession)
	g.GET("/export", s.handleExportSession, limiter)
}

func requireName(c echo.Context) (string, error) {
	name := c.QueryParam("name")
	if strings.TrimSpace(name) == "" {
		return "", apperrors.ValidationError("Query parameter 'name' is required", nil)
	}
	return name, nil
}

func (s *Server) handleStartSession(c echo.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	if _, err := s.sessions.Start(c.Request().Context(), name); err != nil {
		return sessionError(err, name, "Failed to start session")
	}

	resp := startResponse{Status: "Session started", Session: domain.EventSession{Name: name}}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLoadSession(c echo.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	if _, err := s.sessions.Load(c.Request().Context(), name); err != nil {
		return sessionError(err, name, "Failed to load session")
	}

	return s.writeStatus(c, fmt.Sprintf("Session '%s' loaded", name))
}

func (s *Server) handleCloseSession(c echo.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	if err := s.sessions.Close(c.Request().Context(), name); err != nil {
		return sessionError(err, name, "Failed to close session")
	}

	return s.writeStatus(c, fmt.Sprintf("Session '%s' closed", name))
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(c.Request().Context(), name); err != nil {
		return sessionError(err, name, "Failed to delete session")
	}

	return s.writeStatus(c, fmt.Sprintf("Session '%s' deleted successfully.", name))
}

func (s *Server) handleListSessions(c echo.Context) error {
	records, err := s.sessions.List(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("Failed to list sessions", err)
	}

	resp := sessionListResponse{Sessions: make([]sessionView, 0, len(records))}
	for _, r := range records {
		view := sessionView{Name: r.Name, Status: r.Status}
		if !r.StartedAt.IsZero() {
			startedAt := r.StartedAt
			view.StartedAt = &startedAt
		}
		resp.Sessions = append(resp.Sessions, view)
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleActiveSession reports the routed session; both fields are null while
// requests go to the control database.
func (s *Server) handleActiveSession(c echo.Context) error {
	var resp activeResponse
	if active := s.sessions.Active(); !active.IsControl() {
		resp.Name = &active.Name
		resp.Database = &active.Database
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleExportSession(c echo.Context) error {
	name, err := requireName(c)
	if err != nil {
		return err
	}

	format, err := app.ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return sessionError(err, name, "Failed to export session")
	}

	file, err := s.sessions.Export(c.Request().Context(), name, format)
	if err != nil {
		return sessionError(err, name, "Failed to export session")
	}

	c.Response().Header().Set(echo.HeaderContentType, file.ContentType)
	if err := c.Attachment(file.Path, file.Name); err != nil {
		return apperrors.InternalError("Exported file could not be served", err).WithContext("path", file.Path)
	}
	return nil
}

func (s *Server) writeStatus(c echo.Context, status string) error {
	if err := c.JSON(http.StatusOK, statusResponse{Status: status}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
