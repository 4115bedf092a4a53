package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
	"github.com/pscheid92/racecontrol/internal/app"
	"github.com/pscheid92/racecontrol/internal/domain"
	"github.com/pscheid92/racecontrol/internal/platform/config"
)

type sessionService interface {
	Start(ctx context.Context, name string) (*domain.SessionRecord, error)
	Load(ctx context.Context, name string) (*domain.SessionRecord, error)
	Close(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]domain.SessionRecord, error)
	Active() domain.ActiveSession
	Export(ctx context.Context, name string, format app.ExportFormat) (app.ExportFile, error)
}

type subscriberCounter interface {
	Count() int
}

// Deps are the collaborators of Server. HTTPMetrics and MetricsHandler may be
// nil, in which case no request metrics are recorded and /metrics is absent.
type Deps struct {
	Config         *config.Config
	Sessions       sessionService
	Subscribers    subscriberCounter
	WebSocket      echo.HandlerFunc
	HealthChecks   []HealthCheck
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	sessions    sessionService
	subscribers subscriberCounter
	websocket   echo.HandlerFunc

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         d.Config,
		sessions:       d.Sessions,
		subscribers:    d.Subscribers,
		websocket:      d.WebSocket,
		httpMetrics:    d.HTTPMetrics,
		metricsHandler: d.MetricsHandler,
		healthChecks:   d.HealthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
