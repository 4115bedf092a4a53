package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/racecontrol/internal/app"
	"github.com/pscheid92/racecontrol/internal/domain"
	"github.com/pscheid92/racecontrol/internal/platform/config"
)

// --- Mock implementations ---

type mockSessionService struct {
	startFn  func(ctx context.Context, name string) (*domain.SessionRecord, error)
	loadFn   func(ctx context.Context, name string) (*domain.SessionRecord, error)
	closeFn  func(ctx context.Context, name string) error
	deleteFn func(ctx context.Context, name string) error
	listFn   func(ctx context.Context) ([]domain.SessionRecord, error)
	exportFn func(ctx context.Context, name string, format app.ExportFormat) (app.ExportFile, error)
	active   domain.ActiveSession
}

func (m *mockSessionService) Start(ctx context.Context, name string) (*domain.SessionRecord, error) {
	if m.startFn != nil {
		return m.startFn(ctx, name)
	}
	return &domain.SessionRecord{Name: name, Status: domain.SessionActive}, nil
}

func (m *mockSessionService) Load(ctx context.Context, name string) (*domain.SessionRecord, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, name)
	}
	return &domain.SessionRecord{Name: name, Status: domain.SessionActive}, nil
}

func (m *mockSessionService) Close(ctx context.Context, name string) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, name)
	}
	return nil
}

func (m *mockSessionService) Delete(ctx context.Context, name string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, name)
	}
	return nil
}

func (m *mockSessionService) List(ctx context.Context) ([]domain.SessionRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockSessionService) Active() domain.ActiveSession {
	return m.active
}

func (m *mockSessionService) Export(ctx context.Context, name string, format app.ExportFormat) (app.ExportFile, error) {
	if m.exportFn != nil {
		return m.exportFn(ctx, name, format)
	}
	return app.ExportFile{}, domain.ErrSessionNotFound
}

type fixedCounter int

func (f fixedCounter) Count() int { return int(f) }

// --- Test helpers ---

type serverOption func(*Deps)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(d *Deps) { d.HealthChecks = checks }
}

func withSubscribers(n int) serverOption {
	return func(d *Deps) { d.Subscribers = fixedCounter(n) }
}

func withClock(clock clockwork.Clock) serverOption {
	return func(d *Deps) { d.Clock = clock }
}

func withConfig(mutate func(*config.Config)) serverOption {
	return func(d *Deps) { mutate(d.Config) }
}

func newTestServer(t *testing.T, sessions sessionService, opts ...serverOption) *Server {
	t.Helper()
	d := Deps{
		Config: &config.Config{
			AppEnv:       "test",
			Port:         "0",
			CORSOrigins:  "*",
			APIRateLimit: 1000,
			APIRateBurst: 1000,
		},
		Sessions: sessions,
	}
	for _, opt := range opts {
		opt(&d)
	}
	srv := NewServer(d)
	require.NotNil(t, srv)
	return srv
}

func newRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:4000"
	return req
}

// serveRequest sends req through the full echo stack, middleware included.
func serveRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	return serveRequest(srv, newRequest(method, target))
}

var testStartedAt = time.Date(2026, 5, 17, 9, 0, 0, 0, time.UTC)
