package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
	"github.com/pscheid92/racecontrol/internal/domain"
)

// Deps are the collaborators of Service. Metrics may be nil.
type Deps struct {
	Catalog     domain.SessionCatalog
	Provisioner domain.DatabaseProvisioner
	Router      domain.SessionRouter
	Announcer   domain.Announcer
	Records     domain.RecordReader
	Clock       clockwork.Clock
	Metrics     *metrics.SessionMetrics
	ExportDir   string
}

type Service struct {
	catalog     domain.SessionCatalog
	provisioner domain.DatabaseProvisioner
	router      domain.SessionRouter
	announcer   domain.Announcer
	records     domain.RecordReader
	clock       clockwork.Clock
	metrics     *metrics.SessionMetrics
	exportDir   string
}

func NewService(d Deps) *Service {
	return &Service{
		catalog:     d.Catalog,
		provisioner: d.Provisioner,
		router:      d.Router,
		announcer:   d.Announcer,
		records:     d.Records,
		clock:       d.Clock,
		metrics:     d.Metrics,
		exportDir:   d.ExportDir,
	}
}

// Start provisions a new session database, makes it the only active record,
// routes to it and announces session_started.
func (s *Service) Start(ctx context.Context, name string) (rec *domain.SessionRecord, err error) {
	defer func() { s.metrics.ObserveLifecycle("start", err) }()

	dbName, err := domain.DatabaseName(name)
	if err != nil {
		return nil, err
	}
	log := slog.With("session", name, "database", dbName)

	if err := s.provisioner.Create(ctx, name); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	rec, err = s.catalog.StartActive(ctx, name, s.clock.Now().UTC())
	if err != nil {
		log.WarnContext(ctx, "session database provisioned but catalog update failed; database left behind", "error", err)
		return nil, fmt.Errorf("start session: %w", err)
	}

	if err := s.router.SwitchTo(ctx, name); err != nil {
		log.WarnContext(ctx, "session recorded as active but router switch failed", "error", err)
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.announcer.Announce(domain.NewEvent(domain.EventSessionStarted, name))
	log.InfoContext(ctx, "session started")
	return rec, nil
}

// Load routes to an existing session database and marks it the only active
// record, creating the record if only the database survived.
func (s *Service) Load(ctx context.Context, name string) (rec *domain.SessionRecord, err error) {
	defer func() { s.metrics.ObserveLifecycle("load", err) }()

	if err := s.router.SwitchTo(ctx, name); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	rec, err = s.catalog.LoadActive(ctx, name, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	s.announcer.Announce(domain.NewEvent(domain.EventSessionLoaded, name))
	slog.InfoContext(ctx, "session loaded", "session", name)
	return rec, nil
}

// Close marks the session closed. The router keeps its target, so the
// database stays readable.
func (s *Service) Close(ctx context.Context, name string) (err error) {
	defer func() { s.metrics.ObserveLifecycle("close", err) }()

	if err := s.catalog.MarkClosed(ctx, name); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	s.announcer.Announce(domain.NewEvent(domain.EventSessionClosed, name))
	slog.InfoContext(ctx, "session closed", "session", name)
	return nil
}

// Delete drops the session database and its record. The router keeps
// targeting the deleted session; its pool is only invalidated so a later
// start under the same name connects afresh.
func (s *Service) Delete(ctx context.Context, name string) (err error) {
	defer func() { s.metrics.ObserveLifecycle("delete", err) }()

	if err := s.provisioner.Drop(ctx, name); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if err := s.catalog.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if s.router.Current().Name == name {
		s.router.Invalidate(name)
		slog.WarnContext(ctx, "deleted the routed session; requests fail until another session is started or loaded", "session", name)
	}

	s.announcer.Announce(domain.NewEvent(domain.EventSessionDeleted, name))
	slog.InfoContext(ctx, "session deleted", "session", name)
	return nil
}

// List returns every catalog record, most recently started first.
func (s *Service) List(ctx context.Context) ([]domain.SessionRecord, error) {
	records, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// Active reports the session the router currently targets.
func (s *Service) Active() domain.ActiveSession {
	return s.router.Current()
}

// Restore routes to the session the catalog marks active. Failures are
// logged and leave the router on the control database.
func (s *Service) Restore(ctx context.Context) {
	rec, err := s.catalog.GetActive(ctx)
	if errors.Is(err, domain.ErrSessionNotFound) {
		slog.InfoContext(ctx, "no active session to restore")
		return
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to read active session", "error", err)
		return
	}

	if err := s.router.SwitchTo(ctx, rec.Name); err != nil {
		slog.WarnContext(ctx, "failed to restore active session", "session", rec.Name, "error", err)
		return
	}
	slog.InfoContext(ctx, "restored active session", "session", rec.Name)
}
