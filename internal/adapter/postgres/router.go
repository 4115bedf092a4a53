package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
	"github.com/pscheid92/racecontrol/internal/domain"
)

var ErrRouterClosed = errors.New("router closed")

// Handle is one routable database target. Name is empty for the control database.
type Handle struct {
	Name         string
	DatabaseName string
	Pool         *pgxpool.Pool

	// stale is set once the database behind Pool has been dropped.
	stale bool
}

func (h Handle) IsControl() bool {
	return h.Name == ""
}

// Router owns the active database target. Readers load the current Handle
// without locking; switches build a new pool first and then swap the pointer,
// so a concurrent Resolve sees either the old or the new Handle in full.
//
// A replaced session pool is retired: it stays open for the retire grace so
// requests that resolved it before the swap finish against it, then closes.
// The control pool is never retired or closed by the router.
type Router struct {
	control       *pgxpool.Pool
	controlHandle *Handle
	base          *pgxpool.Config
	clock         clockwork.Clock
	grace         time.Duration
	metrics       *metrics.SessionMetrics

	current atomic.Pointer[Handle]
	group   singleflight.Group

	mu       sync.Mutex
	retiring map[*pgxpool.Pool]clockwork.Timer
	closed   bool
}

var _ domain.SessionRouter = (*Router)(nil)

func NewRouter(control *pgxpool.Pool, clock clockwork.Clock, retireGrace time.Duration, m *metrics.SessionMetrics) *Router {
	base := control.Config()
	r := &Router{
		control:       control,
		controlHandle: &Handle{DatabaseName: base.ConnConfig.Database, Pool: control},
		base:          base,
		clock:         clock,
		grace:         retireGrace,
		metrics:       m,
		retiring:      make(map[*pgxpool.Pool]clockwork.Timer),
	}
	r.current.Store(r.controlHandle)
	return r
}

// Resolve returns the current target. The returned pool stays usable for at
// least the retire grace after a later switch; do not hold it longer.
func (r *Router) Resolve() Handle {
	return *r.current.Load()
}

func (r *Router) Current() domain.ActiveSession {
	h := r.current.Load()
	return domain.ActiveSession{Name: h.Name, Database: h.DatabaseName}
}

// SwitchTo points the router at the session's database. It fails with
// domain.ErrSessionNotFound, leaving the current target untouched, when the
// database does not exist. Concurrent switches to the same database share
// one attempt.
func (r *Router) SwitchTo(ctx context.Context, session string) error {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return err
	}

	_, err, _ = r.group.Do(dbName, func() (any, error) {
		return nil, r.switchTo(ctx, session, dbName)
	})
	return err
}

func (r *Router) switchTo(ctx context.Context, session, dbName string) (err error) {
	defer func() { r.metrics.ObserveSwitch(err) }()

	exists, err := databaseExists(ctx, r.control, dbName)
	if err != nil {
		return &domain.OpError{Op: domain.OpSwitch, Session: session, Err: err}
	}
	if !exists {
		return fmt.Errorf("database %s: %w", dbName, domain.ErrSessionNotFound)
	}

	if r.retarget(session, dbName) {
		return nil
	}

	pool, err := r.openPool(ctx, dbName)
	if err != nil {
		return &domain.OpError{Op: domain.OpSwitch, Session: session, Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pool.Close()
		return ErrRouterClosed
	}
	prev := r.current.Swap(&Handle{Name: session, DatabaseName: dbName, Pool: pool})
	r.retireLocked(prev)
	r.metrics.SetActive(session)
	r.mu.Unlock()

	slog.InfoContext(ctx, "router switched", "session", session, "database", dbName)
	return nil
}

// retarget keeps the current pool when it already serves dbName and only
// refreshes the session name.
func (r *Router) retarget(session, dbName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if cur.IsControl() || cur.stale || cur.DatabaseName != dbName {
		return false
	}
	r.current.Store(&Handle{Name: session, DatabaseName: dbName, Pool: cur.Pool})
	r.metrics.SetActive(session)
	return true
}

// Invalidate marks the routed pool as serving a dropped database when it
// targets session. The router keeps the target, but the next switch to the
// same name opens a fresh pool and retires the old one.
func (r *Router) Invalidate(session string) {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if cur.IsControl() || cur.stale || cur.DatabaseName != dbName {
		return
	}
	next := *cur
	next.stale = true
	r.current.Store(&next)
}

// ResetToControl points the router back at the control database.
func (r *Router) ResetToControl() {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Swap(r.controlHandle)
	r.retireLocked(prev)
	r.metrics.SetActive("")
}

func (r *Router) retireLocked(prev *Handle) {
	if prev == nil || prev.Pool == r.control {
		return
	}
	pool := prev.Pool

	if r.grace <= 0 {
		go pool.Close()
		return
	}

	r.retiring[pool] = r.clock.AfterFunc(r.grace, func() {
		r.mu.Lock()
		_, pending := r.retiring[pool]
		delete(r.retiring, pool)
		r.mu.Unlock()

		if pending {
			pool.Close()
			slog.Debug("retired session pool closed", "database", prev.DatabaseName)
		}
	})
}

// Retiring reports how many replaced pools are still waiting to close.
func (r *Router) Retiring() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retiring)
}

// OpenSession opens a short-lived pool on a session database without
// touching the routed target. The caller closes it.
func (r *Router) OpenSession(ctx context.Context, session string) (*pgxpool.Pool, error) {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return nil, err
	}

	exists, err := databaseExists(ctx, r.control, dbName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("database %s: %w", dbName, domain.ErrSessionNotFound)
	}
	return r.openPool(ctx, dbName)
}

func (r *Router) openPool(ctx context.Context, dbName string) (*pgxpool.Pool, error) {
	cfg := r.base.Copy()
	cfg.ConnConfig.Database = dbName
	return openPool(ctx, cfg)
}

// Close closes the routed session pool and every retiring pool and points
// the router at the control database. Later switches fail with ErrRouterClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	pools := make([]*pgxpool.Pool, 0, len(r.retiring)+1)
	for pool, timer := range r.retiring {
		timer.Stop()
		pools = append(pools, pool)
	}
	clear(r.retiring)

	if prev := r.current.Swap(r.controlHandle); prev.Pool != r.control {
		pools = append(pools, prev.Pool)
	}
	r.mu.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
}
