package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/racecontrol/internal/domain"
)

const singleActiveIndex = "sessions_single_active_idx"

// CatalogRepo stores session records in the control database. Records are
// keyed by derived database name, so case variants of a name share one row.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SessionCatalog = (*CatalogRepo)(nil)

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

const sessionColumns = "name, status, started_at"

func scanSession(row pgx.Row) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var status string
	if err := row.Scan(&rec.Name, &status, &rec.StartedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.SessionStatus(status)
	return &rec, nil
}

// StartActive closes every record and inserts (or resets) the target as
// active with a fresh start time, in one transaction.
func (r *CatalogRepo) StartActive(ctx context.Context, name string, startedAt time.Time) (*domain.SessionRecord, error) {
	return r.activate(ctx, name, startedAt, `
		INSERT INTO sessions (name, database_name, status, started_at)
		VALUES ($1, $2, 'active', $3)
		ON CONFLICT (database_name) DO UPDATE
		SET name = EXCLUDED.name, status = 'active', started_at = EXCLUDED.started_at
		RETURNING `+sessionColumns)
}

// LoadActive closes every record and marks the target active, creating the
// record if only the physical database survived. An existing start time is kept.
func (r *CatalogRepo) LoadActive(ctx context.Context, name string, now time.Time) (*domain.SessionRecord, error) {
	return r.activate(ctx, name, now, `
		INSERT INTO sessions (name, database_name, status, started_at)
		VALUES ($1, $2, 'active', $3)
		ON CONFLICT (database_name) DO UPDATE
		SET status = 'active'
		RETURNING `+sessionColumns)
}

func (r *CatalogRepo) activate(ctx context.Context, name string, ts time.Time, upsert string) (*domain.SessionRecord, error) {
	dbName, err := domain.DatabaseName(name)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "UPDATE sessions SET status = 'closed' WHERE status = 'active'"); err != nil {
		return nil, fmt.Errorf("failed to close active sessions: %w", err)
	}

	rec, err := scanSession(tx.QueryRow(ctx, upsert, name, dbName, ts))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == singleActiveIndex {
			return nil, domain.ErrActivationConflict
		}
		return nil, fmt.Errorf("failed to activate session %q: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrActivationConflict
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

// MarkClosed is a no-op when no record exists.
func (r *CatalogRepo) MarkClosed(ctx context.Context, name string) error {
	dbName, err := domain.DatabaseName(name)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "UPDATE sessions SET status = 'closed' WHERE database_name = $1", dbName); err != nil {
		return fmt.Errorf("failed to close session %q: %w", name, err)
	}
	return nil
}

// Delete is a no-op when no record exists.
func (r *CatalogRepo) Delete(ctx context.Context, name string) error {
	dbName, err := domain.DatabaseName(name)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE database_name = $1", dbName); err != nil {
		return fmt.Errorf("failed to delete session %q: %w", name, err)
	}
	return nil
}

func (r *CatalogRepo) Get(ctx context.Context, name string) (*domain.SessionRecord, error) {
	dbName, err := domain.DatabaseName(name)
	if err != nil {
		return nil, err
	}

	rec, err := scanSession(r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE database_name = $1", dbName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q: %w", name, err)
	}
	return rec, nil
}

// GetActive returns domain.ErrSessionNotFound when no record is active.
func (r *CatalogRepo) GetActive(ctx context.Context) (*domain.SessionRecord, error) {
	rec, err := scanSession(r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE status = 'active'"))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return rec, nil
}

// List returns all records, most recently started first.
func (r *CatalogRepo) List(ctx context.Context) ([]domain.SessionRecord, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionRecord, error) {
		rec, err := scanSession(row)
		if err != nil {
			return domain.SessionRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return records, nil
}
