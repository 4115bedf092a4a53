package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/racecontrol/internal/domain"
)

//go:embed schema/session.sql
var sessionSchema string

// Provisioner creates and drops per-session databases on the control
// database's server. DDL runs on a single acquired control connection.
type Provisioner struct {
	control *pgxpool.Pool
}

var _ domain.DatabaseProvisioner = (*Provisioner)(nil)

func NewProvisioner(control *pgxpool.Pool) *Provisioner {
	return &Provisioner{control: control}
}

// Exists reports whether the session's database is present in pg_database.
func (p *Provisioner) Exists(ctx context.Context, session string) (bool, error) {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return false, err
	}
	return databaseExists(ctx, p.control, dbName)
}

// Create provisions the session database and its schema. An existing
// database is an error, never silently reused.
func (p *Provisioner) Create(ctx context.Context, session string) error {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return err
	}

	conn, err := p.control.Acquire(ctx)
	if err != nil {
		return &domain.OpError{Op: domain.OpProvision, Session: session, Err: fmt.Errorf("acquire control connection: %w", err)}
	}
	defer conn.Release()

	exists, err := databaseExists(ctx, conn, dbName)
	if err != nil {
		return &domain.OpError{Op: domain.OpProvision, Session: session, Err: err}
	}
	if exists {
		return fmt.Errorf("database %s: %w", dbName, domain.ErrSessionExists)
	}

	// A single statement without arguments runs outside any explicit
	// transaction, which CREATE DATABASE requires.
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
			return fmt.Errorf("database %s: %w", dbName, domain.ErrSessionExists)
		}
		return &domain.OpError{Op: domain.OpProvision, Session: session, Err: fmt.Errorf("create database %s: %w", dbName, err)}
	}
	slog.InfoContext(ctx, "session database created", "session", session, "database", dbName)

	if err := p.initSchema(ctx, dbName); err != nil {
		return &domain.OpError{Op: domain.OpProvision, Session: session, Err: err}
	}
	return nil
}

func (p *Provisioner) initSchema(ctx context.Context, dbName string) error {
	cfg := p.control.Config().ConnConfig.Copy()
	cfg.Database = dbName

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dbName, err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, sessionSchema); err != nil {
		return fmt.Errorf("initialize schema in %s: %w", dbName, err)
	}
	return nil
}

// Drop terminates every other backend connected to the session database and
// drops it. Writes in flight on those backends are lost.
func (p *Provisioner) Drop(ctx context.Context, session string) error {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return err
	}

	conn, err := p.control.Acquire(ctx)
	if err != nil {
		return &domain.OpError{Op: domain.OpDrop, Session: session, Err: fmt.Errorf("acquire control connection: %w", err)}
	}
	defer conn.Release()

	exists, err := databaseExists(ctx, conn, dbName)
	if err != nil {
		return &domain.OpError{Op: domain.OpDrop, Session: session, Err: err}
	}
	if !exists {
		return fmt.Errorf("database %s: %w", dbName, domain.ErrSessionNotFound)
	}

	tag, err := conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, dbName)
	if err != nil {
		return &domain.OpError{Op: domain.OpDrop, Session: session, Err: fmt.Errorf("terminate backends of %s: %w", dbName, err)}
	}
	slog.DebugContext(ctx, "terminated session backends", "database", dbName, "count", tag.RowsAffected())

	if _, err := conn.Exec(ctx, "DROP DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "3D000" {
			return fmt.Errorf("database %s: %w", dbName, domain.ErrSessionNotFound)
		}
		return &domain.OpError{Op: domain.OpDrop, Session: session, Err: fmt.Errorf("drop database %s: %w", dbName, err)}
	}
	slog.InfoContext(ctx, "session database dropped", "session", session, "database", dbName)
	return nil
}

// ListDatabases returns every database carrying the session suffix, except
// the control database itself.
func (p *Provisioner) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := p.control.Query(ctx, `
		SELECT datname FROM pg_database
		WHERE NOT datistemplate
		  AND datname LIKE '%\_db'
		  AND datname <> current_database()
		ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan database names: %w", err)
	}
	return names, nil
}
