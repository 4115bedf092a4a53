package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DatabaseSuffix is appended to every normalized session name to form its
// physical database identifier.
const DatabaseSuffix = "_db"

// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLength = 63

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// SessionRecord is a catalog row describing one session.
type SessionRecord struct {
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
}

// ActiveSession describes what the router currently targets. Name is empty
// when the router points at the control database.
type ActiveSession struct {
	Name     string `json:"name"`
	Database string `json:"database"`
}

// IsControl reports whether no session database is routed.
func (a ActiveSession) IsControl() bool {
	return a.Name == ""
}

// DatabaseName derives the physical database identifier for a session name:
// lowercased, spaces replaced with underscores, DatabaseSuffix appended.
// Every component that touches a session database must go through this.
func DatabaseName(session string) (string, error) {
	if strings.TrimSpace(session) == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidSessionName)
	}
	if strings.ContainsRune(session, 0) {
		return "", fmt.Errorf("%w: name contains a NUL byte", ErrInvalidSessionName)
	}

	name := strings.ReplaceAll(strings.ToLower(session), " ", "_") + DatabaseSuffix
	if len(name) > maxIdentifierLength {
		return "", fmt.Errorf("%w: database name %q exceeds %d bytes", ErrInvalidSessionName, name, maxIdentifierLength)
	}
	return name, nil
}

// --- Ports ---

// SessionCatalog is the registry of sessions kept in the control database.
// StartActive and LoadActive close every other record in the same transaction
// that activates the target, so at most one record is ever active.
type SessionCatalog interface {
	StartActive(ctx context.Context, name string, startedAt time.Time) (*SessionRecord, error)
	LoadActive(ctx context.Context, name string, now time.Time) (*SessionRecord, error)
	MarkClosed(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error

	Get(ctx context.Context, name string) (*SessionRecord, error)
	GetActive(ctx context.Context) (*SessionRecord, error)
	List(ctx context.Context) ([]SessionRecord, error)
}

// DatabaseProvisioner performs database-level (DDL) lifecycle operations.
type DatabaseProvisioner interface {
	Create(ctx context.Context, session string) error
	Drop(ctx context.Context, session string) error
}

// SessionRouter owns the active database target.
type SessionRouter interface {
	SwitchTo(ctx context.Context, session string) error
	ResetToControl()
	Current() ActiveSession
	// Invalidate tells the router that session's database was dropped.
	Invalidate(session string)
}

// RecordReader reads the per-session infringement records.
type RecordReader interface {
	Infringements(ctx context.Context, session string) ([]Infringement, error)
}
