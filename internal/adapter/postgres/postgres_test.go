package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/pscheid92/racecontrol/internal/platform/retry"
)

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"bad password", &pgconn.PgError{Code: "28P01"}, retry.Stop},
		{"missing database", fmt.Errorf("connect: %w", &pgconn.PgError{Code: "3D000"}), retry.Stop},
		{"bad url", errors.New("failed to parse database URL: x"), retry.Stop},
		{"server starting up", &pgconn.PgError{Code: "57P03"}, retry.Retry},
		{"connection refused", errors.New("dial tcp: connection refused"), retry.Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyConnectError(tt.err))
		})
	}
}

func TestExtractSSLMode(t *testing.T) {
	assert.Equal(t, "disable", extractSSLMode("postgres://h/db?sslmode=DISABLE"))
	assert.Equal(t, "prefer (default)", extractSSLMode("postgres://h/db"))
	assert.Equal(t, "unknown", extractSSLMode("://bad"))
}

func TestStatementKind(t *testing.T) {
	assert.Equal(t, "SELECT", statementKind("  select 1"))
	assert.Equal(t, "CREATE", statementKind("CREATE DATABASE \"x_db\""))
	assert.Equal(t, "unknown", statementKind(""))
}
