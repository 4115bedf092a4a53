package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/racecontrol/internal/domain"
)

// RecordReader reads infringements from a session database. It reuses the
// routed pool when the session is active and otherwise opens a short-lived
// pool, so reading never repoints the router.
type RecordReader struct {
	router *Router
}

var _ domain.RecordReader = (*RecordReader)(nil)

func NewRecordReader(router *Router) *RecordReader {
	return &RecordReader{router: router}
}

// Infringements returns every infringement with its history, newest first.
func (r *RecordReader) Infringements(ctx context.Context, session string) ([]domain.Infringement, error) {
	dbName, err := domain.DatabaseName(session)
	if err != nil {
		return nil, err
	}

	h := r.router.Resolve()
	pool := h.Pool
	if h.IsControl() || h.DatabaseName != dbName {
		p, err := r.router.OpenSession(ctx, session)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		pool = p
	}

	return readInfringements(ctx, pool)
}

func readInfringements(ctx context.Context, pool *pgxpool.Pool) ([]domain.Infringement, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, kart_number, turn_number, description, observer, warning_count,
		       penalty_due, penalty_description, penalty_taken, timestamp
		FROM infringements
		ORDER BY timestamp DESC NULLS LAST, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query infringements: %w", err)
	}

	infringements, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Infringement, error) {
		var inf domain.Infringement
		err := row.Scan(&inf.ID, &inf.KartNumber, &inf.TurnNumber, &inf.Description, &inf.Observer,
			&inf.WarningCount, &inf.PenaltyDue, &inf.PenaltyDescription, &inf.PenaltyTaken, &inf.Timestamp)
		inf.History = []domain.HistoryEntry{}
		return inf, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan infringements: %w", err)
	}

	index := make(map[int64]int, len(infringements))
	for i, inf := range infringements {
		index[inf.ID] = i
	}

	rows, err = pool.Query(ctx, `
		SELECT infringement_id, action, performed_by, observer, details, timestamp
		FROM infringement_history
		ORDER BY timestamp DESC NULLS LAST, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query infringement history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var infringementID int64
		var h domain.HistoryEntry
		if err := rows.Scan(&infringementID, &h.Action, &h.PerformedBy, &h.Observer, &h.Details, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan infringement history: %w", err)
		}
		if i, ok := index[infringementID]; ok {
			infringements[i].History = append(infringements[i].History, h)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read infringement history: %w", err)
	}

	return infringements, nil
}
