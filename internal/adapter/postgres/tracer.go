package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/racecontrol/internal/adapter/metrics"
)

// MetricsTracer implements pgx.QueryTracer and records query duration and
// errors labelled by target database and leading SQL keyword.
type MetricsTracer struct {
	metrics *metrics.DBMetrics
	clock   clockwork.Clock
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.DBMetrics, clock clockwork.Clock) *MetricsTracer {
	return &MetricsTracer{metrics: m, clock: clock}
}

type traceKey struct{}

type traceData struct {
	start     int64
	statement string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{
		start:     t.clock.Now().UnixNano(),
		statement: statementKind(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}

	database := conn.Config().Database
	elapsed := float64(t.clock.Now().UnixNano()-td.start) / 1e9
	t.metrics.QueryDuration.WithLabelValues(database, td.statement).Observe(elapsed)
	if data.Err != nil {
		t.metrics.QueryErrors.WithLabelValues(database, td.statement).Inc()
	}
}

// statementKind reduces SQL to its leading keyword to keep label cardinality low.
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	kind := strings.ToUpper(fields[0])
	if len(kind) > 20 {
		kind = kind[:20]
	}
	return kind
}
