package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllCollectorsRegisterWithoutConflict(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewHTTPMetrics(reg)
		NewHubMetrics(reg)
		NewSessionMetrics(reg)
		NewDBMetrics(reg)
	})

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHandler_ServesExposition(t *testing.T) {
	reg := NewRegistry()
	hub := NewHubMetrics(reg)
	hub.Subscribers.Set(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "racecontrol_hub_subscribers 3")
}

func TestSessionMetrics_ObserveLifecycle(t *testing.T) {
	m := NewSessionMetrics(prometheus.NewRegistry())

	m.ObserveLifecycle("start", nil)
	m.ObserveLifecycle("start", errors.New("boom"))
	m.ObserveLifecycle("start", nil)

	assert.InDelta(t, 2, testutil.ToFloat64(m.LifecycleOps.WithLabelValues("start", ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.LifecycleOps.WithLabelValues("start", ResultError)), 0)
}

func TestSessionMetrics_SetActiveReplacesSeries(t *testing.T) {
	m := NewSessionMetrics(prometheus.NewRegistry())

	m.SetActive("Round 1")
	m.SetActive("Round 2")
	assert.Equal(t, 1, testutil.CollectAndCount(m.ActiveSession))
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSession.WithLabelValues("Round 2")), 0)

	m.SetActive("")
	assert.Equal(t, 0, testutil.CollectAndCount(m.ActiveSession))
}

func TestSessionMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *SessionMetrics
	assert.NotPanics(t, func() {
		m.ObserveLifecycle("load", nil)
		m.ObserveSwitch(errors.New("x"))
		m.SetActive("Round 1")
	})
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	tests := []struct {
		name      string
		route     string
		wantRoute string
	}{
		{"lifecycle route is recorded", "/session/start", "/session/start"},
		{"export route is recorded", "/session/export", "/session/export"},
		{"unmatched request gets a fixed label", "", "unmatched"},
		{"metrics endpoint is skipped", "/metrics", ""},
		{"websocket upgrade is skipped", "/ws", ""},
		{"health probe is skipped", "/health/ready", ""},
		{"frontend health poll is skipped", "/api/health", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewHTTPMetrics(prometheus.NewRegistry())
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/session/start?name=Race%201", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath(tt.route)

			h := m.Middleware()(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			require.NoError(t, h(c))

			if tt.wantRoute == "" {
				assert.Equal(t, 0, testutil.CollectAndCount(m.RequestsTotal))
			} else {
				assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal))
				assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, tt.wantRoute, "200")), 0)
			}
			assert.InDelta(t, 0, testutil.ToFloat64(m.InFlightGauge), 0)
		})
	}
}

func TestHubMetrics_Names(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHubMetrics(reg)
	m.MessagesSent.Inc()
	m.DeliveryFailures.Inc()

	expected := `
# HELP racecontrol_hub_delivery_failures_total Total number of failed deliveries; each one evicts the subscriber.
# TYPE racecontrol_hub_delivery_failures_total counter
racecontrol_hub_delivery_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "racecontrol_hub_delivery_failures_total"))
}
