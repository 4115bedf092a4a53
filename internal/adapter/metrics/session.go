package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// SessionMetrics holds Prometheus metrics for session lifecycle and routing.
type SessionMetrics struct {
	LifecycleOps  *prometheus.CounterVec
	Switches      *prometheus.CounterVec
	ActiveSession *prometheus.GaugeVec
}

// NewSessionMetrics creates and registers session metrics on the given registry.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		LifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "lifecycle_operations_total",
			Help:      "Total number of session lifecycle operations, by operation and result.",
		}, []string{"op", "result"}),
		Switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "switches_total",
			Help:      "Total number of router switches, by result.",
		}, []string{"result"}),
		ActiveSession: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_info",
			Help:      "Set to 1 for the session the router currently targets.",
		}, []string{"name"}),
	}

	reg.MustRegister(m.LifecycleOps, m.Switches, m.ActiveSession)
	return m
}

// ObserveLifecycle counts one lifecycle operation. Safe on a nil receiver.
func (m *SessionMetrics) ObserveLifecycle(op string, err error) {
	if m == nil {
		return
	}
	m.LifecycleOps.WithLabelValues(op, result(err)).Inc()
}

// ObserveSwitch counts one router switch. Safe on a nil receiver.
func (m *SessionMetrics) ObserveSwitch(err error) {
	if m == nil {
		return
	}
	m.Switches.WithLabelValues(result(err)).Inc()
}

// SetActive replaces the active-session series; an empty name clears it.
func (m *SessionMetrics) SetActive(name string) {
	if m == nil {
		return
	}
	m.ActiveSession.Reset()
	if name != "" {
		m.ActiveSession.WithLabelValues(name).Set(1)
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
