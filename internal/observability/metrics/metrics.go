package metrics

import "github.com/prometheus/client_golang/prometheus"

// AppointmentMetrics exposes counters for lifecycle transitions and gateway
// calls.
type AppointmentMetrics struct {
	transitionsTotal *prometheus.CounterVec
	gatewayTotal     *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
}

func NewAppointmentMetrics(reg prometheus.Registerer) *AppointmentMetrics {
	m := &AppointmentMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientcare",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Total appointment lifecycle transition attempts",
		}, []string{"action", "outcome"}),
		gatewayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientcare",
			Subsystem: "hospital_gateway",
			Name:      "calls_total",
			Help:      "Total hospital booking gateway calls",
		}, []string{"op", "outcome"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientcare",
			Subsystem: "notifier",
			Name:      "dispatch_total",
			Help:      "Total notification dispatch attempts",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.gatewayTotal, m.dispatchTotal)
	return m
}

func (m *AppointmentMetrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *AppointmentMetrics) ObserveGatewayCall(op, outcome string) {
	if m == nil {
		return
	}
	m.gatewayTotal.WithLabelValues(op, outcome).Inc()
}

func (m *AppointmentMetrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(outcome).Inc()
}
