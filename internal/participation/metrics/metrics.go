package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the participation engine.
type Metrics struct {
	Registrations     *prometheus.CounterVec
	Cancellations     prometheus.Counter
	Promotions        prometheus.Counter
	CheckIns          *prometheus.CounterVec
	HoursCredited     prometheus.Counter
	CertificateChecks *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
}

// New registers the participation metrics with reg, or the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_registrations_total",
			Help: "Registrations by outcome (registered, confirmed, waitlisted, existing)",
		}, []string{"outcome"}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_cancellations_total",
			Help: "Total number of cancelled registrations",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_waitlist_promotions_total",
			Help: "Total number of waitlisted registrations promoted into a slot",
		}),
		CheckIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_checkins_total",
			Help: "Check-ins by location result (within, outside, unavailable)",
		}, []string{"location"}),
		HoursCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_hours_credited_total",
			Help: "Volunteer hours credited at check-out",
		}),
		CertificateChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_certificate_evaluations_total",
			Help: "Certificate evaluations by eligibility",
		}, []string{"eligible"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_operation_errors_total",
			Help: "Failed engine operations by error code",
		}, []string{"operation", "code"}),
	}
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementOperationError(op, code string) {
	m.OperationErrors.WithLabelValues(op, code).Inc()
}

func (m *Metrics) IncrementRegistration(outcome string) {
	m.Registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCheckIn(location string) {
	m.CheckIns.WithLabelValues(location).Inc()
}

func (m *Metrics) AddHoursCredited(hours float64) {
	if hours > 0 {
		m.HoursCredited.Add(hours)
	}
}

func (m *Metrics) IncrementCertificateCheck(eligible bool) {
	label := "false"
	if eligible {
		label = "true"
	}
	m.CertificateChecks.WithLabelValues(label).Inc()
}
