package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	enrollmentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "registry",
		Name:      "enrollments_total",
		Help:      "Signup attempts grouped by activity and outcome.",
	}, []string{"activity", "outcome"})
	withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "registry",
		Name:      "withdrawals_total",
		Help:      "Unregister attempts grouped by activity and outcome.",
	}, []string{"activity", "outcome"})
	rosterGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "registry",
		Name:      "roster_size",
		Help:      "Participants per activity as of the most recent listing.",
	}, []string{"activity"})
)

func init() {
	prometheus.MustRegister(enrollmentCounter, withdrawalCounter, rosterGauge)
}

// RecordEnrollment counts a signup attempt.
func RecordEnrollment(activity, outcome string) {
	enrollmentCounter.WithLabelValues(activity, outcome).Inc()
}

// RecordWithdrawal counts an unregister attempt.
func RecordWithdrawal(activity, outcome string) {
	withdrawalCounter.WithLabelValues(activity, outcome).Inc()
}

// RecordRosterSize updates the roster gauge for one activity.
func RecordRosterSize(activity string, size int) {
	rosterGauge.WithLabelValues(activity).Set(float64(size))
}
