package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Admission metrics. Standalone package so domain packages can increment
// without importing HTTP code.

var (
	TicketVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_verifications_total",
		Help: "Ticket verification outcomes by result",
	}, []string{"result"})

	TicketsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Tickets issued",
	})

	RateLimitDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_denials_total",
		Help: "Rate limit denials by reason",
	}, []string{"reason"})

	RateLimitFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_fail_open_total",
		Help: "Admissions granted because the limiter store was unhealthy",
	})

	AbuseDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "abuse_detections_total",
		Help: "IPs blacklisted by the abuse detector",
	})

	AccessDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_denials_total",
		Help: "Permission check denials by permission",
	}, []string{"permission"})

	StreamRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_request_duration_ms",
		Help:    "Stream admission latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Register installs the collectors on the given registry (or the default
// if nil). Double registration is tolerated so tests can call it freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		TicketVerifications,
		TicketsIssued,
		RateLimitDenials,
		RateLimitFailOpen,
		AbuseDetections,
		AccessDenials,
		StreamRequestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
