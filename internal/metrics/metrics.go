package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the delivery confirmation workflow
var (
	DeliveryPromptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_prompts_total",
			Help: "Total number of delivery confirmation prompts handled",
		},
		[]string{"outcome"},
	)

	DeliveryDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_decisions_total",
			Help: "Total number of Correct / Not correct decisions handled",
		},
		[]string{"decision", "outcome"},
	)

	DeliveryApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_approvals_total",
			Help: "Total number of approval form submissions handled",
		},
		[]string{"outcome"},
	)

	CRMSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_total",
			Help: "Total number of order update attempts by outcome",
		},
		[]string{"outcome"},
	)

	CRMSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_sync_duration_seconds",
			Help:    "Duration of order lookups and updates",
			Buckets: prometheus.DefBuckets,
		},
	)

	InboundRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_inbound_requests_total",
			Help: "Total number of Slack requests received over HTTP",
		},
		[]string{"endpoint", "status"},
	)
)

// Outcome labels
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeSuppressed = "suppressed"
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(DeliveryPromptsTotal)
	prometheus.MustRegister(DeliveryDecisionsTotal)
	prometheus.MustRegister(DeliveryApprovalsTotal)
	prometheus.MustRegister(CRMSyncTotal)
	prometheus.MustRegister(CRMSyncDuration)
	prometheus.MustRegister(InboundRequestsTotal)
}
