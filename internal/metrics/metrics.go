package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReceiptsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_receipts_processed_total",
			Help: "Receipt submissions by platform and outcome",
		},
		[]string{"platform", "outcome"}, // created, updated, validation_error, ownership_conflict, internal_error
	)

	PairingsReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_pairings_reconciled_total",
			Help: "Pairing premium writes by resulting flag",
		},
		[]string{"premium"},
	)

	ReconcileFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_reconcile_failures_total",
			Help: "Pairings skipped because reading or writing their premium flag failed",
		},
	)

	ReceiptsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_receipts_rate_limited_total",
			Help: "Receipt submissions rejected by the per-user rate limit",
		},
	)

	PremiumWebhookFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_premium_webhook_failures_total",
			Help: "Premium change notifications that failed after all retries",
		},
	)
)

// RecordPairingReconciled counts one persisted premium flag.
func RecordPairingReconciled(premium bool) {
	label := "false"
	if premium {
		label = "true"
	}
	PairingsReconciledTotal.WithLabelValues(label).Inc()
}
