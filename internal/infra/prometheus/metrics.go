package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "templink"

var (
	// LinksCreated counts links written to the registry.
	LinksCreated = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "links_created_total",
		Help:      "Disguise links created.",
	})

	// AdmissionRejections counts creation requests refused by the admission gate.
	AdmissionRejections = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejections_total",
		Help:      "Creation requests rejected, by reason.",
	}, []string{"reason"})

	// ForwardRequests counts forwarded requests by outcome.
	ForwardRequests = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "forward_requests_total",
		Help:      "Requests relayed to origins, by outcome.",
	}, []string{"outcome"})

	// LinksRetired counts links removed by the sweeper or revoked.
	LinksRetired = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "links_retired_total",
		Help:      "Links removed from the registry, by cause.",
	}, []string{"cause"})

	// SweepFailures counts links the sweeper could not delete.
	SweepFailures = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_failures_total",
		Help:      "Expired links that could not be deleted during a sweep.",
	})

	// NotificationFailures counts webhook deliveries that failed.
	NotificationFailures = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Webhook deliveries that failed, by category.",
	}, []string{"category"})
)

func init() {
	prom.MustRegister(
		LinksCreated,
		AdmissionRejections,
		ForwardRequests,
		LinksRetired,
		SweepFailures,
		NotificationFailures,
	)
}
