// Package observability registers the prometheus metrics of the dispatch engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "dispatch_attempts_total",
		Help: "Match attempt cycles executed",
	})
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "offers_created_total",
		Help: "Offers written to the ledger",
	})
	OffersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "offers_expired_total",
		Help: "Offers flipped to expired by the sweep",
	})
	OffersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "offers_accepted_total",
		Help: "Offers accepted by drivers",
	})
	OffersRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "offers_rejected_total",
		Help: "Offers rejected by drivers",
	})
	OrdersMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "orders_matched_total",
		Help: "Orders finalized with a driver",
	})
	OrdersQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "orders_queued_total",
		Help: "Attempt cycles that ended in queued backoff",
	})
	LocationSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hail", Name: "location_samples_total",
		Help: "Driver location samples ingested",
	})
)
