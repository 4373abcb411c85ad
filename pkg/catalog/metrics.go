package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesInFlight tracks per-identifier fetches currently running.
	FetchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_fetches_in_flight",
			Help: "Number of product fetches currently in flight",
		},
	)

	// Merges counts store merges by outcome.
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_merges_total",
			Help: "Total number of store merges by outcome",
		},
		[]string{"outcome"}, // "product", "error"
	)

	// BatchesTotal counts batches by kind.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_batches_total",
			Help: "Total number of fetch batches started",
		},
		[]string{"kind"}, // "range", "retry"
	)

	// BatchDuration tracks the time from launch to settlement.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_batch_duration_seconds",
			Help:    "Time until every identifier of a batch has settled",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// StoredProducts tracks the size of the result collection.
	StoredProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_products",
			Help: "Number of products in the result collection",
		},
	)

	// StoredErrors tracks the size of the error map.
	StoredErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_fetch_errors",
			Help: "Number of identifiers in the error map",
		},
	)
)
