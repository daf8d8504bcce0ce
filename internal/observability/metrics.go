package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AllocationsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "glass_allocation", Name: "allocations_total", Help: "Total allocation runs"})
	AllocationLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "glass_allocation", Name: "allocation_latency_seconds", Help: "Allocation latency seconds"})
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "glass_allocation", Name: "offers_created_total", Help: "Total job offers created"})
	OffersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "glass_allocation", Name: "offers_expired_total", Help: "Total job offers expired"})

	OffersResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "glass_allocation", Name: "offers_resolved_total", Help: "Total offer resolutions by outcome"},
		[]string{"outcome"},
	)
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "glass_allocation", Name: "job_transitions_total", Help: "Total job status transitions"},
		[]string{"from", "to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "glass_allocation", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glass_allocation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
