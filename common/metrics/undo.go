package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TreeOperations counts mutating tree operations by op (push, undo, redo, navigate)
	TreeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undotree_tree_operations_total",
		Help: "Mutating undo tree operations applied through a coordinator",
	}, []string{"op"})

	// LimitRejections counts pushes refused by the branch or depth cap
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undotree_limit_rejections_total",
		Help: "Pushes rejected because a tree limit was reached",
	}, []string{"limit"})

	// Hydrations counts hydration outcomes (restored, fresh, corrupt, error)
	Hydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undotree_hydrations_total",
		Help: "Coordinator hydration outcomes",
	}, []string{"outcome"})

	// AutosaveTotal counts finished autosaves by result (success, failure)
	AutosaveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undotree_autosave_total",
		Help: "Autosave attempts that completed, by final result",
	}, []string{"result"})

	// AutosaveRetries counts retried save calls
	AutosaveRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "undotree_autosave_retries_total",
		Help: "Save calls retried after a failure",
	})

	// AutosaveCoalesced counts pending saves superseded by a newer mutation
	AutosaveCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "undotree_autosave_coalesced_total",
		Help: "Pending autosaves replaced by a newer mutation before firing",
	})

	// CacheLookups counts record cache reads by backend and result (hit, miss, error)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "undotree_cache_lookups_total",
		Help: "Undo tree record cache lookups",
	}, []string{"backend", "result"})

	// StoreDuration observes repository and cache latency on the API side
	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "undotree_store_duration_seconds",
		Help:    "Duration of undo tree record operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})
)

// Handler exposes the default registry in Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
