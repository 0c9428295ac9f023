// Package metrics exposes Prometheus collectors for the sandbox lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SandboxCreates counts successful sandbox creations
	SandboxCreates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_creates_total",
		Help: "Number of sandboxes successfully created.",
	})

	// SandboxCreateFailures counts failed sandbox creations, including rollbacks
	SandboxCreateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_create_failures_total",
		Help: "Number of sandbox creation attempts that failed.",
	})

	// SandboxDestroys counts sandbox deletions
	SandboxDestroys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_destroys_total",
		Help: "Number of sandboxes destroyed.",
	})

	// SandboxCreateDuration observes end-to-end creation latency, port
	// allocation included
	SandboxCreateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbox_create_duration_seconds",
		Help:    "Time to provision a sandbox, including port allocation.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
