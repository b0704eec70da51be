package mirror

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// cloneAttempts is a Counter vector of clone attempts
	cloneAttempts *prometheus.CounterVec
	// lastRefreshTimestamp is a Gauge that captures the timestamp of the last
	// successful refresh
	lastRefreshTimestamp *prometheus.GaugeVec
	// refreshCount is a Counter vector of refreshes
	refreshCount *prometheus.CounterVec
	// refreshLatency is a Histogram vector that keeps track of refresh durations
	refreshLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for the mirror.
// Available metrics are...
//   - proposal_mirror_clone_attempts_total - (tags: repo,success)
//     A Counter incremented with each clone attempt during initialize.
//   - proposal_mirror_last_refresh_timestamp - (tags: repo)
//     A Gauge that captures the Timestamp of the last successful refresh.
//   - proposal_mirror_refresh_count - (tags: repo,success)
//     A Counter for each refresh tagged with the result (success=true|false)
//   - proposal_mirror_refresh_latency_seconds - (tags: repo)
//     A Histogram that keeps track of the refresh latency.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	cloneAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "proposal_mirror_clone_attempts_total",
		Help:      "Count of clone attempts",
	},
		[]string{
			// name of the repository
			"repo",
			// Whether the attempt was successful or not
			"success",
		},
	)

	lastRefreshTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "proposal_mirror_last_refresh_timestamp",
		Help:      "Timestamp of the last successful refresh",
	},
		[]string{"repo"},
	)

	refreshCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "proposal_mirror_refresh_count",
		Help:      "Count of refresh operations",
	},
		[]string{"repo", "success"},
	)

	refreshLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "proposal_mirror_refresh_latency_seconds",
		Help:      "Latency for refresh from origin",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{"repo"},
	)

	registerer.MustRegister(
		cloneAttempts,
		lastRefreshTimestamp,
		refreshCount,
		refreshLatency,
	)
}

func recordCloneAttempt(repo string, success bool) {
	// if metrics not enabled return
	if cloneAttempts == nil {
		return
	}
	cloneAttempts.With(prometheus.Labels{
		"repo":    repo,
		"success": strconv.FormatBool(success),
	}).Inc()
}

// recordRefresh records a refresh by updating all the relevant metrics
func recordRefresh(repo string, success bool) {
	if lastRefreshTimestamp == nil || refreshCount == nil {
		return
	}
	if success {
		lastRefreshTimestamp.With(prometheus.Labels{
			"repo": repo,
		}).Set(float64(time.Now().Unix()))
	}
	refreshCount.With(prometheus.Labels{
		"repo":    repo,
		"success": strconv.FormatBool(success),
	}).Inc()
}

func updateRefreshLatency(repo string, start time.Time) {
	if refreshLatency == nil {
		return
	}
	refreshLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}
