// Package metrics exposes Prometheus counters for the turn pipeline and
// the progress channel.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zju-rshub/rsagent/pkg/models"
)

var (
	// TurnsTotal counts completed chat turns by task code and status.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsagent_turns_total",
		Help: "Completed chat turns by task type and status.",
	}, []string{"task_type", "status"})

	// TurnDuration observes end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rsagent_turn_duration_seconds",
		Help:    "End-to-end chat turn duration.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// LLMCallsTotal counts upstream completion calls.
	LLMCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsagent_llm_calls_total",
		Help: "Successful upstream LLM completion calls.",
	})

	// RSHubSubmissionsTotal counts simulation task submissions.
	RSHubSubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsagent_rshub_submissions_total",
		Help: "Simulation tasks submitted to RSHub.",
	})

	// ProgressSubscribers tracks open progress WebSocket connections.
	ProgressSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rsagent_progress_subscribers",
		Help: "Open progress WebSocket connections.",
	})

	// SessionSaveFailures counts persistence errors across both backends.
	SessionSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsagent_session_save_failures_total",
		Help: "Chat session persistence failures.",
	})
)

// ObserveTurn records one completed turn.
func ObserveTurn(code models.TaskCode, status string, seconds float64) {
	TurnsTotal.WithLabelValues(strconv.Itoa(int(code)), status).Inc()
	TurnDuration.Observe(seconds)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
