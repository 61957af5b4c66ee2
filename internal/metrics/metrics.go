// Package metrics exposes Prometheus collectors for completion traffic, function
// synthesis, the self-repairing import loop, the login flow and the serve mode.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// completionRequestsTotal counts requests to the completion endpoint by HTTP status.
	completionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_completion_requests_total",
			Help: "Total number of completion endpoint requests",
		},
		[]string{"status"},
	)

	// completionDurationSeconds tracks completion round-trip latency.
	completionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copilot_import_completion_duration_seconds",
			Help:    "Duration of completion endpoint requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// completionPromptTokens tracks the estimated prompt size per completion.
	completionPromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copilot_import_completion_prompt_tokens",
			Help:    "Estimated prompt tokens per completion request",
			Buckets: prometheus.ExponentialBuckets(4, 2, 8),
		},
	)

	// synthesisTotal counts synthesized functions by outcome: accepted, truncated, fabrication.
	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_synthesis_total",
			Help: "Total number of synthesized functions by outcome",
		},
		[]string{"outcome"},
	)

	// importGuessesTotal counts undefined-name handling: retry, resolution, import.
	importGuessesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_import_guesses_total",
			Help: "Total number of undefined names handled by the import guessing loop",
		},
		[]string{"outcome"},
	)

	// invocationsTotal counts proxy invocations by outcome.
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_invocations_total",
			Help: "Total number of synthesized function invocations",
		},
		[]string{"dialect", "outcome"},
	)

	// loginTotal counts device-code login attempts by terminal state.
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_login_total",
			Help: "Total number of device-code logins by terminal state",
		},
		[]string{"state"},
	)

	// httpRequestsTotal counts serve mode requests.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_import_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks serve mode latency.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_import_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		completionRequestsTotal,
		completionDurationSeconds,
		completionPromptTokens,
		synthesisTotal,
		importGuessesTotal,
		invocationsTotal,
		loginTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// RecordCompletion records one completion round trip. status 0 means a transport failure.
func RecordCompletion(status int, d time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	completionRequestsTotal.WithLabelValues(label).Inc()
	completionDurationSeconds.Observe(d.Seconds())
}

// ObservePromptTokens records the estimated prompt size of a completion.
func ObservePromptTokens(n int) {
	completionPromptTokens.Observe(float64(n))
}

// RecordSynthesis records a synthesis outcome.
func RecordSynthesis(outcome string) {
	synthesisTotal.WithLabelValues(outcome).Inc()
}

// RecordImportGuess records how an undefined name was handled.
func RecordImportGuess(outcome string) {
	importGuessesTotal.WithLabelValues(outcome).Inc()
}

// RecordInvocation records a proxy invocation outcome.
func RecordInvocation(dialect string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invocationsTotal.WithLabelValues(dialect, outcome).Inc()
}

// RecordLogin records the terminal state of a login attempt.
func RecordLogin(state string) {
	loginTotal.WithLabelValues(state).Inc()
}

// GinMetrics returns middleware recording request counts and latency by route.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
