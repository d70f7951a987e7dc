package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	discoveryProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "discovery",
			Name:      "probes_total",
			Help:      "Multicast discovery probes sent.",
		},
		[]string{"found"},
	)
	discoveryReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "discovery",
			Name:      "replies_total",
			Help:      "Distinct instance replies collected across discovery rounds.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "command",
			Name:      "executions_total",
			Help:      "Remote command executions by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enginectl",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Remote command round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode", "outcome"},
	)
	launchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "launch",
			Name:      "polls_total",
			Help:      "Post-launch discovery poll attempts.",
		},
		[]string{"found"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Status-surface HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enginectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status-surface HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(discoveryProbes, discoveryReplies, commands, commandDuration, launchPolls, httpRequests, httpDuration)
	})
}

func RecordDiscovery(found bool, replies int) {
	RegisterMetrics()
	discoveryProbes.WithLabelValues(strconv.FormatBool(found)).Inc()
	discoveryReplies.Add(float64(replies))
}

func RecordCommand(mode string, outcome string, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(mode, outcome).Inc()
	commandDuration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

func RecordLaunchPoll(found bool) {
	RegisterMetrics()
	launchPolls.WithLabelValues(strconv.FormatBool(found)).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
