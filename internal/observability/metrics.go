package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltctl",
			Subsystem: "client",
			Name:      "connect_total",
			Help:      "Connect attempts by outcome.",
		},
		[]string{"outcome"},
	)
	connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boltctl",
			Subsystem: "client",
			Name:      "connect_duration_seconds",
			Help:      "Time from connect start to handshake written or failure.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	connectionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "boltctl",
			Subsystem: "client",
			Name:      "connection_errors_total",
			Help:      "Terminal socket errors after a successful connect.",
		},
	)
	framesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltctl",
			Subsystem: "dispatch",
			Name:      "frames_total",
			Help:      "Decoded frames by tag and whether any subscriber received them.",
		},
		[]string{"tag", "routed"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltctl",
			Subsystem: "dispatch",
			Name:      "framing_errors_total",
			Help:      "Dropped frames or bytes by reason.",
		},
		[]string{"reason"},
	)
	bufferedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "boltctl",
			Subsystem: "dispatch",
			Name:      "buffered_bytes",
			Help:      "Bytes held by each session's frame buffer after its last chunk.",
		},
		[]string{"session"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectAttempts,
			connectDuration,
			connectionErrors,
			framesDispatched,
			framingErrors,
			bufferedBytes,
		)
	})
}

func RecordConnect(outcome string, duration time.Duration) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(outcome).Inc()
	connectDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordConnectionError() {
	RegisterMetrics()
	connectionErrors.Inc()
}

// RecordFrame counts one decoded frame. Unknown tags are folded into "other"
// to keep label cardinality bounded.
func RecordFrame(tag string, routed bool) {
	RegisterMetrics()
	routedLabel := "false"
	if routed {
		routedLabel = "true"
	}
	framesDispatched.WithLabelValues(tagLabel(tag), routedLabel).Inc()
}

func RecordFramingError(reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(reason).Inc()
}

// SetBufferedBytes records the frame buffer size of one session.
func SetBufferedBytes(session string, n int) {
	RegisterMetrics()
	bufferedBytes.WithLabelValues(session).Set(float64(n))
}

// ForgetSession drops the per-session series once the session is finished.
func ForgetSession(session string) {
	RegisterMetrics()
	bufferedBytes.DeleteLabelValues(session)
}

func tagLabel(tag string) string {
	switch tag {
	case "join", "leave", "msg", "err", "motd":
		return tag
	default:
		return "other"
	}
}
