package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	VoiceRequests     *prometheus.CounterVec
	VoiceTableSize    prometheus.Gauge
	TurnLatency       prometheus.Histogram
	TurnRespawns      prometheus.Counter
	StaleDrains       prometheus.Counter
	UpstreamErrors    *prometheus.CounterVec
	TranscribeLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live assistant sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		VoiceRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_requests_total",
			Help:      "Voice request lifecycle transitions by outcome.",
		}, []string{"outcome"}),
		VoiceTableSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_request_table_size",
			Help:      "Voice requests currently held in memory.",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_turn_latency_ms",
			Help:      "Latency of a full assistant turn in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 64000},
		}),
		TurnRespawns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_respawns_total",
			Help:      "Assistant subprocess respawns.",
		}),
		StaleDrains: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_stale_drains_total",
			Help:      "Turns that drained stale output from a previous turn.",
		}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Speech backend errors by backend.",
		}, []string{"backend"}),
		TranscribeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcribe_latency_ms",
			Help:      "Whisper transcription latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTranscribeLatency(d time.Duration) {
	m.TranscribeLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
