// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsClosed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ServerBusyTotal  prometheus.Counter
	IdleSweepClosed  prometheus.Counter

	// VAD / endpointing metrics
	FramesClassified      *prometheus.CounterVec
	EndpointTransitions   *prometheus.CounterVec
	UtterancesDetected    prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioSamplesReceived prometheus.Counter
	AudioFramesReceived  prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Decoder metrics
	DecodeLatency     *prometheus.HistogramVec
	DecodeErrors      *prometheus.CounterVec
	DecodePartialLag  prometheus.Histogram
	DecodeFinalLag    prometheus.Histogram

	// Protocol-error metrics
	ProtocolErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions created",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed, by reason",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ServerBusyTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_busy_total",
			Help:      "Total number of connections rejected at the max-concurrent-session limit",
		}),
		IdleSweepClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_sweep_closed_total",
			Help:      "Total number of sessions closed by the idle-TTL sweeper",
		}),

		FramesClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_classified_total",
			Help:      "Total number of analysis frames classified by the VAD gate",
		}, []string{"class"}),
		EndpointTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_transitions_total",
			Help:      "Total number of Endpointer state transitions",
		}, []string{"transition"}),
		UtterancesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_detected_total",
			Help:      "Total number of utterances detected (SpeechStarted transitions)",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts emitted",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts emitted",
		}),

		AudioSamplesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_received_total",
			Help:      "Total audio samples received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total analysis frames assembled from received audio",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		DecodeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_latency_seconds",
			Help:      "Decoder StreamingTranscribe call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of decode errors, by kind",
		}, []string{"kind"}),
		DecodePartialLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_partial_lag_seconds",
			Help:      "Time from audio arrival to partial transcript emission",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}),
		DecodeFinalLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_final_lag_seconds",
			Help:      "Time from speech end to final transcript emission",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5},
		}),

		ProtocolErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of protocol-level errors surfaced to clients, by kind",
		}, []string{"kind"}),
	}
}

// RecordSessionStart records a new session being created.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordServerBusy records a connection rejected at capacity.
func (m *Metrics) RecordServerBusy() {
	m.ServerBusyTotal.Inc()
}

// RecordIdleSweepClosed records the idle sweeper closing a session.
func (m *Metrics) RecordIdleSweepClosed() {
	m.IdleSweepClosed.Inc()
}

// RecordFrameClassified records one VAD classification.
func (m *Metrics) RecordFrameClassified(isSpeech bool) {
	class := "silence"
	if isSpeech {
		class = "speech"
	}
	m.FramesClassified.WithLabelValues(class).Inc()
}

// RecordEndpointTransition records an Endpointer state transition.
func (m *Metrics) RecordEndpointTransition(transition string) {
	m.EndpointTransitions.WithLabelValues(transition).Inc()
	if transition == "speech_started" {
		m.UtterancesDetected.Inc()
	}
}

// RecordPartialTranscript records a partial transcript emitted.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript emitted.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioReceived records the number of audio samples received in one
// inbound chunk. Assembled frames are counted by RecordFrameAssembled.
func (m *Metrics) RecordAudioReceived(samples int) {
	m.AudioSamplesReceived.Add(float64(samples))
}

// RecordFrameAssembled records one complete analysis frame assembled.
func (m *Metrics) RecordFrameAssembled() {
	m.AudioFramesReceived.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordDecodeCall records one decoder call's latency.
func (m *Metrics) RecordDecodeCall(provider string, latencySeconds float64) {
	m.DecodeLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordDecodeError records a decode error by apperr.Kind string.
func (m *Metrics) RecordDecodeError(kind string) {
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

// RecordProtocolError records a protocol-level error surfaced to a client.
func (m *Metrics) RecordProtocolError(kind string) {
	m.ProtocolErrors.WithLabelValues(kind).Inc()
}
