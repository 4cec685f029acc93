// Package metrics holds the Prometheus instruments of the streaming pipeline.
//
// All recording methods are nil-receiver safe so components may be built without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storyvoice"

type Metrics struct {
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter

	SequencesStarted  *prometheus.CounterVec
	SequencesFinished *prometheus.CounterVec
	ActiveSequences   prometheus.Gauge

	ChunksEmitted           *prometheus.CounterVec
	ChunksDropped           *prometheus.CounterVec
	RemainderBytesDiscarded prometheus.Counter

	ConversionFailures *prometheus.CounterVec
	QueuedBuffers      *prometheus.GaugeVec

	TurnTransitions *prometheus.CounterVec
}

// Create all instruments and register them with reg.
// Use a fresh prometheus.NewRegistry() per pipeline in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of binary frames received from the transport",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped because of an incomplete header",
		}),
		SequencesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_started_total",
			Help:      "Total number of transfers started, by channel",
		}, []string{"channel"}),
		SequencesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_finished_total",
			Help:      "Total number of transfers completed, by channel",
		}, []string{"channel"}),
		ActiveSequences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sequences",
			Help:      "Current number of transfers being reassembled",
		}),
		ChunksEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Total number of chunks forwarded for conversion, by channel",
		}, []string{"channel"}),
		ChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total number of chunks not played, by channel and reason",
		}, []string{"channel", "reason"}),
		RemainderBytesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remainder_bytes_discarded_total",
			Help:      "Total number of trailing bytes below one chunk discarded on transfer completion",
		}),
		ConversionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_failures_total",
			Help:      "Total number of chunks that failed format conversion, by channel",
		}, []string{"channel"}),
		QueuedBuffers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_buffers",
			Help:      "Current number of converted buffers waiting for playback, by channel",
		}, []string{"channel"}),
		TurnTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Total number of turn state transitions, by destination state",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesDropped,
			m.SequencesStarted,
			m.SequencesFinished,
			m.ActiveSequences,
			m.ChunksEmitted,
			m.ChunksDropped,
			m.RemainderBytesDiscarded,
			m.ConversionFailures,
			m.QueuedBuffers,
			m.TurnTransitions,
		)
	}
	return m
}

// Chunk drop reasons.
const (
	ReasonFiller         = "filler"
	ReasonUnknownChannel = "unknown_channel"
	ReasonConversion     = "conversion"
)

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) SequenceStarted(channel string) {
	if m == nil {
		return
	}
	m.SequencesStarted.WithLabelValues(channel).Inc()
	m.ActiveSequences.Inc()
}

func (m *Metrics) SequenceFinished(channel string, remainderBytes int) {
	if m == nil {
		return
	}
	m.SequencesFinished.WithLabelValues(channel).Inc()
	m.ActiveSequences.Dec()
	if remainderBytes > 0 {
		m.RemainderBytesDiscarded.Add(float64(remainderBytes))
	}
}

// All in-flight sequences were discarded.
func (m *Metrics) SequencesCleared() {
	if m == nil {
		return
	}
	m.ActiveSequences.Set(0)
}

func (m *Metrics) ChunkEmitted(channel string) {
	if m == nil {
		return
	}
	m.ChunksEmitted.WithLabelValues(channel).Inc()
}

func (m *Metrics) ChunkDropped(channel string, reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) ConversionFailed(channel string) {
	if m == nil {
		return
	}
	m.ConversionFailures.WithLabelValues(channel).Inc()
	m.ChunksDropped.WithLabelValues(channel, ReasonConversion).Inc()
}

// Gauge of the buffers queued on one channel, resolved once so the render path
// can update it without a label lookup. Nil when m is nil.
func (m *Metrics) QueuedGauge(channel string) prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.QueuedBuffers.WithLabelValues(channel)
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.TurnTransitions.WithLabelValues(state).Inc()
}
