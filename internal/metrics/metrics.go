// SPDX-License-Identifier: MIT

// Package metrics exposes the node's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kwdetect"

// Metrics groups the collectors updated by the listener.
type Metrics struct {
	FramesEnqueued    prometheus.Counter
	FramesDropped     prometheus.Counter
	FramesDiscarded   prometheus.Counter
	FramesProcessed   prometheus.Counter
	FramesMalformed   prometheus.Counter
	Detections        *prometheus.CounterVec
	SessionsStarted   prometheus.Counter
	HandshakeFailures prometheus.Counter
	EngineFailures    prometheus.Counter
	Listening         prometheus.Gauge
	ProcessDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_enqueued_total",
			Help:      "Audio frames accepted into the frame buffer",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped because the frame buffer was full",
		}),
		FramesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Audio frames discarded because no session was live",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Audio frames handed to the detection engine",
		}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Audio frames skipped because their length did not match the session",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Keyword detections by keyword",
		}, []string{"keyword"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Listening sessions started",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Start attempts aborted because no audio producer connected",
		}),
		EngineFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_failures_total",
			Help:      "Start attempts aborted because the detection engine could not be created",
		}),
		Listening: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while a listening session is live",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Detection engine time per frame",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
	}

	reg.MustRegister(
		m.FramesEnqueued,
		m.FramesDropped,
		m.FramesDiscarded,
		m.FramesProcessed,
		m.FramesMalformed,
		m.Detections,
		m.SessionsStarted,
		m.HandshakeFailures,
		m.EngineFailures,
		m.Listening,
		m.ProcessDuration,
	)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
