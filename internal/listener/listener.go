// SPDX-License-Identifier: MIT
/*
Package listener implements the keyword detection control loop.

Audio frames arrive on the transport's delivery path (HandleAudio), are
handed through a bounded FrameBuffer to a single processing loop (Run) and
classified by the detection engine of the live session. Start and stop
commands (HandleCommand) drive the state machine that owns the session.

Concurrency:
- Only transition methods write the listening state and the session.
- The audio path and the processing loop only read them.
- The engine is never used after its session is released.
*/
package listener

import (
	"fmt"
	"sync/atomic"
	"time"

	"kwdetect/internal/detector"
	applog "kwdetect/internal/log"
	"kwdetect/internal/metrics"
)

// ProducerCounter reports how many audio producers are connected to a topic.
type ProducerCounter interface {
	Publishers(topic string) int
}

// ParamSource is the read-only, best-effort view of shared parameters.
type ParamSource interface {
	Int(key string) (int, bool)
	Bool(key string) (bool, bool)
}

// EventSink receives detection events.
type EventSink interface {
	PublishDetection(DetectionEvent) error
}

// Options configures a Listener. Zero durations and sizes fall back to the
// node defaults.
type Options struct {
	AudioTopic         string
	FrameLengthParam   string
	RecordingParam     string
	DefaultFrameLength int

	HandshakeTimeout  time.Duration
	HandshakeInterval time.Duration

	BufferCapacity int
	DropPolicy     DropPolicy
	TakeTimeout    time.Duration
	IdleTick       time.Duration

	StartCommand string
	StopCommand  string
	Action       string
}

func (o *Options) applyDefaults() {
	if o.DefaultFrameLength <= 0 {
		o.DefaultFrameLength = 512
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.HandshakeInterval <= 0 {
		o.HandshakeInterval = 500 * time.Millisecond
	}
	if o.BufferCapacity < 1 {
		o.BufferCapacity = 2
	}
	if o.TakeTimeout <= 0 {
		o.TakeTimeout = time.Second
	}
	if o.IdleTick <= 0 {
		o.IdleTick = 500 * time.Millisecond
	}
	if o.StartCommand == "" {
		o.StartCommand = "e_start"
	}
	if o.StopCommand == "" {
		o.StopCommand = "e_stop"
	}
	if o.Action == "" {
		o.Action = "e_record"
	}
}

// Deps are the collaborators a Listener is wired to.
type Deps struct {
	Producers ProducerCounter
	Params    ParamSource
	Factory   detector.Factory
	Sink      EventSink
	Metrics   *metrics.Metrics
	Clock     Clock // Defaults to RealClock.
}

// Listener is the keyword detection node core.
type Listener struct {
	opts    Options
	sm      *StateMachine
	buffer  *FrameBuffer
	sink    EventSink
	metrics *metrics.Metrics
	log     *applog.Logger

	seq atomic.Uint64
}

// New wires a Listener. accessKey and models are loaded once at startup and
// reused for every session.
func New(opts Options, deps Deps, accessKey string, models []detector.KeywordModel) (*Listener, error) {
	if deps.Producers == nil || deps.Params == nil || deps.Factory == nil || deps.Sink == nil {
		return nil, fmt.Errorf("listener: producers, params, factory and sink are required")
	}
	opts.applyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewUnregistered()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock
	}

	buffer := NewFrameBuffer(opts.BufferCapacity, opts.DropPolicy)
	buffer.OnDrop = func(Frame) { deps.Metrics.FramesDropped.Inc() }

	l := &Listener{
		opts:    opts,
		buffer:  buffer,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		log:     applog.With("Listener"),
	}
	l.sm = newStateMachine(opts, deps, buffer, accessKey, models)
	return l, nil
}

// StateMachine returns the listening state machine.
func (l *Listener) StateMachine() *StateMachine { return l.sm }

// Buffer returns the frame buffer between ingest and processing.
func (l *Listener) Buffer() *FrameBuffer { return l.buffer }

// Close releases any live session. The terminal state is Idle.
func (l *Listener) Close() error {
	return l.sm.Stop()
}
