// SPDX-License-Identifier: MIT
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"kwdetect/internal/detector"
	applog "kwdetect/internal/log"
	"kwdetect/internal/metrics"
)

// State is the listening state of the node.
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNoProducer means no audio producer connected within the handshake timeout.
	ErrNoProducer = errors.New("no audio producer connected")
	// ErrEngineCreate means the detection engine could not be created.
	ErrEngineCreate = errors.New("failed to create detection engine")
)

// StateMachine owns the Idle/Listening state and the live session.
//
// Start and Stop are serialized; they are the only writers. live holds the
// generation of the current session, or zero while Idle, so readers get the
// state and the session identity from a single atomic load.
type StateMachine struct {
	opts      Options
	producers ProducerCounter
	params    ParamSource
	factory   detector.Factory
	clock     Clock
	buffer    *FrameBuffer
	metrics   *metrics.Metrics
	log       *applog.Logger

	accessKey string
	models    []detector.KeywordModel

	transition sync.Mutex
	live       atomic.Uint64
	generation uint64 // guarded by transition

	mu      sync.RWMutex // engine use (read) vs release (write)
	session *Session
}

func newStateMachine(opts Options, deps Deps, buffer *FrameBuffer, accessKey string, models []detector.KeywordModel) *StateMachine {
	return &StateMachine{
		opts:      opts,
		producers: deps.Producers,
		params:    deps.Params,
		factory:   deps.Factory,
		clock:     deps.Clock,
		buffer:    buffer,
		metrics:   deps.Metrics,
		log:       applog.With("StateMachine"),
		accessKey: accessKey,
		models:    models,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	if m.live.Load() == 0 {
		return Idle
	}
	return Listening
}

// Session returns a snapshot of the live session, or false while Idle.
func (m *StateMachine) Session() (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return SessionInfo{}, false
	}
	return m.session.Info(), true
}

// liveGeneration is read by the audio path on every frame.
func (m *StateMachine) liveGeneration() uint64 {
	return m.live.Load()
}

// Start transitions Idle to Listening. It waits for an audio producer,
// resolves the frame length and creates the engine. Starting while already
// Listening does nothing. On error the machine stays Idle with no engine.
func (m *StateMachine) Start(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if m.State() == Listening {
		m.log.Debugf("start ignored, already listening")
		return nil
	}

	if err := m.waitForProducer(ctx); err != nil {
		if errors.Is(err, ErrNoProducer) {
			m.metrics.HandshakeFailures.Inc()
			m.log.Errorf("No audio producer detected on %s, did you launch it?", m.opts.AudioTopic)
		}
		return err
	}

	if recording, ok := m.params.Bool(m.opts.RecordingParam); !ok {
		m.log.Warnf("Recording status %s not set", m.opts.RecordingParam)
	} else if !recording {
		m.log.Warnf("Audio producer is not recording")
	}

	frameLength, ok := m.params.Int(m.opts.FrameLengthParam)
	if !ok || frameLength <= 0 {
		frameLength = m.opts.DefaultFrameLength
		m.log.Warnf("Frame length not set. Using default value of %d", frameLength)
	}

	engine, err := m.factory(m.accessKey, detector.Paths(m.models))
	if err != nil {
		m.metrics.EngineFailures.Inc()
		m.log.Errorf("Failed to create detection engine: %v", err)
		return fmt.Errorf("%w: %w", ErrEngineCreate, err)
	}

	if engine.FrameLength() != frameLength {
		m.log.Warnf("Producer frame length %d differs from engine frame length %d", frameLength, engine.FrameLength())
	}

	m.generation++
	session := newSession(m.generation, uuid.NewString(), engine, m.models)

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.buffer.Drain()
	m.live.Store(session.generation)
	m.metrics.SessionsStarted.Inc()
	m.metrics.Listening.Set(1)

	m.log.Infof("Listening for keyword (sample_rate: %d, frame_len: %d, buffer: %s, session: %s)",
		session.SampleRate, session.FrameLength, m.buffer.Policy(), session.ID)
	return nil
}

// Stop transitions Listening to Idle. The state flips before the engine is
// released so the audio path stops enqueueing immediately; release waits for
// an in-flight Process call to finish. Stopping while Idle does nothing.
func (m *StateMachine) Stop() error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if m.State() == Idle {
		m.log.Debugf("stop ignored, already idle")
		return nil
	}

	m.live.Store(0)
	m.metrics.Listening.Set(0)

	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	discarded := m.buffer.Drain()

	err := session.release()
	if err != nil {
		m.log.Errorf("Failed to release detection engine: %v", err)
	}
	m.log.Infof("Stopped listening (session: %s, discarded frames: %d)", session.ID, discarded)
	return err
}

// withSession runs fn while holding the engine read lock, so the session
// cannot be released underneath it. It reports false while Idle.
func (m *StateMachine) withSession(fn func(*Session)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return false
	}
	fn(m.session)
	return true
}
