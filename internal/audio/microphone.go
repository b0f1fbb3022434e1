// SPDX-License-Identifier: MIT
/*
Package audio implements the in-process audio producer:
- Mono int16 capture using PortAudio
- Little-endian frames published on the bus audio topic
- Noise gate muting frames below an RMS threshold
- WAV recording of the captured stream

Thread Safety:
- Gate settings and recording state are atomic
- The capture callback reuses pre-allocated buffers except for the
  published payload, which is handed to subscribers
- Locks OS thread during audio processing
*/
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	"kwdetect/internal/bus"
	applog "kwdetect/internal/log"
	"kwdetect/internal/params"
)

// Options configures a Microphone.
type Options struct {
	DeviceID         int
	SampleRate       float64
	FrameLength      int // Samples per published frame.
	LowLatency       bool
	GateThreshold    float64 // 0 leaves the gate disabled.
	AudioTopic       string
	FrameLengthParam string
	RecordingParam   string
}

type Microphone struct {
	opts   Options
	bus    *bus.Bus
	params *params.Store
	log    *applog.Logger

	// Audio input handling.
	inputBuffer  []int16
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	publisher    *bus.Publisher

	// Noise gate for signal conditioning.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Uint64 // float64 bits, fraction of full scale
	gateScratch   []float64

	// Recording state and buffers.
	recMu       sync.Mutex
	isRecording atomic.Bool
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion

	published atomic.Uint64
	muted     atomic.Uint64
}

// NewMicrophone resolves the input device. PortAudio must be initialized.
func NewMicrophone(opts Options, b *bus.Bus, store *params.Store) (*Microphone, error) {
	if opts.FrameLength <= 0 {
		return nil, fmt.Errorf("invalid frame length: %d", opts.FrameLength)
	}
	inputDevice, err := InputDevice(opts.DeviceID)
	if err != nil {
		return nil, err
	}

	m := &Microphone{
		opts:        opts,
		bus:         b,
		params:      store,
		log:         applog.With("Microphone"),
		inputBuffer: make([]int16, opts.FrameLength),
		inputDevice: inputDevice,
		gateScratch: make([]float64, opts.FrameLength),
	}
	if opts.GateThreshold > 0 {
		m.SetGateThreshold(opts.GateThreshold)
		m.EnableGate()
	}

	if opts.LowLatency {
		m.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		m.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return m, nil
}

// StartInputStream advertises the producer, publishes the stream parameters
// and starts capture.
func (m *Microphone) StartInputStream() error {
	pub, err := m.bus.Advertise(m.opts.AudioTopic)
	if err != nil {
		return err
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   m.inputDevice,
			Latency:  m.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: m.opts.FrameLength,
		SampleRate:      m.opts.SampleRate,
	}

	stream, err := portaudio.OpenStream(streamParams, m.processInputStream)
	if err != nil {
		pub.Close()
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	m.publisher = pub
	m.inputStream = stream

	m.params.Set(m.opts.FrameLengthParam, m.opts.FrameLength)
	m.params.Set(m.opts.RecordingParam, true)

	if err := m.inputStream.Start(); err != nil {
		m.inputStream.Close()
		m.inputStream = nil
		m.params.Set(m.opts.RecordingParam, false)
		pub.Close()
		m.publisher = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	m.log.Infof("Capturing from %s at %.0f Hz, %d samples per frame",
		m.inputDevice.Name, m.opts.SampleRate, m.opts.FrameLength)
	return nil
}

// StopInputStream stops capture and withdraws the producer.
func (m *Microphone) StopInputStream() error {
	if m.inputStream != nil {
		if err := m.inputStream.Stop(); err != nil {
			return err
		}
		if err := m.inputStream.Close(); err != nil {
			return err
		}
		m.inputStream = nil
	}

	if m.publisher != nil {
		m.params.Set(m.opts.RecordingParam, false)
		m.publisher.Close()
		m.publisher = nil
		m.log.Infof("Capture stopped, %d frames published, %d muted",
			m.published.Load(), m.muted.Load())
	}
	return nil
}

// processInputStream is the PortAudio callback.
func (m *Microphone) processInputStream(in []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.handleFrame(in)
}

// handleFrame records, gates and publishes one captured buffer.
func (m *Microphone) handleFrame(in []int16) {
	n := copy(m.inputBuffer, in)
	frame := m.inputBuffer[:n]

	m.record(frame)

	if !m.gateOpen(frame) {
		clear(frame)
		m.muted.Add(1)
	}

	if m.publisher == nil {
		return
	}
	// Subscribers read the payload asynchronously, so it is never reused.
	payload := make([]byte, 2*len(frame))
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(sample))
	}
	if err := m.publisher.Publish(payload); err != nil {
		m.log.Debugf("Publish failed: %v", err)
		return
	}
	m.published.Add(1)
}

// Run captures until ctx is done. A non-empty outputFile is recorded for the
// whole run.
func (m *Microphone) Run(ctx context.Context, outputFile string) error {
	if err := m.StartInputStream(); err != nil {
		return err
	}
	if outputFile != "" {
		if err := m.StartRecording(outputFile); err != nil {
			m.StopInputStream()
			return fmt.Errorf("failed to start recording: %w", err)
		}
		m.log.Infof("Recording to %s", outputFile)
	}

	<-ctx.Done()
	return m.Close()
}

// Close stops recording and capture.
func (m *Microphone) Close() error {
	if m.isRecording.Load() {
		if err := m.StopRecording(); err != nil {
			return err
		}
	}
	return m.StopInputStream()
}
