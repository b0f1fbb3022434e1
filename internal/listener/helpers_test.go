// SPDX-License-Identifier: MIT
package listener

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"kwdetect/internal/detector"
	"kwdetect/internal/metrics"
	"kwdetect/internal/params"
)

const testFrameLength = 4

// fakeEngine records the first sample of every frame it is given and
// returns the index scripted for that sample, or -1.
type fakeEngine struct {
	mu        sync.Mutex
	matches   map[int16]int
	seen      []int16
	deletes   int
	processed int
}

func (e *fakeEngine) Process(pcm []int16) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deletes > 0 {
		return detector.NoMatch, errors.New("process after delete")
	}
	e.processed++
	e.seen = append(e.seen, pcm[0])
	if idx, ok := e.matches[pcm[0]]; ok {
		return idx, nil
	}
	return detector.NoMatch, nil
}

func (e *fakeEngine) FrameLength() int { return testFrameLength }
func (e *fakeEngine) SampleRate() int  { return 16000 }

func (e *fakeEngine) Delete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletes++
	return nil
}

func (e *fakeEngine) Seen() []int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int16(nil), e.seen...)
}

func (e *fakeEngine) Processed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

func (e *fakeEngine) Deletes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deletes
}

// fakeFactory hands out fakeEngines and counts creations.
type fakeFactory struct {
	mu      sync.Mutex
	matches map[int16]int
	err     error
	engines []*fakeEngine
	keys    []string
	paths   [][]string
}

func (f *fakeFactory) New(accessKey string, keywordPaths []string) (detector.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, accessKey)
	f.paths = append(f.paths, keywordPaths)
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{matches: f.matches}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *fakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) Last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// fakeProducers returns counts[i] on the i-th poll, repeating the last value.
type fakeProducers struct {
	mu     sync.Mutex
	counts []int
	polls  int
}

func (p *fakeProducers) Publishers(string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.polls
	p.polls++
	if i >= len(p.counts) {
		i = len(p.counts) - 1
	}
	return p.counts[i]
}

func producers(counts ...int) *fakeProducers {
	return &fakeProducers{counts: counts}
}

// fakeClock advances instantly whenever the handshake waits.
type fakeClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	waits int
}

func newFakeClock() *fakeClock {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeClock{start: t, now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits++
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// recordingSink collects published detections.
type recordingSink struct {
	mu     sync.Mutex
	events []DetectionEvent
}

func (s *recordingSink) PublishDetection(e DetectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DetectionEvent(nil), s.events...)
}

type fixture struct {
	listener *Listener
	factory  *fakeFactory
	sink     *recordingSink
	params   *params.Store
	clock    *fakeClock
	metrics  *metrics.Metrics
}

var testModels = []detector.KeywordModel{
	{Name: "hey-robot", Path: "/models/hey-robot.ppn"},
	{Name: "stop-robot", Path: "/models/stop-robot.ppn"},
}

func newFixture(t *testing.T, prod ProducerCounter, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		factory: &fakeFactory{matches: map[int16]int{}},
		sink:    &recordingSink{},
		params:  params.NewStore(),
		clock:   newFakeClock(),
		metrics: metrics.NewUnregistered(),
	}
	opts.AudioTopic = "audio"
	opts.FrameLengthParam = "frame_length"
	opts.RecordingParam = "recording"
	if opts.TakeTimeout == 0 {
		opts.TakeTimeout = 20 * time.Millisecond
	}
	if opts.IdleTick == 0 {
		opts.IdleTick = 5 * time.Millisecond
	}

	l, err := New(opts, Deps{
		Producers: prod,
		Params:    f.params,
		Factory:   f.factory.New,
		Sink:      f.sink,
		Metrics:   f.metrics,
		Clock:     f.clock,
	}, "test-key", testModels)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.listener = l
	t.Cleanup(func() { l.Close() })
	return f
}

// pcmFrame encodes testFrameLength samples whose first sample is tag.
func pcmFrame(tag int16) []byte {
	data := make([]byte, 2*testFrameLength)
	binary.LittleEndian.PutUint16(data, uint16(tag))
	return data
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
