// SPDX-License-Identifier: MIT
package listener

import (
	"sync"
	"time"

	"kwdetect/internal/detector"
)

// Session is the live state between a successful start and the following
// stop. It exclusively owns the detection engine.
type Session struct {
	ID          string
	FrameLength int
	SampleRate  int
	StartedAt   time.Time

	generation uint64
	models     []detector.KeywordModel
	engine     detector.Engine
	pcm        []int16 // reused by the processing loop
	once       sync.Once
}

// SessionInfo is an immutable snapshot of a Session.
type SessionInfo struct {
	ID          string
	FrameLength int
	SampleRate  int
	StartedAt   time.Time
	Keywords    []string
}

func newSession(generation uint64, id string, engine detector.Engine, models []detector.KeywordModel) *Session {
	return &Session{
		ID:          id,
		FrameLength: engine.FrameLength(),
		SampleRate:  engine.SampleRate(),
		StartedAt:   time.Now(),
		generation:  generation,
		models:      models,
		engine:      engine,
		pcm:         make([]int16, engine.FrameLength()),
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	keywords := make([]string, len(s.models))
	for i, m := range s.models {
		keywords[i] = m.Name
	}
	return SessionInfo{
		ID:          s.ID,
		FrameLength: s.FrameLength,
		SampleRate:  s.SampleRate,
		StartedAt:   s.StartedAt,
		Keywords:    keywords,
	}
}

// keyword maps an engine index to the model name.
func (s *Session) keyword(index int) string {
	if index < 0 || index >= len(s.models) {
		return ""
	}
	return s.models[index].Name
}

// release deletes the engine exactly once.
func (s *Session) release() error {
	var err error
	s.once.Do(func() {
		err = s.engine.Delete()
		s.engine = nil
	})
	return err
}
