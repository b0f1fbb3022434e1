// SPDX-License-Identifier: MIT
package listener

import (
	"context"
	"encoding/binary"
	"time"
)

// Run is the processing loop. While Listening it takes frames from the buffer
// and classifies them; while Idle it re-checks the state at the idle tick.
// It returns when ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Infof("Processing loop started")
	defer l.log.Infof("Processing loop stopped")

	idle := time.NewTicker(l.opts.IdleTick)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.sm.State() == Listening {
			frame, ok := l.buffer.Take(ctx, l.opts.TakeTimeout)
			if !ok {
				continue
			}
			l.process(frame)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
	}
}

// process classifies one frame with the session it was captured in. Frames
// left over from an earlier session are skipped.
func (l *Listener) process(frame Frame) {
	var (
		event    DetectionEvent
		detected bool
	)

	live := l.sm.withSession(func(s *Session) {
		if s.generation != frame.Session {
			l.log.Debugf("skipping frame %d from a previous session", frame.Seq)
			return
		}
		if len(frame.Data) != 2*s.FrameLength {
			l.metrics.FramesMalformed.Inc()
			l.log.Warnf("Skipping frame %d: %d bytes, expected %d samples", frame.Seq, len(frame.Data), s.FrameLength)
			return
		}

		for i := range s.pcm {
			s.pcm[i] = int16(binary.LittleEndian.Uint16(frame.Data[2*i:]))
		}

		start := time.Now()
		index, err := s.engine.Process(s.pcm)
		l.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
		l.metrics.FramesProcessed.Inc()
		if err != nil {
			l.log.Errorf("Detection engine failed on frame %d: %v", frame.Seq, err)
			return
		}
		if index < 0 {
			return
		}

		detected = true
		event = DetectionEvent{
			KeywordIndex: index,
			Keyword:      s.keyword(index),
			Action:       l.opts.Action,
			SessionID:    s.ID,
			FrameSeq:     frame.Seq,
			Timestamp:    time.Now(),
		}
	})
	if !live || !detected {
		return
	}

	l.metrics.Detections.WithLabelValues(event.Keyword).Inc()
	l.log.Infof("Keyword %d (%s) detected", event.KeywordIndex, event.Keyword)
	if err := l.sink.PublishDetection(event); err != nil {
		l.log.Errorf("Failed to publish detection: %v", err)
	}
}
