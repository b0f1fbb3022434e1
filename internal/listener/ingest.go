// SPDX-License-Identifier: MIT
package listener

import "time"

// HandleAudio is called on the transport's delivery path for every inbound
// audio payload. While Idle the payload is discarded before it reaches the
// buffer. It never blocks.
func (l *Listener) HandleAudio(payload []byte) {
	generation := l.sm.liveGeneration()
	if generation == 0 {
		l.metrics.FramesDiscarded.Inc()
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	frame := Frame{
		Data:    data,
		Seq:     l.seq.Add(1),
		Arrived: time.Now(),
		Session: generation,
	}
	if l.buffer.Put(frame) {
		l.metrics.FramesEnqueued.Inc()
	}
}
