// SPDX-License-Identifier: MIT
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Frame is one fixed-length slice of raw PCM audio as it arrived from the
// transport. Ownership passes to the buffer on Put and to the processing
// loop on Take.
type Frame struct {
	Data    []byte
	Seq     uint64    // Arrival sequence number.
	Arrived time.Time // Arrival time.
	Session uint64    // Generation of the session the frame was captured in.
}

// DropPolicy decides which frame is lost when the buffer is full.
type DropPolicy int

const (
	// DropNewest rejects the incoming frame and keeps queued frames intact.
	DropNewest DropPolicy = iota
	// DropOldest evicts the oldest queued frame to make room.
	DropOldest
)

func (p DropPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParseDropPolicy converts a configuration value into a DropPolicy.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case "", "drop-newest":
		return DropNewest, nil
	case "drop-oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// FrameBuffer is a bounded FIFO hand-off between the audio delivery path and
// the processing loop. Put never blocks; Take blocks up to a timeout.
type FrameBuffer struct {
	frames chan Frame
	policy DropPolicy
	mu     sync.Mutex // serializes evictions under DropOldest

	// OnDrop, when set, is called with every frame the buffer loses.
	OnDrop func(Frame)
}

// NewFrameBuffer creates a buffer holding at most capacity frames.
// A capacity below 1 is raised to 1.
func NewFrameBuffer(capacity int, policy DropPolicy) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		frames: make(chan Frame, capacity),
		policy: policy,
	}
}

// Put enqueues f without blocking and reports whether f was accepted.
func (b *FrameBuffer) Put(f Frame) bool {
	select {
	case b.frames <- f:
		return true
	default:
	}

	if b.policy == DropNewest {
		b.dropped(f)
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		select {
		case b.frames <- f:
			return true
		default:
		}
		select {
		case old := <-b.frames:
			b.dropped(old)
		default:
		}
	}
}

func (b *FrameBuffer) dropped(f Frame) {
	if b.OnDrop != nil {
		b.OnDrop(f)
	}
}

// Take returns the oldest queued frame, waiting up to timeout for one to
// arrive. It returns false on timeout or when ctx is done.
func (b *FrameBuffer) Take(ctx context.Context, timeout time.Duration) (Frame, bool) {
	select {
	case f := <-b.frames:
		return f, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-b.frames:
		return f, true
	case <-timer.C:
		return Frame{}, false
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Drain discards every queued frame and returns how many were removed.
func (b *FrameBuffer) Drain() int {
	n := 0
	for {
		select {
		case <-b.frames:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (b *FrameBuffer) Len() int { return len(b.frames) }

// Cap returns the buffer capacity.
func (b *FrameBuffer) Cap() int { return cap(b.frames) }

// Policy returns the overflow policy.
func (b *FrameBuffer) Policy() DropPolicy { return b.policy }
