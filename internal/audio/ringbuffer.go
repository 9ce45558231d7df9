package audio

import (
	"context"
	"sync"

	"github.com/airtap-go/airplay2/internal/apperr"
)

// RingBuffer is a fixed-capacity byte ring sized for roughly 500ms of the
// negotiated format (spec.md §4.7). The producer blocks when full (it
// never drops audio); the consumer (the RTP sender's pacing tick) never
// blocks — a short Read just means the buffer was near-empty at that
// tick, which the caller turns into silence plus an underrun count.
type RingBuffer struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond

	buf        []byte
	readIndex  int
	writeIndex int
	count      int // bytes currently buffered

	closed bool
}

// NewRingBuffer allocates a ring buffer of the given byte capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	rb := &RingBuffer{buf: make([]byte, capacity)}
	rb.notEmpty.L = &rb.mu
	rb.notFull.L = &rb.mu
	return rb
}

// Available returns the number of bytes currently buffered.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of bytes of free space remaining.
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.count
}

// Write blocks until all of data has been copied into the ring buffer,
// or until ctx is canceled or the buffer is closed.
func (rb *RingBuffer) Write(ctx context.Context, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		rb.mu.Lock()
		for !rb.closed && len(rb.buf)-rb.count == 0 {
			if !rb.waitOrCancel(ctx, &rb.notFull) {
				rb.mu.Unlock()
				return written, ctx.Err()
			}
		}
		if rb.closed {
			rb.mu.Unlock()
			return written, apperr.ErrRingBufferClosed
		}

		free := len(rb.buf) - rb.count
		n := len(data) - written
		if n > free {
			n = free
		}
		for i := 0; i < n; i++ {
			rb.buf[rb.writeIndex] = data[written+i]
			rb.writeIndex = (rb.writeIndex + 1) % len(rb.buf)
		}
		rb.count += n
		written += n

		rb.notEmpty.Broadcast()
		rb.mu.Unlock()
	}
	return written, nil
}

// waitOrCancel waits on cond, returning false if ctx is done. Go's
// sync.Cond has no context-aware wait, so cancellation is checked by a
// watcher goroutine that broadcasts when ctx finishes.
func (rb *RingBuffer) waitOrCancel(ctx context.Context, cond *sync.Cond) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rb.mu.Lock()
		cond.Broadcast()
		rb.mu.Unlock()
		close(done)
	})
	defer stop()
	cond.Wait()
	return ctx.Err() == nil
}

// Read copies up to len(p) buffered bytes into p without blocking. A
// short read (n < len(p)) simply means fewer bytes were available; it is
// not an error and does not signal end-of-stream.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.count {
		n = rb.count
	}
	for i := 0; i < n; i++ {
		p[i] = rb.buf[rb.readIndex]
		rb.readIndex = (rb.readIndex + 1) % len(rb.buf)
	}
	rb.count -= n
	if n > 0 {
		rb.notFull.Broadcast()
	}
	return n, nil
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
func (rb *RingBuffer) Peek(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.count {
		n = rb.count
	}
	idx := rb.readIndex
	for i := 0; i < n; i++ {
		p[i] = rb.buf[idx]
		idx = (idx + 1) % len(rb.buf)
	}
	return n
}

// Clear discards any buffered bytes, resetting the ring to empty. Used on
// seek, where the producer refills from the new position (spec.md §8 S4).
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readIndex = 0
	rb.writeIndex = 0
	rb.count = 0
	rb.notFull.Broadcast()
}

// Close unblocks any pending Write and marks the buffer closed.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notFull.Broadcast()
	rb.notEmpty.Broadcast()
}
