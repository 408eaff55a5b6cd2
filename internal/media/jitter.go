package media

import (
	"sync"
	"time"
)

// JitterBuffer is a bounded FIFO with low/high watermarks used to absorb
// arrival-time variance. It smooths inbound audio and paces outbound RTP.
//
// The buffer is deliberately simple: no reordering, no adaptive delay. When
// full, Push evicts the oldest entry and counts an overrun. A timed Pop on an
// empty buffer counts an underrun. All methods are safe for concurrent use.
type JitterBuffer[T any] struct {
	mu      sync.Mutex
	entries []jitterEntry[T]
	low     int
	high    int

	overruns  uint64
	underruns uint64

	// signal wakes one waiter when an entry is pushed.
	signal chan struct{}
}

type jitterEntry[T any] struct {
	value    T
	enqueued time.Time
}

// NewJitterBuffer creates a buffer with the given watermarks. The high
// watermark is the capacity; low is the fill level at which the buffer is
// considered ready for draining.
func NewJitterBuffer[T any](low, high int) *JitterBuffer[T] {
	if high < 1 {
		high = 1
	}
	if low < 0 {
		low = 0
	}
	if low > high {
		low = high
	}
	return &JitterBuffer[T]{
		low:    low,
		high:   high,
		signal: make(chan struct{}, 1),
	}
}

// Push appends a value. If the buffer is at the high watermark, the oldest
// entry is evicted and the overrun counter incremented.
func (b *JitterBuffer[T]) Push(v T) {
	b.mu.Lock()
	if len(b.entries) >= b.high {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
		b.overruns++
	}
	b.entries = append(b.entries, jitterEntry[T]{value: v, enqueued: time.Now()})
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest entry without waiting.
func (b *JitterBuffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

// PopWait removes and returns the oldest entry, waiting up to timeout for one
// to arrive. On timeout the underrun counter is incremented and ok is false.
func (b *JitterBuffer[T]) PopWait(timeout time.Duration) (T, bool) {
	b.mu.Lock()
	if v, ok := b.popLocked(); ok {
		b.mu.Unlock()
		return v, true
	}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-b.signal:
			b.mu.Lock()
			if v, ok := b.popLocked(); ok {
				b.mu.Unlock()
				return v, true
			}
			b.mu.Unlock()
		case <-timer.C:
			b.mu.Lock()
			b.underruns++
			b.mu.Unlock()
			var zero T
			return zero, false
		}
	}
}

func (b *JitterBuffer[T]) popLocked() (T, bool) {
	if len(b.entries) == 0 {
		var zero T
		return zero, false
	}
	v := b.entries[0].value
	copy(b.entries, b.entries[1:])
	b.entries = b.entries[:len(b.entries)-1]
	return v, true
}

// Len returns the current number of buffered entries.
func (b *JitterBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Ready reports whether the buffer has reached its low watermark, i.e. it
// holds enough entries to begin draining without immediate underrun.
func (b *JitterBuffer[T]) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) >= b.low
}

// Overruns returns the number of entries evicted due to overflow.
func (b *JitterBuffer[T]) Overruns() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}

// Underruns returns the number of timed pops that found the buffer empty.
func (b *JitterBuffer[T]) Underruns() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.underruns
}
