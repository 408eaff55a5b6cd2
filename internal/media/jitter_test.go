package media

import (
	"testing"
	"time"
)

func TestJitterBufferFIFO(t *testing.T) {
	b := NewJitterBuffer[int](2, 8)

	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	if got := b.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
	for i := 0; i < 5; i++ {
		v, ok := b.Pop()
		if !ok || v != i {
			t.Errorf("Pop() = %d, %v, want %d, true", v, ok, i)
		}
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop() on empty buffer returned ok")
	}
}

func TestJitterBufferOverrunEvictsOldest(t *testing.T) {
	b := NewJitterBuffer[int](0, 3)

	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	if got := b.Overruns(); got != 2 {
		t.Errorf("Overruns() = %d, want 2", got)
	}
	// Entries 0 and 1 were evicted.
	for want := 2; want < 5; want++ {
		v, ok := b.Pop()
		if !ok || v != want {
			t.Errorf("Pop() = %d, %v, want %d, true", v, ok, want)
		}
	}
}

func TestJitterBufferPopWaitTimeout(t *testing.T) {
	b := NewJitterBuffer[int](0, 4)

	start := time.Now()
	_, ok := b.PopWait(20 * time.Millisecond)
	if ok {
		t.Fatal("PopWait on empty buffer returned ok")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("PopWait returned after %v, want >= 20ms", elapsed)
	}
	if got := b.Underruns(); got != 1 {
		t.Errorf("Underruns() = %d, want 1", got)
	}
}

func TestJitterBufferPopWaitWakes(t *testing.T) {
	b := NewJitterBuffer[int](0, 4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push(42)
	}()

	v, ok := b.PopWait(time.Second)
	if !ok || v != 42 {
		t.Fatalf("PopWait() = %d, %v, want 42, true", v, ok)
	}
	if got := b.Underruns(); got != 0 {
		t.Errorf("Underruns() = %d, want 0", got)
	}
}

func TestJitterBufferReady(t *testing.T) {
	b := NewJitterBuffer[int](3, 8)

	if b.Ready() {
		t.Error("Ready() = true on empty buffer")
	}
	b.Push(1)
	b.Push(2)
	if b.Ready() {
		t.Error("Ready() = true below low watermark")
	}
	b.Push(3)
	if !b.Ready() {
		t.Error("Ready() = false at low watermark")
	}
}
