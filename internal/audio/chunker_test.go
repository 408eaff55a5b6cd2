package audio

import (
	"log/slog"
	"testing"
	"time"
)

func testChunker(cfg ChunkerConfig) *Chunker {
	return NewChunker(cfg, slog.New(slog.DiscardHandler))
}

// feedFrames feeds n 20 ms frames for the session.
func feedFrames(c *Chunker, session string, n int, voiced bool) {
	var frame []float64
	if voiced {
		frame = sine(160, 0.5)
	} else {
		frame = make([]float64, 160)
	}
	for i := 0; i < n; i++ {
		c.Feed(session, frame)
	}
}

func TestChunkerEmitsAfterSilence(t *testing.T) {
	c := testChunker(ChunkerConfig{
		MinLen:     time.Second,
		SilenceLen: 500 * time.Millisecond,
		MaxLen:     10 * time.Second,
	})

	// 1.5 s of speech then 500 ms of silence crosses both thresholds.
	feedFrames(c, "s1", 75, true)
	select {
	case chunk := <-c.Chunks():
		t.Fatalf("chunk emitted before silence: %v", chunk.Duration)
	default:
	}
	feedFrames(c, "s1", 25, false)

	select {
	case chunk := <-c.Chunks():
		if chunk.SessionID != "s1" {
			t.Errorf("SessionID = %q, want s1", chunk.SessionID)
		}
		if chunk.Duration != 2*time.Second {
			t.Errorf("Duration = %v, want 2s", chunk.Duration)
		}
	default:
		t.Fatal("no chunk emitted")
	}
}

func TestChunkerShortSpeechWaitsForMin(t *testing.T) {
	c := testChunker(ChunkerConfig{
		MinLen:     time.Second,
		SilenceLen: 500 * time.Millisecond,
		MaxLen:     10 * time.Second,
	})

	// 200 ms speech + long silence: under MinLen, nothing emits until more
	// speech arrives and the buffer crosses the minimum.
	feedFrames(c, "s1", 10, true)
	feedFrames(c, "s1", 25, false)
	select {
	case <-c.Chunks():
		t.Fatal("chunk emitted below minimum length")
	default:
	}
}

func TestChunkerMaxLenForcesEmit(t *testing.T) {
	c := testChunker(ChunkerConfig{
		MinLen:     time.Second,
		SilenceLen: 500 * time.Millisecond,
		MaxLen:     2 * time.Second,
	})

	// Continuous speech, no silence: the hard cap emits anyway.
	feedFrames(c, "s1", 100, true)

	select {
	case chunk := <-c.Chunks():
		if chunk.Duration != 2*time.Second {
			t.Errorf("Duration = %v, want 2s", chunk.Duration)
		}
	default:
		t.Fatal("no chunk emitted at MaxLen")
	}
}

func TestChunkerDiscardsLeadingSilence(t *testing.T) {
	c := testChunker(ChunkerConfig{MaxLen: 2 * time.Second})

	feedFrames(c, "s1", 500, false)
	select {
	case <-c.Chunks():
		t.Fatal("silence-only input emitted a chunk")
	default:
	}
	if c.Emitted() != 0 {
		t.Errorf("Emitted() = %d, want 0", c.Emitted())
	}
}

func TestChunkerFlushPadsToMin(t *testing.T) {
	c := testChunker(ChunkerConfig{
		MinLen:     time.Second,
		SilenceLen: 500 * time.Millisecond,
		MaxLen:     10 * time.Second,
	})

	feedFrames(c, "s1", 10, true) // 200 ms
	c.Flush("s1")

	select {
	case chunk := <-c.Chunks():
		if chunk.Duration != time.Second {
			t.Errorf("flushed Duration = %v, want padded 1s", chunk.Duration)
		}
	default:
		t.Fatal("Flush emitted nothing")
	}

	// Flushing again is a no-op.
	c.Flush("s1")
	select {
	case <-c.Chunks():
		t.Error("second Flush emitted a chunk")
	default:
	}
}

func TestChunkerSweepDropsIdle(t *testing.T) {
	c := testChunker(ChunkerConfig{})

	feedFrames(c, "s1", 10, true)
	c.mu.Lock()
	c.sessions["s1"].lastFrame = time.Now().Add(-6 * time.Minute)
	c.mu.Unlock()

	c.sweep()

	c.mu.Lock()
	_, ok := c.sessions["s1"]
	c.mu.Unlock()
	if ok {
		t.Error("idle session survived sweep")
	}
}

func TestSplitWords(t *testing.T) {
	// Three bursts of speech separated by silent windows.
	var samples []float64
	for i := 0; i < 3; i++ {
		samples = append(samples, sine(wordWindow*4, 0.5)...)
		samples = append(samples, make([]float64, wordWindow)...)
	}

	chunks := SplitWords(samples, 0.01, 5)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	var total int
	for _, ch := range chunks {
		total += len(ch)
	}
	if total != len(samples) {
		t.Errorf("chunks cover %d samples, want %d", total, len(samples))
	}
}

func TestSplitWordsSlowSpeedMergesSmallPieces(t *testing.T) {
	var samples []float64
	for i := 0; i < 3; i++ {
		samples = append(samples, sine(wordWindow*2, 0.5)...)
		samples = append(samples, make([]float64, wordWindow)...)
	}

	// Speed 1 requires pieces of at least 5 windows, so the 3-window bursts
	// merge into fewer chunks than at speed 5.
	slow := SplitWords(samples, 0.01, 1)
	fast := SplitWords(samples, 0.01, 5)
	if len(slow) >= len(fast) {
		t.Errorf("speed 1 produced %d chunks, speed 5 produced %d; want fewer at speed 1", len(slow), len(fast))
	}
}
