package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// sessionIdleTimeout is how long a session may go without audio before
	// its buffered state is swept.
	sessionIdleTimeout = 5 * time.Minute
	sweepInterval      = 30 * time.Second
)

// Chunk is one utterance worth of normalized audio ready for transcription.
type Chunk struct {
	SessionID string
	Samples   []float64
	Duration  time.Duration
}

// ChunkerConfig controls utterance boundaries.
type ChunkerConfig struct {
	SampleRate int           // samples per second of the fed audio
	MinLen     time.Duration // a chunk is never shorter than this
	SilenceLen time.Duration // trailing silence that closes an utterance
	MaxLen     time.Duration // hard cap, emits even mid-speech
	Threshold  float64       // VAD energy threshold
}

// Chunker buffers per-session audio and cuts it into utterances. A chunk is
// emitted when the buffer holds at least MinLen of audio and the caller has
// been silent for SilenceLen, or unconditionally at MaxLen. Sessions that go
// quiet for over five minutes are swept to bound memory.
type Chunker struct {
	cfg ChunkerConfig
	vad *Detector
	log *slog.Logger

	out chan Chunk

	mu       sync.Mutex
	sessions map[string]*utterance

	dropped uint64
	emitted uint64
}

type utterance struct {
	samples   []float64
	silence   int // trailing silent samples
	voiced    bool
	lastFrame time.Time
}

// NewChunker creates a chunker. Zero config fields get workable telephony
// defaults: 8 kHz, 1 s minimum, 500 ms silence, 10 s maximum.
func NewChunker(cfg ChunkerConfig, log *slog.Logger) *Chunker {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.MinLen == 0 {
		cfg.MinLen = time.Second
	}
	if cfg.SilenceLen == 0 {
		cfg.SilenceLen = 500 * time.Millisecond
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 10 * time.Second
	}
	return &Chunker{
		cfg:      cfg,
		vad:      NewDetector(cfg.Threshold),
		log:      log.With("subsystem", "chunker"),
		out:      make(chan Chunk, 32),
		sessions: make(map[string]*utterance),
	}
}

// Chunks returns the channel of emitted utterances.
func (c *Chunker) Chunks() <-chan Chunk { return c.out }

// Emitted returns the number of chunks emitted so far.
func (c *Chunker) Emitted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

// Feed appends one frame of audio to the session's buffer, emitting a chunk
// if the utterance boundary rules are met. Leading silence before any voice
// is discarded.
func (c *Chunker) Feed(sessionID string, frame []float64) {
	active := c.vad.Active(frame)

	c.mu.Lock()
	u, ok := c.sessions[sessionID]
	if !ok {
		u = &utterance{}
		c.sessions[sessionID] = u
	}
	u.lastFrame = time.Now()

	if !u.voiced && !active {
		c.mu.Unlock()
		return
	}
	u.voiced = true
	u.samples = append(u.samples, frame...)
	if active {
		u.silence = 0
	} else {
		u.silence += len(frame)
	}

	elapsed := c.samplesToDuration(len(u.samples))
	silence := c.samplesToDuration(u.silence)
	var emit *Chunk
	if (elapsed >= c.cfg.MinLen && silence >= c.cfg.SilenceLen) || elapsed >= c.cfg.MaxLen {
		emit = c.takeLocked(sessionID, u)
	}
	c.mu.Unlock()

	if emit != nil {
		c.deliver(*emit)
	}
}

// Flush emits whatever the session has buffered, padded with silence up to
// the minimum length, and forgets the session. Sessions with no voiced audio
// emit nothing.
func (c *Chunker) Flush(sessionID string) {
	c.mu.Lock()
	u, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	var emit *Chunk
	if ok && u.voiced && len(u.samples) > 0 {
		minSamples := c.durationToSamples(c.cfg.MinLen)
		for len(u.samples) < minSamples {
			u.samples = append(u.samples, 0)
		}
		emit = &Chunk{
			SessionID: sessionID,
			Samples:   u.samples,
			Duration:  c.samplesToDuration(len(u.samples)),
		}
		c.emitted++
	}
	c.mu.Unlock()

	if emit != nil {
		c.deliver(*emit)
	}
}

// takeLocked detaches the buffered utterance as a chunk and resets the
// session's buffer for the next one.
func (c *Chunker) takeLocked(sessionID string, u *utterance) *Chunk {
	samples := u.samples
	u.samples = nil
	u.silence = 0
	u.voiced = false
	c.emitted++
	return &Chunk{
		SessionID: sessionID,
		Samples:   samples,
		Duration:  c.samplesToDuration(len(samples)),
	}
}

func (c *Chunker) deliver(chunk Chunk) {
	select {
	case c.out <- chunk:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.log.Warn("chunk dropped, consumer too slow", "session_id", chunk.SessionID)
	}
}

// Run sweeps idle sessions until the context ends.
func (c *Chunker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Chunker) sweep() {
	cutoff := time.Now().Add(-sessionIdleTimeout)
	c.mu.Lock()
	for id, u := range c.sessions {
		if u.lastFrame.Before(cutoff) {
			delete(c.sessions, id)
			c.log.Info("swept idle session buffer", "session_id", id)
		}
	}
	c.mu.Unlock()
}

func (c *Chunker) samplesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(c.cfg.SampleRate)
}

func (c *Chunker) durationToSamples(d time.Duration) int {
	return int(d * time.Duration(c.cfg.SampleRate) / time.Second)
}

// wordWindow is the analysis window for word splitting: 20 ms at 8 kHz.
const wordWindow = 160

// SplitWords divides an utterance into word-sized pieces at silent windows.
// Higher speed yields smaller pieces: the minimum piece length is
// wordWindow*(6-speed) samples, with speed clamped to [1, 5].
func SplitWords(samples []float64, threshold float64, speed int) [][]float64 {
	if speed < 1 {
		speed = 1
	} else if speed > 5 {
		speed = 5
	}
	minChunk := wordWindow * (6 - speed)
	det := NewDetector(threshold)

	var out [][]float64
	start := 0
	for off := 0; off+wordWindow <= len(samples); off += wordWindow {
		if det.Active(samples[off : off+wordWindow]) {
			continue
		}
		if off+wordWindow-start >= minChunk {
			out = append(out, samples[start:off+wordWindow])
			start = off + wordWindow
		}
	}
	if start < len(samples) {
		out = append(out, samples[start:])
	}
	return out
}
