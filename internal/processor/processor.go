// Package processor bridges call media to the external speech services:
// inbound audio is chunked and transcribed into the session transcript,
// synthesized speech is paced back out over the call's RTP leg.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chtugha/voicebridge/internal/audio"
	"github.com/chtugha/voicebridge/internal/database"
	"github.com/chtugha/voicebridge/internal/media"
	"github.com/chtugha/voicebridge/internal/sip"
)

// Transcriber converts audio to text. Samples are normalized floats at the
// given rate.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float64, sampleRate int) (string, error)
}

// Synthesizer converts text to audio, returning normalized samples and
// their sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float64, int, error)
}

// speechSampleRate is what the external speech engines consume and produce.
const speechSampleRate = 16000

// Service consumes session lifecycle events and media frames. Audio from a
// session is processed only between its SessionEstablished and SessionEnded
// events; frames outside that window are dropped to null. The drop keeps a
// misbehaving or half-open call from backing up the shared channels.
type Service struct {
	transport *media.Transport
	chunker   *audio.Chunker
	store     database.SessionRepository
	stt       Transcriber
	tts       Synthesizer
	events    <-chan sip.Event
	logger    *slog.Logger

	// threshold and speed tune the word splitter applied to each
	// utterance before it is handed to the transcriber.
	threshold float64
	speed     int

	mu     sync.Mutex
	active map[string]bool

	framesDropped atomic.Uint64
	transcribed   atomic.Uint64
}

// New creates the audio processor service. threshold is the voice energy
// threshold and speed the word splitter policy, 1 (slow) to 5 (fast).
func New(transport *media.Transport, chunker *audio.Chunker, store database.SessionRepository, stt Transcriber, tts Synthesizer, events <-chan sip.Event, threshold float64, speed int, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = audio.DefaultVADThreshold
	}
	return &Service{
		transport: transport,
		chunker:   chunker,
		store:     store,
		stt:       stt,
		tts:       tts,
		events:    events,
		logger:    logger.With("subsystem", "processor"),
		threshold: threshold,
		speed:     speed,
		active:    make(map[string]bool),
	}
}

// FramesDropped returns frames discarded for inactive sessions.
func (s *Service) FramesDropped() uint64 { return s.framesDropped.Load() }

// Transcribed returns the number of chunks sent through the transcriber.
func (s *Service) Transcribed() uint64 { return s.transcribed.Load() }

// Run drives all processing loops until the context ends.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); s.eventLoop(ctx) }()
	go func() { defer wg.Done(); s.frameLoop(ctx) }()
	go func() { defer wg.Done(); s.digitLoop(ctx) }()
	go func() { defer wg.Done(); s.chunkLoop(ctx) }()
	wg.Wait()
}

func (s *Service) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.Type {
			case sip.SessionEstablished:
				s.setActive(ev.Session.ID, true)
				s.logger.Info("processing started", "session_id", ev.Session.ID, "caller", ev.Session.CallerPhone)
			case sip.SessionEnded:
				s.setActive(ev.Session.ID, false)
				s.chunker.Flush(ev.Session.ID)
				s.logger.Info("processing stopped", "session_id", ev.Session.ID)
			}
		}
	}
}

func (s *Service) frameLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.transport.Frames():
			if !s.isActive(frame.SessionID) {
				s.framesDropped.Add(1)
				continue
			}
			samples, err := decodePayload(frame.PayloadType, frame.Payload)
			if err != nil {
				s.logger.Debug("undecodable frame", "session_id", frame.SessionID, "payload_type", frame.PayloadType)
				continue
			}
			s.chunker.Feed(frame.SessionID, samples)
		}
	}
}

func (s *Service) digitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.transport.Digits():
			if !s.isActive(d.SessionID) {
				continue
			}
			s.logger.Info("dtmf digit", "session_id", d.SessionID, "digit", string(d.Digit))
			s.appendTranscript(d.SessionID, fmt.Sprintf("[keypad %c]", d.Digit))
		}
	}
}

func (s *Service) chunkLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-s.chunker.Chunks():
			s.transcribeChunk(ctx, chunk)
		}
	}
}

func (s *Service) transcribeChunk(ctx context.Context, chunk audio.Chunk) {
	// Split the utterance at word boundaries so partial text lands in the
	// transcript sooner. Pieces with no voice energy are skipped; they are
	// the silence gap that completed the utterance, or flush padding.
	for _, piece := range audio.SplitWords(chunk.Samples, s.threshold/2, s.speed) {
		if audio.RMS(piece) <= s.threshold/2 {
			continue
		}
		s.transcribePiece(ctx, chunk.SessionID, piece)
	}
}

func (s *Service) transcribePiece(ctx context.Context, sessionID string, piece []float64) {
	// Telephony audio is 8 kHz; the transcriber wants 16 kHz.
	samples := audio.Upsample8to16(piece)

	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	text, err := s.stt.Transcribe(tctx, samples, speechSampleRate)
	if err != nil {
		s.logger.Error("transcription failed", "session_id", sessionID, "error", err)
		return
	}
	s.transcribed.Add(1)
	if text == "" {
		return
	}
	s.logger.Debug("piece transcribed",
		"session_id", sessionID,
		"samples", len(piece),
		"chars", len(text),
	)
	s.appendTranscript(sessionID, text)
}

// Speak synthesizes text and streams it to the session's RTP endpoint as
// paced G.711 frames.
func (s *Service) Speak(ctx context.Context, sessionID, text string) error {
	if !s.isActive(sessionID) {
		return fmt.Errorf("session %s is not active", sessionID)
	}
	ep, ok := s.transport.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("session %s has no media endpoint", sessionID)
	}

	samples, rate, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesizing speech: %w", err)
	}
	if rate == speechSampleRate {
		samples = audio.Downsample16to8(samples)
	} else if rate != 8000 {
		return fmt.Errorf("unsupported synthesis sample rate %d", rate)
	}

	for off := 0; off < len(samples); off += media.SamplesPerFrame {
		end := off + media.SamplesPerFrame
		if end > len(samples) {
			// Pad the tail to a full frame.
			padded := make([]float64, media.SamplesPerFrame)
			copy(padded, samples[off:])
			ep.EnqueueAudio(audio.EncodeUlaw(padded))
			break
		}
		ep.EnqueueAudio(audio.EncodeUlaw(samples[off:end]))
	}
	return nil
}

func (s *Service) appendTranscript(sessionID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendTranscript(ctx, sessionID, text); err != nil {
		s.logger.Error("appending transcript failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) setActive(sessionID string, active bool) {
	s.mu.Lock()
	if active {
		s.active[sessionID] = true
	} else {
		delete(s.active, sessionID)
	}
	s.mu.Unlock()
}

func (s *Service) isActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[sessionID]
}

func decodePayload(payloadType uint8, payload []byte) ([]float64, error) {
	switch payloadType {
	case media.PayloadTypePCMU:
		return audio.DecodeFrame(audio.FormatUlaw, payload)
	case media.PayloadTypePCMA:
		return audio.DecodeFrame(audio.FormatAlaw, payload)
	default:
		return nil, fmt.Errorf("unsupported payload type %d", payloadType)
	}
}
