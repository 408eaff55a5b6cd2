package main

import (
	"context"
	"time"

	"github.com/chtugha/voicebridge/internal/api"
	"github.com/chtugha/voicebridge/internal/audio"
	"github.com/chtugha/voicebridge/internal/database"
	"github.com/chtugha/voicebridge/internal/media"
	"github.com/chtugha/voicebridge/internal/metrics"
	"github.com/chtugha/voicebridge/internal/processor"
	sipengine "github.com/chtugha/voicebridge/internal/sip"
)

// lineStatusAdapter joins line names from the database with live registrar
// status for the metrics collector.
type lineStatusAdapter struct {
	lines     database.LineRepository
	registrar *sipengine.LineRegistrar
}

func (a *lineStatusAdapter) LineStatuses() []metrics.LineStatusEntry {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lines, err := a.lines.List(ctx)
	if err != nil {
		return nil
	}
	live := a.registrar.Statuses()

	out := make([]metrics.LineStatusEntry, 0, len(lines))
	for _, l := range lines {
		status := string(l.Status)
		if s, ok := live[l.ID]; ok {
			status = string(s)
		}
		out = append(out, metrics.LineStatusEntry{LineID: l.ID, Name: l.Name, Status: status})
	}
	return out
}

type rtpStatsAdapter struct {
	transport *media.Transport
}

func (a *rtpStatsAdapter) ActiveEndpointCount() int { return a.transport.ActiveCount() }
func (a *rtpStatsAdapter) PacketsReceived() uint64  { return a.transport.Stats().PacketsIn.Load() }
func (a *rtpStatsAdapter) PacketsSent() uint64      { return a.transport.Stats().PacketsOut.Load() }
func (a *rtpStatsAdapter) PacketsInvalid() uint64   { return a.transport.Stats().PacketsInvalid.Load() }
func (a *rtpStatsAdapter) FramesDropped() uint64 {
	return a.transport.Stats().FramesDropped.Load()
}
func (a *rtpStatsAdapter) JitterOverruns() uint64  { return a.transport.JitterOverruns() }
func (a *rtpStatsAdapter) JitterUnderruns() uint64 { return a.transport.JitterUnderruns() }

type chunkStatsAdapter struct {
	chunker *audio.Chunker
	proc    *processor.Service
}

func (a *chunkStatsAdapter) ChunksEmitted() uint64     { return a.chunker.Emitted() }
func (a *chunkStatsAdapter) ChunksTranscribed() uint64 { return a.proc.Transcribed() }

type callsAdapter struct {
	engine *sipengine.Engine
}

func (a *callsAdapter) ActiveCalls() []api.CallInfo {
	sessions := a.engine.Sessions().All()
	out := make([]api.CallInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, api.CallInfo{
			SessionID:   s.ID,
			CallerPhone: s.CallerPhone,
			LineID:      s.LineID,
			State:       s.State(),
			StartedAt:   s.StartedAt,
		})
	}
	return out
}
