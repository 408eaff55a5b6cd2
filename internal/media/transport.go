package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Transport owns the RTP side of all active calls: the port pool, one
// endpoint per call, and the shared inbound channels consumed by the audio
// processor.
type Transport struct {
	pool  *PortPool
	log   *slog.Logger
	stats Stats

	frames chan InboundFrame
	digits chan DTMFDigit

	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewTransport creates a transport allocating ports from [portMin, portMax]
// with the given fallback port.
func NewTransport(portMin, portMax, fallback int, log *slog.Logger) *Transport {
	return &Transport{
		pool:      NewPortPool(portMin, portMax, fallback),
		log:       log.With("subsystem", "media"),
		frames:    make(chan InboundFrame, 512),
		digits:    make(chan DTMFDigit, 64),
		endpoints: make(map[string]*Endpoint),
	}
}

// Frames returns the shared channel of inbound audio payloads.
func (t *Transport) Frames() <-chan InboundFrame { return t.frames }

// Digits returns the shared channel of deduplicated DTMF presses.
func (t *Transport) Digits() <-chan DTMFDigit { return t.digits }

// Allocate binds an RTP socket for the session and starts its loops.
func (t *Transport) Allocate(sessionID string) (*Endpoint, error) {
	conn, port, err := t.pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate rtp port: %w", err)
	}

	ep := newEndpoint(sessionID, conn, port, t.frames, t.digits, &t.stats, t.log)

	t.mu.Lock()
	if old, ok := t.endpoints[sessionID]; ok {
		t.mu.Unlock()
		ep.close()
		t.pool.Release(conn, port)
		return old, fmt.Errorf("session %s already has an endpoint", sessionID)
	}
	t.endpoints[sessionID] = ep
	t.mu.Unlock()

	t.log.Info("rtp endpoint allocated", "session_id", sessionID, "port", port)
	return ep, nil
}

// Release tears down the session's endpoint and returns its port to the pool.
func (t *Transport) Release(sessionID string) {
	t.mu.Lock()
	ep, ok := t.endpoints[sessionID]
	if ok {
		delete(t.endpoints, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	ep.close()
	t.stats.RetiredOverruns.Add(ep.out.Overruns())
	t.stats.RetiredUnderruns.Add(ep.out.Underruns())
	t.pool.Release(ep.conn, ep.port)
	t.log.Info("rtp endpoint released", "session_id", sessionID, "port", ep.port)
}

// Lookup returns the endpoint for a session, if any.
func (t *Transport) Lookup(sessionID string) (*Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[sessionID]
	return ep, ok
}

// ActiveCount returns the number of live endpoints.
func (t *Transport) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.endpoints)
}

// Stats exposes the shared packet counters.
func (t *Transport) Stats() *Stats { return &t.stats }

// JitterOverruns counts overflow evictions across all endpoint buffers,
// released ones included.
func (t *Transport) JitterOverruns() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.stats.RetiredOverruns.Load()
	for _, ep := range t.endpoints {
		n += ep.out.Overruns()
	}
	return n
}

// JitterUnderruns counts empty timed pops across all endpoint buffers,
// released ones included.
func (t *Transport) JitterUnderruns() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.stats.RetiredUnderruns.Load()
	for _, ep := range t.endpoints {
		n += ep.out.Underruns()
	}
	return n
}

// Run drives the keepalive sweep until the context is cancelled, then tears
// down any remaining endpoints.
func (t *Transport) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.closeAll()
			return
		case <-ticker.C:
			t.mu.Lock()
			eps := make([]*Endpoint, 0, len(t.endpoints))
			for _, ep := range t.endpoints {
				eps = append(eps, ep)
			}
			t.mu.Unlock()
			for _, ep := range eps {
				ep.keepalive()
			}
		}
	}
}

func (t *Transport) closeAll() {
	t.mu.Lock()
	eps := t.endpoints
	t.endpoints = make(map[string]*Endpoint)
	t.mu.Unlock()
	for _, ep := range eps {
		ep.close()
		t.stats.RetiredOverruns.Add(ep.out.Overruns())
		t.stats.RetiredUnderruns.Add(ep.out.Underruns())
		t.pool.Release(ep.conn, ep.port)
	}
}
