package sip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Dialog states for a call session.
const (
	StateRinging     = "ringing"
	StateActive      = "active"
	StateEstablished = "established"
	StateEnded       = "ended"
)

// Dialog events.
const (
	eventAnswer  = "answer"
	eventConfirm = "confirm"
	eventHangup  = "hangup"
)

// CallSession is the signaling-side state of one inbound call: the SIP
// dialog identity, the normalized caller, the line it arrived on, and the
// RTP port its media leg uses.
type CallSession struct {
	ID          string
	CallID      string
	LineID      int64
	CallerPhone string
	RTPPort     int
	StartedAt   time.Time

	machine *fsm.FSM
}

func newCallSession(id, callID string, lineID int64, callerPhone string) *CallSession {
	if id == "" {
		id = uuid.NewString()
	}
	return &CallSession{
		ID:          id,
		CallID:      callID,
		LineID:      lineID,
		CallerPhone: callerPhone,
		StartedAt:   time.Now(),
		machine: fsm.NewFSM(
			StateRinging,
			fsm.Events{
				{Name: eventAnswer, Src: []string{StateRinging}, Dst: StateActive},
				{Name: eventConfirm, Src: []string{StateActive}, Dst: StateEstablished},
				{Name: eventHangup, Src: []string{StateRinging, StateActive, StateEstablished}, Dst: StateEnded},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current dialog state.
func (s *CallSession) State() string {
	return s.machine.Current()
}

// Answer transitions ringing to active when the 200 OK is sent.
func (s *CallSession) Answer(ctx context.Context) error {
	return s.machine.Event(ctx, eventAnswer)
}

// Confirm transitions active to established on ACK receipt.
func (s *CallSession) Confirm(ctx context.Context) error {
	return s.machine.Event(ctx, eventConfirm)
}

// Hangup transitions any live state to ended.
func (s *CallSession) Hangup(ctx context.Context) error {
	return s.machine.Event(ctx, eventHangup)
}

// SessionManager indexes live call sessions by SIP Call-ID. Dialog matching
// is strict: a BYE or ACK whose Call-ID is not an exact key is not part of
// any call we know.
type SessionManager struct {
	mu       sync.RWMutex
	byCallID map[string]*CallSession
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{byCallID: make(map[string]*CallSession)}
}

// Create registers a new ringing session for the dialog. The id is the
// persisted session identifier; an empty id gets a fresh UUID. It fails if
// the Call-ID is already live, which would indicate an INVITE retransmission
// arriving as a new transaction.
func (m *SessionManager) Create(id, callID string, lineID int64, callerPhone string) (*CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCallID[callID]; ok {
		return nil, fmt.Errorf("call-id %q already has a live session", callID)
	}
	s := newCallSession(id, callID, lineID, callerPhone)
	m.byCallID[callID] = s
	return s, nil
}

// Lookup finds the live session for a Call-ID.
func (m *SessionManager) Lookup(callID string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byCallID[callID]
	return s, ok
}

// Remove drops the session for a Call-ID, returning it if it was live.
func (m *SessionManager) Remove(callID string) (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byCallID[callID]
	if ok {
		delete(m.byCallID, callID)
	}
	return s, ok
}

// Active returns the number of live sessions.
func (m *SessionManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCallID)
}

// All returns a snapshot of live sessions.
func (m *SessionManager) All() []*CallSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CallSession, 0, len(m.byCallID))
	for _, s := range m.byCallID {
		out = append(out, s)
	}
	return out
}
