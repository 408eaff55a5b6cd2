package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/chtugha/voicebridge/internal/config"
	"github.com/chtugha/voicebridge/internal/database"
	"github.com/chtugha/voicebridge/internal/database/models"
	"github.com/chtugha/voicebridge/internal/media"
)

// EventType discriminates session lifecycle events.
type EventType int

const (
	// SessionEstablished fires when the ACK confirms the dialog and media
	// may flow.
	SessionEstablished EventType = iota
	// SessionEnded fires after a BYE or CANCEL tears the call down.
	SessionEnded
)

// Event is a session lifecycle notification consumed by the audio processor.
type Event struct {
	Type    EventType
	Session *CallSession
}

const (
	// sessionIdleTimeout is how long a call may go without inbound RTP
	// before it is assumed abandoned and reaped.
	sessionIdleTimeout = 30 * time.Second
	idleSweepInterval  = 10 * time.Second
)

// Engine terminates inbound SIP calls: INVITE through ACK to BYE, one RTP
// endpoint per call, session records persisted as calls come and go. It is a
// user agent server only; outbound calls are not placed.
type Engine struct {
	cfg       *config.Config
	ua        *sipgo.UserAgent
	srv       *sipgo.Server
	sessions  *SessionManager
	transport *media.Transport

	lines   database.LineRepository
	callers database.CallerRepository
	store   database.SessionRepository

	events chan Event
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the SIP engine and registers its method handlers.
func NewEngine(cfg *config.Config, transport *media.Transport, lines database.LineRepository, callers database.CallerRepository, store database.SessionRepository, logger *slog.Logger) (*Engine, error) {
	log := logger.With("subsystem", "sip")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("voicebridge"),
		sipgo.WithUserAgentHostname(cfg.SIPHost()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(log))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		ua:        ua,
		srv:       srv,
		sessions:  NewSessionManager(),
		transport: transport,
		lines:     lines,
		callers:   callers,
		store:     store,
		events:    make(chan Event, 32),
		logger:    log,
	}

	srv.OnInvite(e.onInvite)
	srv.OnAck(e.onAck)
	srv.OnBye(e.onBye)
	srv.OnCancel(e.onCancel)
	srv.OnOptions(e.onOptions)
	return e, nil
}

// UA exposes the shared user agent so the line registrar can reuse its
// transport layer.
func (e *Engine) UA() *sipgo.UserAgent { return e.ua }

// Sessions returns the live session manager.
func (e *Engine) Sessions() *SessionManager { return e.sessions }

// Events returns the session lifecycle channel.
func (e *Engine) Events() <-chan Event { return e.events }

// Start begins listening on the configured SIP port over UDP and TCP.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	addr := fmt.Sprintf("0.0.0.0:%d", e.cfg.SIPPort)

	for _, transport := range []string{"udp", "tcp"} {
		transport := transport
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.logger.Info("sip listener starting", "transport", transport, "addr", addr)
			if err := e.srv.ListenAndServe(e.ctx, transport, addr); err != nil {
				e.logger.Error("sip listener stopped", "transport", transport, "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(idleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				e.sweepIdle(time.Now().Add(-sessionIdleTimeout))
			}
		}
	}()
	return nil
}

// sweepIdle reaps calls whose media leg has received nothing since the
// cutoff. A caller that vanishes after the 200 OK never sends ACK or BYE,
// and without this its session and RTP port would leak until shutdown.
func (e *Engine) sweepIdle(cutoff time.Time) {
	for _, sess := range e.sessions.All() {
		ep, ok := e.transport.Lookup(sess.ID)
		if !ok || ep.LastInbound().After(cutoff) {
			continue
		}
		if _, ok := e.sessions.Remove(sess.CallID); !ok {
			continue
		}
		e.logger.Warn("reaping idle call",
			"call_id", sess.CallID,
			"session_id", sess.ID,
			"last_inbound", ep.LastInbound().Format(time.RFC3339),
		)
		e.teardown(sess)
	}
}

// Stop shuts the listeners down and ends every live call.
func (e *Engine) Stop() {
	e.logger.Info("stopping sip engine")
	if e.cancel != nil {
		e.cancel()
	}
	for _, sess := range e.sessions.All() {
		e.teardown(sess)
		e.sessions.Remove(sess.CallID)
	}
	e.wg.Wait()
	e.srv.Close()
	e.ua.Close()
	e.logger.Info("sip engine stopped")
}

// onInvite answers an inbound call: Trying, Ringing, a short ring delay,
// then 200 OK carrying the SDP answer for a freshly allocated RTP endpoint.
func (e *Engine) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	cid := req.CallID()
	if cid == nil {
		e.respond(req, tx, 400, "Bad Request")
		return
	}
	callID := cid.Value()

	if err := tx.Respond(sip.NewResponseFromRequest(req, 100, "Trying", nil)); err != nil {
		e.logger.Error("sending 100 trying failed", "call_id", callID, "error", err)
		return
	}

	caller := UnknownCaller
	if from := req.From(); from != nil {
		caller = NormalizeCallerID(from.Address.User)
	}

	line, err := e.matchLine(req)
	if err != nil {
		e.logger.Error("line lookup failed", "call_id", callID, "error", err)
		e.respond(req, tx, 500, "Server Internal Error")
		return
	}
	if line == nil {
		e.logger.Warn("invite for unknown line", "call_id", callID, "caller", caller)
		e.respond(req, tx, 404, "Not Found")
		return
	}

	e.logger.Info("inbound call",
		"call_id", callID,
		"caller", caller,
		"line", line.Name,
	)

	if err := tx.Respond(sip.NewResponseFromRequest(req, 180, "Ringing", nil)); err != nil {
		e.logger.Error("sending 180 ringing failed", "call_id", callID, "error", err)
		return
	}

	select {
	case <-e.ctx.Done():
		return
	case <-tx.Done():
		return
	case <-time.After(e.cfg.RingDelay()):
	}

	sess, err := e.startSession(callID, caller, line)
	if err != nil {
		e.logger.Warn("duplicate invite", "call_id", callID, "error", err)
		e.respond(req, tx, 486, "Busy Here")
		return
	}

	ep, err := e.transport.Allocate(sess.ID)
	if err != nil {
		e.logger.Error("rtp allocation failed", "call_id", callID, "error", err)
		e.sessions.Remove(callID)
		e.respond(req, tx, 503, "Service Unavailable")
		return
	}
	sess.RTPPort = ep.Port()

	if len(req.Body()) > 0 {
		if ip, port, err := media.ParseRemoteMedia(req.Body()); err == nil {
			ep.SetRemote(ip, port)
		} else {
			e.logger.Warn("unusable sdp offer", "call_id", callID, "error", err)
		}
	}

	answer, err := media.BuildAnswer(e.cfg.MediaIP(), ep.Port())
	if err != nil {
		e.logger.Error("building sdp answer failed", "call_id", callID, "error", err)
		e.abortCall(sess)
		e.respond(req, tx, 500, "Server Internal Error")
		return
	}

	ok := sip.NewResponseFromRequest(req, 200, "OK", answer)
	ok.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	ok.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s:%d>", line.Extension, e.cfg.SIPHost(), e.cfg.SIPPort)))
	if err := tx.Respond(ok); err != nil {
		e.logger.Error("sending 200 ok failed", "call_id", callID, "error", err)
		e.abortCall(sess)
		return
	}

	if err := sess.Answer(e.ctx); err != nil {
		e.logger.Error("session answer transition failed", "call_id", callID, "error", err)
	}
}

// onAck confirms the dialog; media processing starts here.
func (e *Engine) onAck(req *sip.Request, tx sip.ServerTransaction) {
	cid := req.CallID()
	if cid == nil {
		return
	}
	sess, ok := e.sessions.Lookup(cid.Value())
	if !ok {
		e.logger.Debug("ack for unknown dialog", "call_id", cid.Value())
		return
	}
	if err := sess.Confirm(e.ctx); err != nil {
		e.logger.Debug("ack ignored", "call_id", sess.CallID, "state", sess.State())
		return
	}
	e.logger.Info("call established", "call_id", sess.CallID, "session_id", sess.ID)
	e.emit(Event{Type: SessionEstablished, Session: sess})
}

// onBye ends the identified call. Dialog matching is strict by Call-ID; a
// BYE for an unknown dialog gets 481.
func (e *Engine) onBye(req *sip.Request, tx sip.ServerTransaction) {
	cid := req.CallID()
	if cid == nil {
		e.respond(req, tx, 400, "Bad Request")
		return
	}
	sess, ok := e.sessions.Remove(cid.Value())
	if !ok {
		e.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	e.respond(req, tx, 200, "OK")
	e.logger.Info("call ended by peer",
		"call_id", sess.CallID,
		"session_id", sess.ID,
		"duration", time.Since(sess.StartedAt).Round(time.Second).String(),
	)
	e.teardown(sess)
}

// onCancel aborts a call still ringing.
func (e *Engine) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	cid := req.CallID()
	if cid == nil {
		return
	}
	sess, ok := e.sessions.Remove(cid.Value())
	if !ok {
		return
	}
	e.logger.Info("call cancelled", "call_id", sess.CallID, "session_id", sess.ID)
	e.teardown(sess)
}

// onOptions answers keepalive pings.
func (e *Engine) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))
	if err := tx.Respond(res); err != nil {
		e.logger.Error("responding to options failed", "error", err)
	}
}

// matchLine resolves the INVITE's target to a configured line by extension
// or username.
func (e *Engine) matchLine(req *sip.Request) (*models.SipLine, error) {
	user := ""
	if to := req.To(); to != nil {
		user = to.Address.User
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, err := e.lines.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if !lines[i].Enabled {
			continue
		}
		if lines[i].Extension == user || lines[i].Username == user {
			return &lines[i], nil
		}
	}
	return nil, nil
}

// startSession persists the call and registers its in-memory session. The
// duplicate check runs before anything is written so a retransmitted INVITE
// arriving as a new transaction does not leave an orphan record open; if the
// registration still loses a race, the fresh record is closed again.
func (e *Engine) startSession(callID, caller string, line *models.SipLine) (*CallSession, error) {
	if _, exists := e.sessions.Lookup(callID); exists {
		return nil, fmt.Errorf("call-id %q already has a live session", callID)
	}

	record := e.persistSession(caller, line)
	recordID := ""
	if record != nil {
		recordID = record.ID
	}

	sess, err := e.sessions.Create(recordID, callID, line.ID, caller)
	if err != nil {
		if record != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := e.store.Close(ctx, record.ID); cerr != nil {
				e.logger.Warn("closing orphan call record failed", "record_id", record.ID, "error", cerr)
			}
		}
		return nil, err
	}
	return sess, nil
}

// persistSession records the caller and call in the database. Persistence
// failures degrade to an in-memory call rather than rejecting it.
func (e *Engine) persistSession(phone string, line *models.SipLine) *models.CallSession {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caller, err := e.callers.GetOrCreate(ctx, phone)
	if err != nil {
		e.logger.Error("caller lookup failed", "phone", phone, "error", err)
		return nil
	}
	record, err := e.store.Create(ctx, caller.ID, phone, line.ID)
	if err != nil {
		e.logger.Error("creating call record failed", "phone", phone, "error", err)
		return nil
	}
	return record
}

// abortCall releases resources for a session that never established.
func (e *Engine) abortCall(sess *CallSession) {
	e.sessions.Remove(sess.CallID)
	e.teardown(sess)
}

// teardown ends the session state machine, releases media, closes the call
// record, and notifies the processor.
func (e *Engine) teardown(sess *CallSession) {
	if err := sess.Hangup(context.Background()); err != nil && sess.State() != StateEnded {
		e.logger.Warn("hangup transition failed", "session_id", sess.ID, "error", err)
	}
	e.transport.Release(sess.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Close(ctx, sess.ID); err != nil {
		e.logger.Warn("closing call record failed", "session_id", sess.ID, "error", err)
	}
	e.emit(Event{Type: SessionEnded, Session: sess})
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("session event dropped, consumer too slow", "session_id", ev.Session.ID)
	}
}

func (e *Engine) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		e.logger.Error("sip respond failed", "code", code, "error", err)
	}
}
