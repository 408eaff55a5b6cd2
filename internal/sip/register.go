package sip

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/chtugha/voicebridge/internal/database"
	"github.com/chtugha/voicebridge/internal/database/models"
)

const (
	// defaultExpiry is the registration lifetime requested from upstream
	// registrars. Refresh happens at 80% of the granted value.
	defaultExpiry = 1800

	// reloadInterval is how often the registrar re-reads the line table and
	// reconciles running registrations against it.
	reloadInterval = 5 * time.Minute
)

// LineRegistrar keeps every enabled SIP line registered with its upstream
// provider: periodic REGISTER with digest auth, exponential backoff with
// jitter on failure, and status written back to the line table so the
// administration layer can display it.
type LineRegistrar struct {
	ua     *sipgo.UserAgent
	lines  database.LineRepository
	logger *slog.Logger

	// registerFn performs one REGISTER exchange and returns the granted
	// expiry. Swappable in tests.
	registerFn func(ctx context.Context, entry *lineEntry, expiry int) (int, error)

	mu      sync.Mutex
	entries map[int64]*lineEntry
}

type lineEntry struct {
	line   models.SipLine
	client *sipgo.Client
	cancel context.CancelFunc
	status models.LineStatus
}

// NewLineRegistrar creates a registrar over the given line repository.
func NewLineRegistrar(ua *sipgo.UserAgent, lines database.LineRepository, logger *slog.Logger) *LineRegistrar {
	lr := &LineRegistrar{
		ua:      ua,
		lines:   lines,
		logger:  logger.With("subsystem", "line-registrar"),
		entries: make(map[int64]*lineEntry),
	}
	lr.registerFn = lr.sendRegister
	return lr
}

// StartLine begins the registration loop for a line, replacing any running
// loop for the same line. Disabled lines only get their status recorded.
func (lr *LineRegistrar) StartLine(line models.SipLine) error {
	lr.StopLine(line.ID)

	if !line.Enabled {
		lr.writeStatus(line.ID, models.LineStatusDisabled)
		return nil
	}

	client, err := sipgo.NewClient(lr.ua,
		sipgo.WithClientLogger(lr.logger.With("line", line.Name)),
	)
	if err != nil {
		return fmt.Errorf("creating sip client for line %q: %w", line.Name, err)
	}

	// The loop outlives the caller's context; only StopLine ends it.
	lineCtx, cancel := context.WithCancel(context.Background())
	entry := &lineEntry{
		line:   line,
		client: client,
		cancel: cancel,
		status: models.LineStatusConnecting,
	}

	lr.mu.Lock()
	lr.entries[line.ID] = entry
	lr.mu.Unlock()
	lr.writeStatus(line.ID, models.LineStatusConnecting)

	go lr.registrationLoop(lineCtx, entry)
	return nil
}

// StopLine cancels a line's registration loop and sends a best-effort
// un-register if it was connected.
func (lr *LineRegistrar) StopLine(lineID int64) {
	lr.mu.Lock()
	entry, ok := lr.entries[lineID]
	if ok {
		delete(lr.entries, lineID)
	}
	lr.mu.Unlock()
	if !ok {
		return
	}

	entry.cancel()

	if entry.status == models.LineStatusConnected {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := lr.registerFn(ctx, entry, 0); err != nil {
			lr.logger.Warn("un-register failed", "line", entry.line.Name, "error", err)
		}
	}

	if entry.client != nil {
		entry.client.Close()
	}
	lr.writeStatus(lineID, models.LineStatusDisconnected)
	lr.logger.Info("line registration stopped", "line", entry.line.Name)
}

// StopAll stops every running line.
func (lr *LineRegistrar) StopAll() {
	lr.mu.Lock()
	ids := make([]int64, 0, len(lr.entries))
	for id := range lr.entries {
		ids = append(ids, id)
	}
	lr.mu.Unlock()
	for _, id := range ids {
		lr.StopLine(id)
	}
}

// Status returns the in-memory status for a line.
func (lr *LineRegistrar) Status(lineID int64) (models.LineStatus, bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	entry, ok := lr.entries[lineID]
	if !ok {
		return "", false
	}
	return entry.status, true
}

// Statuses returns a snapshot of line statuses keyed by line ID.
func (lr *LineRegistrar) Statuses() map[int64]models.LineStatus {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	out := make(map[int64]models.LineStatus, len(lr.entries))
	for id, entry := range lr.entries {
		out[id] = entry.status
	}
	return out
}

// Run reconciles running registrations against the line table until the
// context ends: new enabled lines are started, removed or disabled lines
// stopped, credential changes restart the loop.
func (lr *LineRegistrar) Run(ctx context.Context) {
	lr.reload(ctx)
	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lr.StopAll()
			return
		case <-ticker.C:
			lr.reload(ctx)
		}
	}
}

func (lr *LineRegistrar) reload(ctx context.Context) {
	lines, err := lr.lines.List(ctx)
	if err != nil {
		lr.logger.Error("loading lines failed", "error", err)
		return
	}

	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		seen[line.ID] = true

		lr.mu.Lock()
		entry, running := lr.entries[line.ID]
		changed := running && !sameLineConfig(entry.line, line)
		lr.mu.Unlock()

		switch {
		case !line.Enabled:
			if running {
				lr.StopLine(line.ID)
			}
			lr.writeStatus(line.ID, models.LineStatusDisabled)
		case !running || changed:
			if err := lr.StartLine(line); err != nil {
				lr.logger.Error("starting line failed", "line", line.Name, "error", err)
			}
		}
	}

	// Lines deleted from the table stop registering.
	lr.mu.Lock()
	var stale []int64
	for id := range lr.entries {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	lr.mu.Unlock()
	for _, id := range stale {
		lr.StopLine(id)
	}
}

func sameLineConfig(a, b models.SipLine) bool {
	return a.Username == b.Username &&
		a.Password == b.Password &&
		a.RegistrarHost == b.RegistrarHost &&
		a.RegistrarPort == b.RegistrarPort
}

// registrationLoop registers, refreshes before expiry, and retries with
// backoff on failure.
func (lr *LineRegistrar) registrationLoop(ctx context.Context, entry *lineEntry) {
	line := entry.line
	lr.logger.Info("starting line registration",
		"line", line.Name,
		"registrar", line.RegistrarAddr(),
		"expiry", defaultExpiry,
	)

	backoff := newBackoff()
	for {
		granted, err := lr.registerFn(ctx, entry, defaultExpiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff.next()
			lr.logger.Error("line registration failed",
				"line", line.Name,
				"error", err,
				"attempt", backoff.attempt,
				"retry_in", delay.String(),
			)
			lr.setEntryStatus(entry, models.LineStatusError)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		backoff.reset()
		lr.setEntryStatus(entry, models.LineStatusConnected)
		lr.logger.Info("line registered", "line", line.Name, "expires_in", granted)

		refresh := time.Duration(float64(granted)*0.8) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(refresh):
		}
	}
}

func (lr *LineRegistrar) setEntryStatus(entry *lineEntry, status models.LineStatus) {
	lr.mu.Lock()
	entry.status = status
	lr.mu.Unlock()
	lr.writeStatus(entry.line.ID, status)
}

func (lr *LineRegistrar) writeStatus(lineID int64, status models.LineStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lr.lines.UpdateStatus(ctx, lineID, status); err != nil {
		lr.logger.Warn("writing line status failed", "line_id", lineID, "status", status, "error", err)
	}
}

// sendRegister performs one REGISTER exchange, answering a digest challenge
// if the registrar issues one. It returns the server-granted expiry.
func (lr *LineRegistrar) sendRegister(ctx context.Context, entry *lineEntry, expiry int) (int, error) {
	line := entry.line

	recipientStr := fmt.Sprintf("sip:%s", line.RegistrarAddr())
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing registrar uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport("UDP")

	aor := fmt.Sprintf("<sip:%s@%s>", line.Username, line.RegistrarHost)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", line.Username, lr.ua.Hostname())))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	tx, err := entry.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("sending register: %w", err)
	}
	res, err := awaitResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("waiting for register response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		challengeHeader := "WWW-Authenticate"
		authzHeader := "Authorization"
		if res.StatusCode == 407 {
			challengeHeader = "Proxy-Authenticate"
			authzHeader = "Proxy-Authorization"
		}

		hdr := res.GetHeader(challengeHeader)
		if hdr == nil {
			return 0, fmt.Errorf("received %d without %s header", res.StatusCode, challengeHeader)
		}
		chal, err := digest.ParseChallenge(hdr.Value())
		if err != nil {
			return 0, fmt.Errorf("parsing auth challenge: %w", err)
		}

		cred, err := digest.Digest(chal, digest.Options{
			Method:   req.Method.String(),
			URI:      recipientStr,
			Username: line.Username,
			Password: line.Password,
		})
		if err != nil {
			return 0, fmt.Errorf("computing digest: %w", err)
		}

		authReq := req.Clone()
		authReq.RemoveHeader("Via")
		authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

		tx2, err := entry.client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ,
			sipgo.ClientRequestAddVia,
		)
		if err != nil {
			return 0, fmt.Errorf("sending authenticated register: %w", err)
		}
		res, err = awaitResponse(ctx, tx2)
		tx2.Terminate()
		if err != nil {
			return 0, fmt.Errorf("waiting for authenticated register response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	granted := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			granted = parsed
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(expiresHdr.Value())); err == nil && parsed > 0 {
			granted = parsed
		}
	}
	return granted, nil
}

// awaitResponse waits for the first response on a client transaction.
func awaitResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// parseContactExpires extracts the expires parameter from a Contact header,
// e.g. <sip:user@host>;expires=1800.
func parseContactExpires(value string) int {
	lower := strings.ToLower(value)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := value[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return v
}

// backoff implements exponential backoff with jitter for registration
// retries. Jitter keeps many failing lines from retrying in lockstep.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 5 * time.Second,
		maxDelay:  5 * time.Minute,
	}
}

func (b *backoff) next() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	b.attempt++
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
