package media

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

const (
	frameInterval = 20 * time.Millisecond
	readTimeout   = time.Second
	keepaliveGap  = 20 * time.Second
)

// ulawSilence is one 20 ms frame of µ-law encoded silence.
var ulawSilence = func() []byte {
	b := make([]byte, SamplesPerFrame)
	for i := range b {
		b[i] = 0xff
	}
	return b
}()

// InboundFrame is one audio payload received on a call's RTP socket.
type InboundFrame struct {
	SessionID   string
	PayloadType uint8
	Payload     []byte
}

// DTMFDigit is a deduplicated keypad press received on a call's RTP socket.
type DTMFDigit struct {
	SessionID string
	Digit     rune
}

// Endpoint is the media leg of one call: a dedicated UDP socket, a receive
// loop feeding the shared inbound channels, and a paced send loop draining an
// outbound jitter buffer.
//
// The peer address follows symmetric RTP: the SDP offer provides an initial
// hint, but the source of the first inbound packet becomes the latched
// destination. This is what makes NATed softphones work.
type Endpoint struct {
	sessionID string
	conn      *net.UDPConn
	port      int
	log       *slog.Logger

	stream  *Stream
	out     *JitterBuffer[[]byte]
	remote  atomic.Pointer[net.UDPAddr]
	latched atomic.Bool

	frames chan<- InboundFrame
	digits chan<- DTMFDigit
	stats  *Stats

	lastSent atomic.Int64 // unix nanos of last outbound packet
	lastIn   atomic.Int64 // unix nanos of last valid inbound packet
	firstOut atomic.Bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	dedup dtmfDedup
}

// Stats holds packet counters shared across a transport's endpoints. Read
// with atomic loads at metrics scrape time.
type Stats struct {
	PacketsIn      atomic.Uint64
	PacketsOut     atomic.Uint64
	PacketsInvalid atomic.Uint64
	FramesDropped  atomic.Uint64

	// Jitter counters from endpoints that have already been released.
	// Live endpoints are summed on top at read time.
	RetiredOverruns  atomic.Uint64
	RetiredUnderruns atomic.Uint64
}

func newEndpoint(sessionID string, conn *net.UDPConn, port int, frames chan<- InboundFrame, digits chan<- DTMFDigit, stats *Stats, log *slog.Logger) *Endpoint {
	ep := &Endpoint{
		sessionID: sessionID,
		conn:      conn,
		port:      port,
		log:       log.With("session_id", sessionID, "port", port),
		stream:    NewStream(),
		out:       NewJitterBuffer[[]byte](3, 50),
		frames:    frames,
		digits:    digits,
		stats:     stats,
		done:      make(chan struct{}),
	}
	ep.lastIn.Store(time.Now().UnixNano())
	ep.wg.Add(2)
	go ep.receiveLoop()
	go ep.sendLoop()
	return ep
}

// Port returns the local RTP port bound for this call.
func (ep *Endpoint) Port() int { return ep.port }

// LastInbound returns when the last valid RTP packet arrived, or the
// endpoint's creation time if none has.
func (ep *Endpoint) LastInbound() time.Time {
	return time.Unix(0, ep.lastIn.Load())
}

// SetRemote records the peer address from the SDP offer. It only takes
// effect until the first inbound packet latches the true source.
func (ep *Endpoint) SetRemote(ip string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if addr.IP == nil {
		ep.log.Warn("unparseable remote media address", "addr", ip)
		return
	}
	ep.remote.CompareAndSwap(nil, addr)
}

// EnqueueAudio queues one already-encoded payload for paced transmission.
func (ep *Endpoint) EnqueueAudio(payload []byte) {
	ep.out.Push(payload)
}

func (ep *Endpoint) receiveLoop() {
	defer ep.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-ep.done:
			return
		default:
		}

		ep.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := ep.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ep.done:
			default:
				ep.log.Warn("rtp read failed", "error", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			ep.stats.PacketsInvalid.Add(1)
			continue
		}
		if err := validatePacket(&pkt); err != nil {
			ep.stats.PacketsInvalid.Add(1)
			continue
		}
		ep.stats.PacketsIn.Add(1)
		ep.lastIn.Store(time.Now().UnixNano())

		// Symmetric RTP: the first observed source becomes the peer,
		// overriding the SDP hint. Later packets from other sources must
		// not move it, or a stray datagram would redirect the call.
		if ep.latched.CompareAndSwap(false, true) {
			ep.remote.Store(addr)
		}

		if pkt.PayloadType == PayloadTypeTelephone {
			ev, err := parseDTMF(pkt.Payload)
			if err != nil {
				continue
			}
			if digit := ep.dedup.observe(ev); digit != 0 {
				select {
				case ep.digits <- DTMFDigit{SessionID: ep.sessionID, Digit: digit}:
				default:
				}
			}
			continue
		}

		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		select {
		case ep.frames <- InboundFrame{SessionID: ep.sessionID, PayloadType: pkt.PayloadType, Payload: payload}:
		default:
			ep.stats.FramesDropped.Add(1)
		}
	}
}

func (ep *Endpoint) sendLoop() {
	defer ep.wg.Done()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ep.done:
			return
		case <-ticker.C:
			payload, ok := ep.out.Pop()
			if !ok {
				continue
			}
			ep.send(PayloadTypePCMU, payload)
		}
	}
}

func (ep *Endpoint) send(payloadType uint8, payload []byte) {
	addr := ep.remote.Load()
	if addr == nil {
		return
	}
	// Marker set on the first packet of the stream.
	marker := ep.firstOut.CompareAndSwap(false, true)
	pkt := ep.stream.NextPacket(payloadType, payload, SamplesPerFrame, marker)
	raw, err := pkt.Marshal()
	if err != nil {
		ep.log.Warn("rtp marshal failed", "error", err)
		return
	}
	if _, err := ep.conn.WriteToUDP(raw, addr); err != nil {
		ep.log.Warn("rtp write failed", "error", err)
		return
	}
	ep.stats.PacketsOut.Add(1)
	ep.lastSent.Store(time.Now().UnixNano())
}

// keepalive sends a silence frame if nothing has been transmitted recently,
// keeping NAT bindings open across quiet stretches.
func (ep *Endpoint) keepalive() {
	last := ep.lastSent.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < keepaliveGap {
		return
	}
	if ep.remote.Load() == nil {
		return
	}
	ep.send(PayloadTypePCMU, ulawSilence)
}

// close stops both loops. The socket itself is closed by the owning
// transport so the port returns to the pool.
func (ep *Endpoint) close() {
	ep.once.Do(func() { close(ep.done) })
	ep.wg.Wait()
}
