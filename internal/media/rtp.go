package media

import (
	"errors"
	"math/rand/v2"

	"github.com/pion/rtp"
)

// Payload types used on the media leg. Audio is negotiated as G.711 µ-law
// (static payload type 0); DTMF uses the dynamic type offered in our SDP.
const (
	PayloadTypePCMU      = 0
	PayloadTypePCMA      = 8
	PayloadTypeTelephone = 101
)

// SamplesPerFrame is the number of 8 kHz samples in one 20 ms packet.
const SamplesPerFrame = 160

var errInvalidPacket = errors.New("invalid rtp packet")

// validatePacket rejects datagrams that parsed but cannot be RTP we care
// about: wrong version, out-of-range payload type, or an empty payload.
func validatePacket(pkt *rtp.Packet) error {
	if pkt.Version != 2 {
		return errInvalidPacket
	}
	if pkt.PayloadType >= 128 {
		return errInvalidPacket
	}
	if len(pkt.Payload) == 0 {
		return errInvalidPacket
	}
	return nil
}

// Stream tracks outbound RTP bookkeeping for one call leg: a random SSRC
// fixed for the stream's lifetime, and sequence/timestamp counters that wrap
// naturally at their field widths.
type Stream struct {
	ssrc uint32
	seq  uint16
	ts   uint32
}

// NewStream creates a stream with a random SSRC and random initial sequence
// number and timestamp, per RFC 3550 recommendations.
func NewStream() *Stream {
	return &Stream{
		ssrc: rand.Uint32(),
		seq:  uint16(rand.Uint32()),
		ts:   rand.Uint32(),
	}
}

// NextPacket builds the next packet in the stream, advancing the sequence
// number by one and the timestamp by tsInc samples.
func (s *Stream) NextPacket(payloadType uint8, payload []byte, tsInc uint32, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.ts += tsInc
	return pkt
}

// SSRC returns the stream's synchronization source identifier.
func (s *Stream) SSRC() uint32 { return s.ssrc }
