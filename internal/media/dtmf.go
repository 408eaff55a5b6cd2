package media

import "errors"

// DTMFEvent is a parsed RFC 4733 telephone-event payload.
type DTMFEvent struct {
	Digit    rune
	End      bool
	Volume   uint8
	Duration uint16
}

var errShortDTMF = errors.New("telephone-event payload too short")

var dtmfDigits = []rune{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '*', '#', 'A', 'B', 'C', 'D'}

// parseDTMF decodes an RFC 4733 named-event payload:
//
//	byte 0: event code
//	byte 1: E bit, reserved bit, 6-bit volume
//	bytes 2-3: duration in timestamp units
func parseDTMF(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, errShortDTMF
	}
	code := payload[0]
	if int(code) >= len(dtmfDigits) {
		return DTMFEvent{}, errors.New("telephone-event code out of range")
	}
	return DTMFEvent{
		Digit:    dtmfDigits[code],
		End:      payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3f,
		Duration: uint16(payload[2])<<8 | uint16(payload[3]),
	}, nil
}

// dtmfDedup collapses the packet burst RFC 4733 senders emit per key press
// (repeated events plus three end retransmissions) into a single digit,
// reported on the first packet with the End bit set.
type dtmfDedup struct {
	lastDigit rune
	lastEnded bool
}

// observe returns the digit to report for this event, or 0 if the event is a
// continuation or retransmission of one already reported.
func (d *dtmfDedup) observe(ev DTMFEvent) rune {
	if !ev.End {
		if ev.Digit != d.lastDigit {
			d.lastDigit = ev.Digit
			d.lastEnded = false
		}
		return 0
	}
	if ev.Digit == d.lastDigit && d.lastEnded {
		return 0
	}
	d.lastDigit = ev.Digit
	d.lastEnded = true
	return ev.Digit
}
