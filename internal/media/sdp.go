package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// BuildAnswer constructs the SDP body for a 200 OK: one audio media section
// offering G.711 µ-law plus RFC 4733 telephone-event, with the given
// advertised address and allocated RTP port.
func BuildAnswer(ip string, port int) ([]byte, error) {
	id := uint64(time.Now().Unix())
	desc := sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      id,
			SessionVersion: id,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "voicebridge",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0", "101"},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", "0 PCMU/8000"),
					sdp.NewAttribute("rtpmap", "101 telephone-event/8000"),
					sdp.NewAttribute("fmtp", "101 0-15"),
					sdp.NewAttribute("ptime", "20"),
					sdp.NewPropertyAttribute("sendrecv"),
				},
			},
		},
	}
	return desc.Marshal()
}

// ParseRemoteMedia extracts the peer's audio address and port from an SDP
// offer. The media-level connection line wins over the session-level one.
// The address is advisory: symmetric RTP relearns the true peer from the
// first inbound packet.
func ParseRemoteMedia(body []byte) (string, int, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", 0, fmt.Errorf("parse sdp: %w", err)
	}

	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}
		addr := ""
		if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			addr = m.ConnectionInformation.Address.Address
		} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
			addr = desc.ConnectionInformation.Address.Address
		}
		if addr == "" {
			return "", 0, errors.New("sdp offer has no connection address")
		}
		return addr, m.MediaName.Port.Value, nil
	}
	return "", 0, errors.New("sdp offer has no audio media")
}
