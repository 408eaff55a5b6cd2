package audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// Samples move through the pipeline as float64 in [-1, 1]. Telephony legs
// carry G.711 at 8 kHz; the speech services want 16 kHz linear PCM, so the
// codec layer owns both companding and rate conversion.

// Format identifies how a byte payload encodes audio.
type Format int

const (
	FormatUlaw Format = iota
	FormatAlaw
	FormatPCM16 // little-endian signed 16-bit
	FormatPCM8  // signed 8-bit
)

// DecodeFrame converts an encoded payload to normalized samples.
func DecodeFrame(format Format, payload []byte) ([]float64, error) {
	switch format {
	case FormatUlaw:
		return DecodeUlaw(payload), nil
	case FormatAlaw:
		return DecodeAlaw(payload), nil
	case FormatPCM16:
		return DecodePCM16(payload)
	case FormatPCM8:
		return DecodePCM8(payload), nil
	default:
		return nil, fmt.Errorf("unknown audio format %d", format)
	}
}

// DecodeUlaw expands µ-law bytes to normalized samples.
func DecodeUlaw(payload []byte) []float64 {
	out := make([]float64, len(payload))
	for i, b := range payload {
		out[i] = fromInt16(g711.DecodeUlawFrame(b))
	}
	return out
}

// EncodeUlaw compresses normalized samples to µ-law bytes.
func EncodeUlaw(samples []float64) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = g711.EncodeUlawFrame(toInt16(s))
	}
	return out
}

// DecodeAlaw expands A-law bytes to normalized samples.
func DecodeAlaw(payload []byte) []float64 {
	out := make([]float64, len(payload))
	for i, b := range payload {
		out[i] = fromInt16(g711.DecodeAlawFrame(b))
	}
	return out
}

// EncodeAlaw compresses normalized samples to A-law bytes.
func EncodeAlaw(samples []float64) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = g711.EncodeAlawFrame(toInt16(s))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to normalized samples.
func DecodePCM16(payload []byte) ([]float64, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(payload))
	}
	out := make([]float64, len(payload)/2)
	for i := range out {
		v := int16(uint16(payload[2*i]) | uint16(payload[2*i+1])<<8)
		out[i] = fromInt16(v)
	}
	return out, nil
}

// EncodePCM16 converts normalized samples to little-endian signed 16-bit PCM.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := uint16(toInt16(s))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM8 converts unsigned 8-bit PCM to normalized samples.
func DecodePCM8(payload []byte) []float64 {
	out := make([]float64, len(payload))
	for i, b := range payload {
		// Unsigned 8-bit PCM: 128 is the zero line.
		out[i] = (float64(b) - 128) / 128.0
	}
	return out
}

// Upsample8to16 doubles the sample rate by linear interpolation between
// neighboring samples. The last sample is duplicated.
func Upsample8to16(in []float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float64, len(in)*2)
	for i, s := range in {
		out[2*i] = s
		if i+1 < len(in) {
			out[2*i+1] = (s + in[i+1]) / 2
		} else {
			out[2*i+1] = s
		}
	}
	return out
}

// Downsample16to8 halves the sample rate by decimation.
func Downsample16to8(in []float64) []float64 {
	out := make([]float64, len(in)/2)
	for i := range out {
		out[i] = in[2*i]
	}
	return out
}

func toInt16(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

func fromInt16(v int16) float64 {
	return float64(v) / 32768.0
}
