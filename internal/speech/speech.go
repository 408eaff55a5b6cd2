// Package speech holds HTTP clients for the external transcription and
// synthesis engines. Audio crosses the wire as raw little-endian 16-bit PCM
// with the sample rate in a header; text rides in small JSON bodies.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chtugha/voicebridge/internal/audio"
)

const sampleRateHeader = "X-Sample-Rate"

// Client talks to one speech engine endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the engine at the given base URL.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Transcribe posts PCM audio to the engine's /transcribe route and returns
// the recognized text.
func (c *Client) Transcribe(ctx context.Context, samples []float64, sampleRate int) (string, error) {
	body := audio.EncodePCM16(samples)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(sampleRateHeader, strconv.Itoa(sampleRate))

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe engine returned status %d", res.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding transcribe response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Synthesize posts text to the engine's /synthesize route and returns the
// produced samples with their rate.
func (c *Client) Synthesize(ctx context.Context, text string) ([]float64, int, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return nil, 0, fmt.Errorf("encoding synthesize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("building synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("synthesize request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("synthesize engine returned status %d", res.StatusCode)
	}

	rate := 16000
	if h := res.Header.Get(sampleRateHeader); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 {
			rate = v
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("reading synthesize response: %w", err)
	}
	samples, err := audio.DecodePCM16(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding synthesized audio: %w", err)
	}
	return samples, rate, nil
}
