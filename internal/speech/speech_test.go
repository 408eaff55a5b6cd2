package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/chtugha/voicebridge/internal/audio"
)

func TestTranscribe(t *testing.T) {
	var gotRate string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %q, want /transcribe", r.URL.Path)
		}
		gotRate = r.Header.Get(sampleRateHeader)
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]string{"text": "  guten tag  "})
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	text, err := c.Transcribe(context.Background(), make([]float64, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "guten tag" {
		t.Errorf("text = %q, want %q", text, "guten tag")
	}
	if gotRate != "16000" {
		t.Errorf("sample rate header = %q, want 16000", gotRate)
	}
	if len(gotBody) != 640 {
		t.Errorf("body length = %d, want 640", len(gotBody))
	}
}

func TestTranscribeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Transcribe(context.Background(), nil, 16000); err == nil {
		t.Error("Transcribe() with 503 succeeded, want error")
	}
}

func TestSynthesize(t *testing.T) {
	want := []float64{0.25, -0.25, 0.5, -0.5}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			t.Errorf("path = %q, want /synthesize", r.URL.Path)
		}
		var in struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Text != "hallo" {
			t.Errorf("request text = %q, err = %v", in.Text, err)
		}
		w.Header().Set(sampleRateHeader, strconv.Itoa(8000))
		w.Write(audio.EncodePCM16(want))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	samples, rate, err := c.Synthesize(context.Background(), "hallo")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	if len(samples) != len(want) {
		t.Fatalf("len(samples) = %d, want %d", len(samples), len(want))
	}
	for i := range want {
		if diff := samples[i] - want[i]; diff > 0.001 || diff < -0.001 {
			t.Errorf("sample %d = %f, want %f", i, samples[i], want[i])
		}
	}
}

func TestSynthesizeDefaultRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio.EncodePCM16(make([]float64, 16)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, rate, err := c.Synthesize(context.Background(), "x")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want default 16000", rate)
	}
}
