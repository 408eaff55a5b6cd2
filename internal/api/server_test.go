package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chtugha/voicebridge/internal/database/models"
)

type fakeLineRepo struct {
	lines []models.SipLine
}

func (f *fakeLineRepo) List(ctx context.Context) ([]models.SipLine, error) {
	return f.lines, nil
}

func (f *fakeLineRepo) GetByID(ctx context.Context, id int64) (*models.SipLine, error) {
	return nil, nil
}

func (f *fakeLineRepo) Create(ctx context.Context, line *models.SipLine) error { return nil }

func (f *fakeLineRepo) UpdateStatus(ctx context.Context, id int64, status models.LineStatus) error {
	return nil
}

type fakeCalls []CallInfo

func (f fakeCalls) ActiveCalls() []CallInfo { return f }

func testServer(t *testing.T, lines []models.SipLine, calls fakeCalls) *httptest.Server {
	t.Helper()
	s := NewServer(0, &fakeLineRepo{lines: lines}, calls, prometheus.NewRegistry(), slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		s.limiter.Stop()
	})
	return srv
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
}

func TestLinesHidesCredentials(t *testing.T) {
	srv := testServer(t, []models.SipLine{{
		ID:            1,
		Name:          "main",
		Extension:     "7001",
		Username:      "7001",
		Password:      "hunter2",
		RegistrarHost: "sip.example.com",
		Enabled:       true,
		Status:        models.LineStatusConnected,
	}}, nil)

	res, err := http.Get(srv.URL + "/v1/lines")
	if err != nil {
		t.Fatalf("GET /v1/lines error = %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if strings.Contains(string(body), "hunter2") {
		t.Error("response leaks line password")
	}

	var out struct {
		Lines []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Lines) != 1 || out.Lines[0].Name != "main" || out.Lines[0].Status != "connected" {
		t.Errorf("lines = %+v, want one connected line named main", out.Lines)
	}
}

func TestCalls(t *testing.T) {
	srv := testServer(t, nil, fakeCalls{{
		SessionID:   "abc",
		CallerPhone: "+15551234567",
		LineID:      1,
		State:       "established",
		StartedAt:   time.Now(),
	}})

	res, err := http.Get(srv.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET /v1/calls error = %v", err)
	}
	defer res.Body.Close()

	var out struct {
		Calls []CallInfo `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Calls) != 1 || out.Calls[0].SessionID != "abc" {
		t.Errorf("calls = %+v, want one call abc", out.Calls)
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            1,
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d blocked inside burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	// Other IPs have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("fresh ip blocked")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.3:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
}
