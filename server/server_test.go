package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/allforeco/echochamber/chamber"
	"github.com/allforeco/echochamber/telemetry"
)

type fakeSource struct {
	statuses []chamber.Status
}

func (s *fakeSource) Statuses() []chamber.Status { return s.statuses }

func TestHealthz(t *testing.T) {
	telemetry.Init()
	mux := NewMux(&fakeSource{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok\n")
	}
}

func TestStatusEndpoint(t *testing.T) {
	telemetry.Init()
	src := &fakeSource{statuses: []chamber.Status{
		{Handle: "a.example.com", State: "polling", Followers: 3, Muted: 1, LastPoll: time.Now().UTC()},
	}}
	mux := NewMux(src)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct {
		Time     time.Time        `json:"time"`
		Chambers []chamber.Status `json:"chambers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Chambers) != 1 || body.Chambers[0].Handle != "a.example.com" {
		t.Errorf("chambers = %+v", body.Chambers)
	}
	if body.Chambers[0].Followers != 3 || body.Chambers[0].Muted != 1 {
		t.Errorf("counts not round-tripped: %+v", body.Chambers[0])
	}
	if body.Time.IsZero() {
		t.Error("time field missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	mux := NewMux(&fakeSource{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "echochamber_") {
		t.Error("metrics exposition missing echochamber_ series")
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	telemetry.Init()
	mux := NewMux(&fakeSource{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "corr-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "corr-123" {
		t.Errorf("X-Request-Id = %q, want passthrough", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("no generated X-Request-Id on response")
	}
}

func TestRequestSpanEmitted(t *testing.T) {
	telemetry.Init()
	spans := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := NewMux(&fakeSource{})
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	if ended[0].Name() != "GET /healthz" {
		t.Errorf("span name = %q, want %q", ended[0].Name(), "GET /healthz")
	}
}
