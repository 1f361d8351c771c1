package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/bridge"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/logging"
)

type fakeScheduler struct {
	mu    sync.Mutex
	state bridge.PollState
	last  *bridge.CycleReport
	fatal error
}

func (f *fakeScheduler) SiteID() string { return "123456" }

func (f *fakeScheduler) State() bridge.PollState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScheduler) LastCycle() (bridge.CycleReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return bridge.CycleReport{}, false
	}
	return *f.last, true
}

func (f *fakeScheduler) Fatal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fatal
}

type fakeBroker struct{ connected bool }

func (f *fakeBroker) IsConnected() bool { return f.connected }
func (f *fakeBroker) Broker() string    { return "tcp://broker:1883" }

type fakeJournal struct {
	cycles []bridge.CycleReport
	err    error
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]bridge.CycleReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cycles[:min(limit, len(f.cycles))], nil
}

type fakeMirror struct {
	failures int
	last     error
}

func (f fakeMirror) WriteFailures() (int, error) { return f.failures, f.last }

type fakeDB struct{}

func (fakeDB) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

func testServer(t *testing.T, sched *fakeScheduler, broker *fakeBroker, journal CycleSource) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config:    config.APIConfig{Enabled: true, Host: "127.0.0.1", Port: 0},
		Logger:    logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard),
		Scheduler: sched,
		MQTT:      broker,
		Journal:   journal,
		DB:        fakeDB{},
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Scheduler: &fakeScheduler{}, MQTT: &fakeBroker{}}},
		{"no scheduler", Deps{Logger: log, MQTT: &fakeBroker{}}},
		{"no mqtt", Deps{Logger: log, Scheduler: &fakeScheduler{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		fatal      error
		wantStatus int
		wantReason string
	}{
		{name: "healthy", connected: true, wantStatus: http.StatusOK},
		{name: "broker down", connected: false, wantStatus: http.StatusServiceUnavailable, wantReason: "mqtt disconnected"},
		{
			name:       "loop stopped",
			connected:  true,
			fatal:      errors.New("site not found"),
			wantStatus: http.StatusServiceUnavailable,
			wantReason: "poll loop stopped: site not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakeScheduler{fatal: tt.fatal}, &fakeBroker{connected: tt.connected}, nil)
			w := get(t, srv, "/healthz")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode[HealthResponse](t, w)
			if tt.wantReason == "" {
				if body.Status != "ok" || len(body.Reasons) != 0 {
					t.Errorf("body = %+v", body)
				}
				return
			}
			if body.Status != "degraded" || len(body.Reasons) != 1 || body.Reasons[0] != tt.wantReason {
				t.Errorf("body = %+v, want reason %q", body, tt.wantReason)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	lastSuccess := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched := &fakeScheduler{
		state: bridge.PollState{LastSuccessAt: &lastSuccess},
		last: &bridge.CycleReport{
			ID:      "c1",
			Outcome: bridge.OutcomeSuccess,
			Topics:  42,
		},
	}
	srv := testServer(t, sched, &fakeBroker{connected: true}, nil)

	w := get(t, srv, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := decode[StatusResponse](t, w)
	if body.SiteID != "123456" || body.Version != "test" {
		t.Errorf("site/version = %s/%s", body.SiteID, body.Version)
	}
	if body.Poll.LastSuccessAt == nil || !body.Poll.LastSuccessAt.Equal(lastSuccess) {
		t.Errorf("Poll.LastSuccessAt = %v", body.Poll.LastSuccessAt)
	}
	if body.LastCycle == nil || body.LastCycle.ID != "c1" || body.LastCycle.Topics != 42 {
		t.Errorf("LastCycle = %+v", body.LastCycle)
	}
	if !body.MQTT.Connected || body.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT = %+v", body.MQTT)
	}
	if body.Fatal != "" {
		t.Errorf("Fatal = %q", body.Fatal)
	}
}

func TestHandleCycles(t *testing.T) {
	journal := &fakeJournal{}
	for i := 0; i < 30; i++ {
		journal.cycles = append(journal.cycles, bridge.CycleReport{ID: fmt.Sprintf("c%d", i), Outcome: bridge.OutcomeSuccess})
	}
	srv := testServer(t, &fakeScheduler{}, &fakeBroker{connected: true}, journal)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{name: "default limit", query: "", wantStatus: http.StatusOK, wantCount: defaultCycleLimit},
		{name: "explicit limit", query: "?limit=5", wantStatus: http.StatusOK, wantCount: 5},
		{name: "not a number", query: "?limit=all", wantStatus: http.StatusBadRequest},
		{name: "zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "too large", query: "?limit=100000", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, srv, "/api/v1/cycles"+tt.query)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if body := decode[Error](t, w); body.Code != ErrCodeBadRequest {
					t.Errorf("error code = %q", body.Code)
				}
				return
			}
			if body := decode[CyclesResponse](t, w); len(body.Cycles) != tt.wantCount {
				t.Errorf("cycles = %d, want %d", len(body.Cycles), tt.wantCount)
			}
		})
	}
}

func TestHandleCycles_Errors(t *testing.T) {
	t.Run("no journal", func(t *testing.T) {
		srv := testServer(t, &fakeScheduler{}, &fakeBroker{}, nil)
		if w := get(t, srv, "/api/v1/cycles"); w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("journal failure", func(t *testing.T) {
		srv := testServer(t, &fakeScheduler{}, &fakeBroker{}, &fakeJournal{err: errors.New("disk I/O error")})
		w := get(t, srv, "/api/v1/cycles")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
		if strings.Contains(w.Body.String(), "disk I/O") {
			t.Error("internal error leaked to client")
		}
	})
}

func TestHandleMetrics(t *testing.T) {
	sched := &fakeScheduler{
		state: bridge.PollState{ConsecutiveFailures: 2},
		last: &bridge.CycleReport{
			Outcome:    bridge.OutcomeTransient,
			StartedAt:  time.Unix(100, 0),
			FinishedAt: time.Unix(100, int64(250*time.Millisecond)),
		},
	}
	srv := testServer(t, sched, &fakeBroker{connected: true}, nil)

	body := decode[SystemMetrics](t, get(t, srv, "/api/v1/metrics"))
	if body.Runtime.Goroutines < 1 {
		t.Errorf("Goroutines = %d", body.Runtime.Goroutines)
	}
	if body.Poll.ConsecutiveFailures != 2 || body.Poll.LastOutcome != "transient" || body.Poll.LastDurationMS != 250 {
		t.Errorf("Poll = %+v", body.Poll)
	}
	if body.Database == nil || body.Database.OpenConnections != 1 {
		t.Errorf("Database = %+v", body.Database)
	}
	if body.InfluxDB != nil {
		t.Errorf("InfluxDB = %+v, want omitted without a mirror", body.InfluxDB)
	}

	srv.mirror = fakeMirror{failures: 3, last: errors.New("bucket vrm not writable")}
	body = decode[SystemMetrics](t, get(t, srv, "/api/v1/metrics"))
	if body.InfluxDB == nil || body.InfluxDB.WriteFailures != 3 || body.InfluxDB.LastError != "bucket vrm not writable" {
		t.Errorf("InfluxDB = %+v, want 3 failures with last error", body.InfluxDB)
	}
}

func TestRouter_UnknownRoutes(t *testing.T) {
	srv := testServer(t, &fakeScheduler{}, &fakeBroker{}, nil)

	if w := get(t, srv, "/api/v1/devices"); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, &fakeScheduler{}, &fakeBroker{connected: true}, nil)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want echoed value", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := w.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a uuid", got)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, &fakeScheduler{}, &fakeBroker{connected: true}, nil)
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q", srv.Addr())
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/healthz"); err == nil {
		t.Error("server still answering after Close")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t, &fakeScheduler{}, &fakeBroker{}, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { first.Close() })

	_, port, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", first.Addr(), err)
	}
	second := testServer(t, &fakeScheduler{}, &fakeBroker{}, nil)
	if second.cfg.Port, err = strconv.Atoi(port); err != nil {
		t.Fatalf("Atoi(%q) error = %v", port, err)
	}

	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a bound port succeeded")
	}
}
