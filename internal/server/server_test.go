package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshp123/gohome-fpp/internal/core"
	"github.com/joshp123/gohome-fpp/internal/entity"
)

type lightHandler struct {
	registry *entity.Registry
	fail     atomic.Bool
}

func (h *lightHandler) HandleCommand(_ context.Context, cmd entity.Command) error {
	if h.fail.Load() {
		return errors.New("device unreachable")
	}
	state := entity.StateOff
	if cmd.Action == "turn_on" {
		state = entity.StateOn
	}
	h.registry.Set(entity.State{EntityID: cmd.EntityID, State: state, Available: true})
	return nil
}

func newEntityServer(t *testing.T) (*httptest.Server, *entity.Registry, *lightHandler) {
	t.Helper()
	registry := entity.NewRegistry()
	handler := &lightHandler{registry: registry}
	if err := registry.Register("light.fpp", handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	registry.Set(entity.State{EntityID: "light.fpp", State: entity.StateOff, Available: true})

	mux := http.NewServeMux()
	RegisterEntityRoutes(mux, registry, nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry, handler
}

type staticHealth struct {
	id      string
	status  core.HealthStatus
	message string
}

func (s staticHealth) ID() string                { return s.id }
func (s staticHealth) Health() core.HealthStatus { return s.status }
func (s staticHealth) HealthMessage() string     { return s.message }

func TestHealthHandler(t *testing.T) {
	handler := HealthHandler([]HealthReporter{
		staticHealth{id: "falcon_pi_player", status: core.HealthDegraded, message: "Garage: setup_retry"},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded plugins should stay live, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	got := body.Plugins["falcon_pi_player"]
	if body.Status != "ok" || got.Status != "DEGRADED" || got.Message != "Garage: setup_retry" {
		t.Fatalf("unexpected health body: %+v", body)
	}

	handler = HealthHandler([]HealthReporter{staticHealth{id: "broken", status: core.HealthError}})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for plugin error, got %d", rec.Code)
	}
}

func TestDashboardsHandler(t *testing.T) {
	handler := DashboardsHandler(map[string][]byte{"/dashboards/falcon_pi_player/overview.json": []byte(`{"title":"FPP"}`)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/falcon_pi_player/overview.json", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected dashboard response: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/missing.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/", nil))
	var index map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(index["dashboards"]) != 1 || index["dashboards"][0] != "/dashboards/falcon_pi_player/overview.json" {
		t.Fatalf("unexpected dashboard index: %v", index)
	}
}

func TestEntitiesListAndGet(t *testing.T) {
	srv, _, _ := newEntityServer(t)

	resp, err := http.Get(srv.URL + "/api/entities")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var states []entity.State
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != 1 || states[0].EntityID != "light.fpp" {
		t.Fatalf("unexpected states: %+v", states)
	}

	missing, err := http.Get(srv.URL + "/api/entities/light.nope")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestEntityCommand(t *testing.T) {
	srv, _, handler := newEntityServer(t)

	resp, err := http.Post(srv.URL+"/api/entities/light.fpp", "application/json", strings.NewReader(`{"action":"turn_on"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var state entity.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || state.State != entity.StateOn {
		t.Fatalf("unexpected command response: %d %+v", resp.StatusCode, state)
	}

	cases := []struct {
		path string
		body string
		want int
	}{
		{"/api/entities/light.fpp", `{`, http.StatusBadRequest},
		{"/api/entities/light.fpp", `{}`, http.StatusBadRequest},
		{"/api/entities/light.nope", `{"action":"turn_on"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+tc.path, "application/json", bytes.NewBufferString(tc.body))
		if err != nil {
			t.Fatalf("POST %s: %v", tc.path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("POST %s %s: got %d want %d", tc.path, tc.body, resp.StatusCode, tc.want)
		}
	}

	handler.fail.Store(true)
	resp, err = http.Post(srv.URL+"/api/entities/light.fpp", "application/json", strings.NewReader(`{"action":"turn_off"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestEventsStreamSnapshotThenChanges(t *testing.T) {
	srv, registry, _ := newEntityServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var evt entity.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if evt.Type != entity.EventStateChanged || evt.State.EntityID != "light.fpp" {
		t.Fatalf("unexpected snapshot event: %+v", evt)
	}

	registry.Set(entity.State{EntityID: "light.fpp", State: entity.StateOn, Available: true})
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if evt.State.State != entity.StateOn {
		t.Fatalf("unexpected change event: %+v", evt)
	}
}
