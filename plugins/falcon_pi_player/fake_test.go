package falcon_pi_player

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
)

const (
	testUser     = "admin"
	testPassword = "falcon"
)

type commandCall struct {
	Command string `json:"command"`
	Args    []any  `json:"args"`
}

// fakeFPP is an in-process FPP device.
type fakeFPP struct {
	mu           sync.Mutex
	status       map[string]any
	playlists    []string
	brightness   int
	images       map[string]bool
	imageFails   int
	requireAuth  bool
	password     string
	noBrightness bool
	failCommands bool
	commands     []commandCall
	paths        []string

	server *httptest.Server
}

func newFakeFPP(t *testing.T) *fakeFPP {
	t.Helper()
	f := &fakeFPP{
		status: map[string]any{
			"fppd":        "running",
			"status_name": "idle",
			"volume":      70,
			"host_name":   "fpp-garage",
			"interfaces":  []any{map[string]any{"ifname": "eth0", "address": "10.0.0.5"}},
		},
		playlists:  []string{"Evening", "Morning"},
		brightness: 100,
		password:   testPassword,
		images:     map[string]bool{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFPP) URL() string {
	return f.server.URL
}

func (f *fakeFPP) Port() string {
	u, _ := url.Parse(f.server.URL)
	return u.Port()
}

func (f *fakeFPP) set(fn func(f *fakeFPP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFPP) lastCommand() (commandCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return commandCall{}, false
	}
	return f.commands[len(f.commands)-1], true
}

func (f *fakeFPP) sawPath(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (f *fakeFPP) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.requireAuth {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testUser || pass != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	f.paths = append(f.paths, r.URL.Path)

	path := r.URL.Path
	switch {
	case path == "/api/system/status":
		_ = json.NewEncoder(w).Encode(f.status)
	case path == "/api/playlists/playable":
		_ = json.NewEncoder(w).Encode(f.playlists)
	case path == "/api/plugin-apis/Brightness" && !f.noBrightness:
		_, _ = w.Write([]byte(strconv.Itoa(f.brightness)))
	case path == "/api/command" && r.Method == http.MethodPost:
		if f.failCommands {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var call commandCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.commands = append(f.commands, call)
		if call.Command == fadeCommand && len(call.Args) > 0 {
			if s, ok := call.Args[0].(string); ok {
				f.brightness, _ = strconv.Atoi(s)
			}
		}
		_, _ = w.Write([]byte("OK"))
	case strings.HasPrefix(path, "/api/file/Images/") && r.Method == http.MethodHead:
		if f.imageFails > 0 {
			f.imageFails--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		title := strings.TrimSuffix(strings.TrimPrefix(path, "/api/file/Images/"), ".jpg")
		if !f.images[title] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(path, "/api/command/"),
		strings.HasPrefix(path, "/api/playlists/"),
		strings.HasPrefix(path, "/api/playlist/"),
		strings.HasPrefix(path, "/api/system/fppd/"):
		if f.failCommands {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("OK"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type testHub struct {
	manager     *entries.Manager
	registry    *entity.Registry
	integration *Integration
	flow        *ConfigFlow
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	logger := quietLogger()
	manager := entries.NewManager(entries.NewMemoryStore(), entries.ManagerOptions{
		Logger:        logger,
		RetryInterval: time.Hour,
	})
	t.Cleanup(func() { manager.Close(context.Background()) })
	registry := entity.NewRegistry()
	integration := NewIntegration(registry, nil, logger)
	manager.RegisterIntegration(integration)
	return &testHub{
		manager:     manager,
		registry:    registry,
		integration: integration,
		flow:        NewConfigFlow(manager, integration, false, logger),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
