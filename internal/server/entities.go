package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/entity"
)

const (
	commandTimeout = 15 * time.Second
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// EntityStore is the entity registry surface served over HTTP.
type EntityStore interface {
	List() []entity.State
	Get(entityID string) (entity.State, bool)
	Call(ctx context.Context, cmd entity.Command) error
	Subscribe(buffer int) (<-chan entity.Event, func())
}

// RegisterEntityRoutes mounts the entity JSON API and event stream.
//
//	GET  /api/entities        all states
//	GET  /api/entities/{id}   one state
//	POST /api/entities/{id}   {"action": "...", "data": {...}}
//	GET  /api/events          websocket of state_changed / entity_removed
func RegisterEntityRoutes(mux *http.ServeMux, store EntityStore, logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	mux.HandleFunc("GET /api/entities", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, store.List())
	})
	mux.HandleFunc("GET /api/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		state, ok := store.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown entity")
			return
		}
		writeJSON(w, http.StatusOK, state)
	})
	mux.HandleFunc("POST /api/entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Action string         `json:"action"`
			Data   map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if body.Action == "" {
			writeError(w, http.StatusBadRequest, "action is required")
			return
		}
		cmd := entity.Command{EntityID: r.PathValue("id"), Action: body.Action, Data: body.Data}

		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		if err := store.Call(ctx, cmd); err != nil {
			if errors.Is(err, entity.ErrUnknownEntity) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			logger.WithError(err).WithFields(logrus.Fields{"entity_id": cmd.EntityID, "action": cmd.Action}).Warn("entity command failed")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		state, _ := store.Get(cmd.EntityID)
		writeJSON(w, http.StatusOK, state)
	})
	mux.Handle("GET /api/events", EventsHandler(store, logger))
}

// EventsHandler streams entity events over a websocket. The current
// states are sent first as state_changed events.
func EventsHandler(store EntityStore, logger logrus.FieldLogger) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Debug("websocket upgrade failed")
			return
		}
		defer conn.Close()

		events, unsubscribe := store.Subscribe(128)
		defer unsubscribe()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for _, state := range store.List() {
			if err := writeEvent(conn, entity.Event{Type: entity.EventStateChanged, State: state}); err != nil {
				return
			}
		}

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case evt, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(conn, evt); err != nil {
					logger.WithError(err).Debug("websocket write failed")
					return
				}
			}
		}
	})
}

func writeEvent(conn *websocket.Conn, evt entity.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(evt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
