package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lookout-hq/lookout/monitor/scheduler"
)

// API is the operational HTTP surface: health, scheduler introspection,
// metrics, and the live status websocket.
type API struct {
	manager  *scheduler.Manager
	hub      *StatusHub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewAPI wires the ops handlers.
func NewAPI(mgr *scheduler.Manager, hub *StatusHub, log zerolog.Logger) *API {
	return &API{
		manager: mgr,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Status feed is read-only and unauthenticated; same-origin
			// enforcement happens at the proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Routes registers every handler on the mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/scheduler/status", a.handleSchedulerStatus)
	mux.HandleFunc("/scheduler/health/check", a.handleForceHealthCheck)
	mux.HandleFunc("/ws/status", a.handleStatusWS)
	mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (a *API) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, a.manager.GetStatus())
}

// handleForceHealthCheck runs an immediate circuit-breaker sample,
// bypassing the rate limit, and returns the resulting state.
func (a *API) handleForceHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, a.manager.ForceHealthCheck(r.Context()))
}

func (a *API) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	a.hub.Register(conn)

	// Read pump: discard client frames, unregister on close.
	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
