// Package api serves the daemon's control and status HTTP surface: app
// listing, reload and terminate triggers, per-app logs, recent deployment
// history, and Prometheus metrics. Deploy triggers are fire-and-forget; the
// endpoints return as soon as the command is queued.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomyedwab/apphost/audit"
	"github.com/tomyedwab/apphost/manager"
)

const defaultLogCount = 100

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m     *manager.Manager
	trail *audit.Trail
	r     *mux.Router
}

// NewHandler creates the control API handler. trail may be nil, in which case
// the history endpoints report 404.
func NewHandler(m *manager.Manager, trail *audit.Trail) *Handler {
	h := &Handler{m: m, trail: trail, r: mux.NewRouter()}

	h.r.HandleFunc("/api/apps", h.listApps).Methods("GET")
	h.r.HandleFunc("/api/apps/{app}", h.getApp).Methods("GET")
	h.r.HandleFunc("/api/apps/{app}/reload", h.reloadApp).Methods("POST")
	h.r.HandleFunc("/api/apps/{app}/terminate", h.terminateApp).Methods("POST")
	h.r.HandleFunc("/api/apps/{app}/log", h.appLog).Methods("GET")
	h.r.HandleFunc("/api/apps/{app}/history", h.appHistory).Methods("GET")
	h.r.HandleFunc("/api/history", h.history).Methods("GET")
	h.r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.r.ServeHTTP(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) listApps(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.m.List())
}

func (h *Handler) getApp(w http.ResponseWriter, r *http.Request) {
	app, ok := h.m.Get(mux.Vars(r)["app"])
	if !ok {
		http.Error(w, "app not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, app.Status())
}

func (h *Handler) reloadApp(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Reload(mux.Vars(r)["app"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) terminateApp(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Terminate(mux.Vars(r)["app"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) appLog(w http.ResponseWriter, r *http.Request) {
	app, ok := h.m.Get(mux.Vars(r)["app"])
	if !ok {
		http.Error(w, "app not found", http.StatusNotFound)
		return
	}

	count := defaultLogCount
	if q := r.URL.Query().Get("count"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
		count = parsed
	}
	h.writeJSON(w, app.Logger().Buffer().Latest(count))
}

func (h *Handler) appHistory(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}
	events, err := h.trail.RecentForApp(mux.Vars(r)["app"], defaultLogCount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, events)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		http.Error(w, "history not available", http.StatusNotFound)
		return
	}
	events, err := h.trail.Recent(defaultLogCount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, events)
}
