package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type nodeView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role,omitempty"`
	Firmware    string    `json:"firmware,omitempty"`
	Identified  bool      `json:"identified"`
	Subscribed  bool      `json:"subscribed"`
	Transport   string    `json:"transport,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Routes is the relay's HTTP surface.
func (c *Coordinator) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", c.HandleHealth)
	r.Get("/nodes", c.HandleNodes)
	r.Get("/records", c.HandleRecords)
	r.Get("/records/*", c.HandleRecord)
	r.Get("/events", c.HandleEvents)
	r.Handle("/metrics", c.Metrics.Handler())
	return r
}

func (c *Coordinator) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"nodes":       c.Registry.Len(),
		"subscribers": c.Broker.Len(),
	})
}

func (c *Coordinator) HandleNodes(w http.ResponseWriter, r *http.Request) {
	clients := c.Registry.List()
	views := make([]nodeView, 0, len(clients))
	for _, client := range clients {
		meta := client.Meta()
		meta.Mu.RLock()
		view := nodeView{
			ID:          meta.Id,
			Name:        meta.Name,
			Role:        meta.Role,
			Firmware:    meta.Firmware,
			Identified:  meta.Identified,
			ConnectedAt: meta.ConnectedAt,
			LastSeen:    meta.LastSeen,
		}
		meta.Mu.RUnlock()
		if meta.Transport != nil {
			view.Transport = meta.Transport.Meta().Protocol
		}
		view.Subscribed = c.Broker.IsSubscribed(client)
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeJSON(w, http.StatusOK, views)
}

func (c *Coordinator) HandleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := c.Records.List(r.Context())
	if err != nil {
		c.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (c *Coordinator) HandleRecord(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	data, err := c.Records.Get(r.Context(), path)
	if err != nil {
		c.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Record{Path: path, Data: data})
}

// HandleEvents streams every data event the relay fans out.
func (c *Coordinator) HandleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := NewSSEClient(w)
	if err != nil {
		slog.Error("Streaming unsupported", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprint(w, ": connected\n\n")
	client.flusher.Flush()

	c.Broker.Subscribe(client)
	defer func() {
		c.Broker.Unsubscribe(client)
		client.close()
	}()

	<-r.Context().Done()
}

func (c *Coordinator) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrNodeNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("Relay API error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
