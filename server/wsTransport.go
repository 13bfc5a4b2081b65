package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // peers are trusted
	},
}

// WSTransport accepts nodes sending one JSON message per WebSocket text
// frame on /ws.
type WSTransport struct {
	*nodeTable

	smu    sync.Mutex
	server *http.Server
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{nodeTable: newNodeTable("ws-"+addr, "websocket", addr, 16)}
}

// Routes exposes the upgrade endpoint at /ws.
func (t *WSTransport) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", t.handleUpgrade)
	return r
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket relay", "addr", t.addr)
	if err := t.checkHooks(); err != nil {
		return err
	}

	l, err := t.listen()
	if err != nil {
		return err
	}
	defer t.unbind()

	srv := &http.Server{Handler: t.Routes()}
	t.smu.Lock()
	t.server = srv
	t.smu.Unlock()

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *WSTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if t.full() {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "relay full", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	go t.serve(conn, r.RemoteAddr)
}

func (t *WSTransport) serve(conn *websocket.Conn, remote string) {
	client := newWSClient(conn, t)
	slog.Info("WebSocket node connected", "addr", remote, "id", client.Id)

	defer func() {
		t.drop(client)
		conn.Close()
		slog.Info("WebSocket node disconnected", "addr", remote, "id", client.Id)
	}()

	if err := t.admit(client); err != nil {
		slog.Error("Failed to register WebSocket node", "addr", remote, "error", err)
		return
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remote, "error", err)
			}
			return
		}
		t.deliver(client, frame)
	}
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket relay", "addr", t.addr)
	t.smu.Lock()
	srv := t.server
	t.smu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}
