package client

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/wearlink/proto"
)

// WebSocketTransport sends one JSON message per text frame.
type WebSocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// relayURL turns addr into the relay's upgrade URL. A bare host:port or a
// tcp:// address is taken to mean the relay's /ws endpoint.
func relayURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "tcp":
		u.Scheme = "ws"
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (t *WebSocketTransport) Connect(addr string) error {
	target, err := relayURL(addr)
	if err != nil {
		return err
	}
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := d.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", target, err)
	}
	t.conn = conn
	return nil
}

func (t *WebSocketTransport) Send(msg proto.Message) error {
	if t.conn == nil {
		return ErrNotDialed
	}
	data, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	// gorilla connections allow one concurrent writer
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s message: %w", msg.Type, err)
	}
	return nil
}

func (t *WebSocketTransport) Read() (proto.Message, error) {
	if t.conn == nil {
		return proto.Message{}, ErrNotDialed
	}
	_, frame, err := t.conn.ReadMessage()
	if err != nil {
		return proto.Message{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return decodeFrame(frame)
}

// Close says goodbye with a normal close frame, then drops the socket.
func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	t.writeMu.Lock()
	err := t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	if err != nil {
		slog.Debug("Failed to send close message", "error", err)
	}
	return t.conn.Close()
}
