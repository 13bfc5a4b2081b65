package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/wearlink/proto"
)

// writeTimeout keeps one stalled node from holding up fan-out to the rest.
const writeTimeout = 10 * time.Second

// connClient is a node attached over a network connection. write puts one
// encoded message on the wire; calls to it are serialized.
type connClient struct {
	NodeMetadata
	mu    sync.Mutex
	write func(frame []byte) error
}

func newTCPClient(conn net.Conn, t Transport) *connClient {
	return &connClient{
		NodeMetadata: newNodeMetadata("tcp", t),
		write: func(frame []byte) error {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_, err := conn.Write(append(frame, '\n'))
			return err
		},
	}
}

func newWSClient(conn *websocket.Conn, t Transport) *connClient {
	return &connClient{
		NodeMetadata: newNodeMetadata("ws", t),
		write: func(frame []byte) error {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			return conn.WriteMessage(websocket.TextMessage, frame)
		},
	}
}

func (c *connClient) Send(msg proto.Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	c.mu.Lock()
	err = c.write(frame)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Debug("Sent message", "to", c.Id, "type", msg.Type, "path", msg.Path, "size", len(msg.Payload))
	return nil
}

func (c *connClient) Meta() *NodeMetadata {
	return &c.NodeMetadata
}
