package server

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

// MemoryTransport carries nodes that live in the relay's own process, such
// as tests or an embedded node.
type MemoryTransport struct {
	*nodeTable
}

func NewMemoryTransport() *MemoryTransport {
	t := &MemoryTransport{nodeTable: newNodeTable("memory", "memory", "na", 0)}
	t.SetName("In-memory transport")
	t.SetDescription("In-process nodes")
	return t
}

func (mt *MemoryTransport) Start() error {
	slog.Info("Starting in-memory transport")
	if err := mt.checkHooks(); err != nil {
		return err
	}
	mt.markBound()
	return nil
}

// Shutdown detaches every node.
func (mt *MemoryTransport) Shutdown() error {
	for _, client := range mt.snapshot() {
		mt.drop(client)
	}
	mt.unbind()
	slog.Info("In-memory transport shut down")
	return nil
}

// Connect attaches a new in-memory node and returns it.
func (mt *MemoryTransport) Connect() (*MemoryClient, error) {
	client := NewMemoryClient(mt)
	if err := mt.admit(client); err != nil {
		return nil, err
	}
	return client, nil
}

// Disconnect detaches the node with clientID.
func (mt *MemoryTransport) Disconnect(clientID string) {
	if client, ok := mt.lookup(clientID); ok {
		mt.drop(client)
	}
}

// Deliver hands msg to the relay as if sent by client.
func (mt *MemoryTransport) Deliver(client *MemoryClient, msg proto.Message) {
	mt.route(client, msg)
}

// MemoryClient keeps every message the relay sends it.
type MemoryClient struct {
	NodeMetadata

	mu       sync.Mutex
	messages []proto.Message
}

func NewMemoryClient(t Transport) *MemoryClient {
	return &MemoryClient{NodeMetadata: newNodeMetadata("mem", t)}
}

func (c *MemoryClient) Send(msg proto.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *MemoryClient) Meta() *NodeMetadata {
	return &c.NodeMetadata
}

// Messages returns what the relay has sent so far, optionally filtered by type.
func (c *MemoryClient) Messages(msgType string) []proto.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []proto.Message
	for _, m := range c.messages {
		if msgType == "" || m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}
