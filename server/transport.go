package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/wearlink/proto"
)

type Transport interface {
	Start() error
	OnMessage(func(proto.Message))
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g., "TCP relay"
	Protocol    string // "tcp", "websocket" or "memory"
	Address     string // Bind address, e.g., "0.0.0.0:8888"
	Description string

	Clients    map[string]Client // Current active clients
	MaxClients int               // Max allowed clients (0 = unlimited)
	Connected  bool              // Whether the transport is currently bound
}

// NodeMetadata describes one connected node. Fields other than Id and
// Transport are written under Mu.
type NodeMetadata struct {
	Id          string
	Name        string
	Role        string
	Firmware    string
	Identified  bool
	ConnectedAt time.Time
	LastSeen    time.Time
	Transport   Transport
	Mu          sync.RWMutex
}

func newNodeMetadata(prefix string, t Transport) NodeMetadata {
	now := time.Now()
	return NodeMetadata{Id: generateClientId(prefix), ConnectedAt: now, LastSeen: now, Transport: t}
}

// Snapshot returns the node as peers see it.
func (m *NodeMetadata) Snapshot() proto.Node {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	name := m.Name
	if name == "" {
		name = m.Id
	}
	return proto.Node{ID: m.Id, DisplayName: name, Nearby: true}
}

func (m *NodeMetadata) IsIdentified() bool {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return m.Identified
}

func (m *NodeMetadata) Touch() {
	m.Mu.Lock()
	m.LastSeen = time.Now()
	m.Mu.Unlock()
}

type Client interface {
	Send(proto.Message) error
	Meta() *NodeMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
