package server

import (
	"errors"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

// MockClient records what the relay sends it.
type MockClient struct {
	metadata *NodeMetadata
	messages []proto.Message
	sendErr  error
	mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{metadata: &NodeMetadata{Id: id}}
}

func newIdentifiedMockClient(id, name string) *MockClient {
	mc := NewMockClient(id)
	mc.metadata.Name = name
	mc.metadata.Identified = true
	return mc
}

func (mc *MockClient) Send(msg proto.Message) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.sendErr != nil {
		return mc.sendErr
	}
	mc.messages = append(mc.messages, msg)
	return nil
}

func (mc *MockClient) Meta() *NodeMetadata {
	return mc.metadata
}

func (mc *MockClient) GetMessages() []proto.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	result := make([]proto.Message, len(mc.messages))
	copy(result, mc.messages)
	return result
}

func (mc *MockClient) SetSendError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sendErr = err
}

// MockTransport satisfies Transport without any I/O.
type MockTransport struct {
	onMessage    func(proto.Message)
	onConnect    func(Client) error
	onDisconnect func(Client)
	started      bool
	shutdown     bool
	name         string
}

func (m *MockTransport) Start() error {
	if m.onMessage == nil {
		return errors.New("callbacks unset")
	}
	m.started = true
	return nil
}

func (m *MockTransport) OnMessage(fn func(proto.Message))  { m.onMessage = fn }
func (m *MockTransport) OnConnect(fn func(Client) error)   { m.onConnect = fn }
func (m *MockTransport) OnDisconnect(fn func(Client))      { m.onDisconnect = fn }
func (m *MockTransport) Shutdown() error                   { m.shutdown = true; return nil }
func (m *MockTransport) SetName(name string)               { m.name = name }
func (m *MockTransport) SetDescription(description string) {}

func (m *MockTransport) Meta() TransportMetadata {
	return TransportMetadata{ID: "mock", Name: m.name, Protocol: "mock"}
}
