package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/wearlink/proto"
)

var errCallbacksUnset = errors.New("the OnConnect, OnDisconnect, or OnMessage function is not defined; register the transport with a relay first")

// nodeTable is what every transport shares regardless of wire: the relay's
// hooks, the nodes currently attached, the admission limit and bind state.
// Transports embed it and add their own Start and Shutdown.
type nodeTable struct {
	id       string
	protocol string
	addr     string

	onMessage    func(proto.Message)
	onConnect    func(Client) error
	onDisconnect func(Client)

	mu          sync.RWMutex
	name        string
	description string
	nodes       map[string]Client
	maxNodes    int // 0 is unlimited
	listener    net.Listener

	bound     atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
}

func newNodeTable(id, protocol, addr string, maxNodes int) *nodeTable {
	return &nodeTable{
		id:       id,
		protocol: protocol,
		addr:     addr,
		nodes:    make(map[string]Client),
		maxNodes: maxNodes,
		ready:    make(chan struct{}),
	}
}

func (n *nodeTable) OnMessage(fn func(proto.Message)) { n.onMessage = fn }
func (n *nodeTable) OnConnect(fn func(Client) error)  { n.onConnect = fn }
func (n *nodeTable) OnDisconnect(fn func(Client))     { n.onDisconnect = fn }

func (n *nodeTable) SetName(name string) {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
}

func (n *nodeTable) SetDescription(description string) {
	n.mu.Lock()
	n.description = description
	n.mu.Unlock()
}

func (n *nodeTable) SetMaxClients(max int) {
	n.mu.Lock()
	n.maxNodes = max
	n.mu.Unlock()
}

func (n *nodeTable) checkHooks() error {
	if n.onConnect == nil || n.onDisconnect == nil || n.onMessage == nil {
		return errCallbacksUnset
	}
	return nil
}

// listen binds the table's address and marks the transport ready.
func (n *nodeTable) listen() (net.Listener, error) {
	l, err := net.Listen("tcp", n.addr)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()
	n.markBound()
	return l, nil
}

func (n *nodeTable) markBound() {
	n.bound.Store(true)
	n.readyOnce.Do(func() { close(n.ready) })
}

func (n *nodeTable) unbind() {
	n.bound.Store(false)
}

func (n *nodeTable) boundListener() net.Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.listener
}

// Ready is closed once the transport accepts nodes.
func (n *nodeTable) Ready() <-chan struct{} {
	return n.ready
}

// ListenAddr is the bound address, useful with port 0.
func (n *nodeTable) ListenAddr() string {
	if l := n.boundListener(); l != nil {
		return l.Addr().String()
	}
	return n.addr
}

func (n *nodeTable) full() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxNodes > 0 && len(n.nodes) >= n.maxNodes
}

// admit registers c with the relay, then tracks it.
func (n *nodeTable) admit(c Client) error {
	if err := n.onConnect(c); err != nil {
		return err
	}
	n.mu.Lock()
	n.nodes[c.Meta().Id] = c
	n.mu.Unlock()
	return nil
}

// drop forgets c and tells the relay it is gone.
func (n *nodeTable) drop(c Client) {
	n.mu.Lock()
	delete(n.nodes, c.Meta().Id)
	n.mu.Unlock()
	n.onDisconnect(c)
}

func (n *nodeTable) lookup(id string) (Client, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.nodes[id]
	return c, ok
}

func (n *nodeTable) snapshot() map[string]Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nodes := make(map[string]Client, len(n.nodes))
	for id, c := range n.nodes {
		nodes[id] = c
	}
	return nodes
}

// deliver decodes one frame from c and hands it to the relay, stamped with
// c's id. Undecodable frames are logged and dropped.
func (n *nodeTable) deliver(c Client, frame []byte) {
	var msg proto.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		slog.Warn("Invalid JSON message received", "transport", n.protocol, "error", err, "data", string(frame))
		return
	}
	n.route(c, msg)
}

func (n *nodeTable) route(c Client, msg proto.Message) {
	msg.Sender = c.Meta().Id
	slog.Debug("Message received", "transport", n.protocol, "type", msg.Type, "path", msg.Path, "sender", msg.Sender, "size", len(msg.Payload))
	n.onMessage(msg)
}

func (n *nodeTable) Meta() TransportMetadata {
	nodes := n.snapshot()
	n.mu.RLock()
	defer n.mu.RUnlock()
	return TransportMetadata{
		ID:          n.id,
		Name:        n.name,
		Description: n.description,
		Protocol:    n.protocol,
		Address:     n.addr,
		Clients:     nodes,
		MaxClients:  n.maxNodes,
		Connected:   n.bound.Load(),
	}
}
