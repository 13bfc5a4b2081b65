package linktest

import (
	"context"
	"sync"

	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
)

type Put struct {
	Path   string
	Data   proto.DataMap
	Urgent bool
}

type Send struct {
	NodeID  string
	Path    string
	Payload []byte
}

// Endpoint is an in-memory link.Endpoint. With AutoConnect set it reports
// Connected as soon as it is dialed.
type Endpoint struct {
	AutoConnect bool

	mu           sync.Mutex
	events       link.EndpointEvents
	nodes        []proto.Node
	sendErrs     map[string]error
	putErr       error
	puts         []Put
	sends        []Send
	subscribes   int
	unsubscribes int
	disconnects  int
}

func (e *Endpoint) SetNodes(nodes ...proto.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = nodes
}

// FailSendTo makes every send to nodeID fail with err.
func (e *Endpoint) FailSendTo(nodeID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErrs == nil {
		e.sendErrs = make(map[string]error)
	}
	e.sendErrs[nodeID] = err
}

func (e *Endpoint) FailPuts(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.putErr = err
}

// Events returns the callbacks handed over by Dial, nil before that.
func (e *Endpoint) Events() link.EndpointEvents {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

func (e *Endpoint) Puts() []Put {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Put(nil), e.puts...)
}

func (e *Endpoint) Sends() []Send {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Send(nil), e.sends...)
}

func (e *Endpoint) Subscribes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribes
}

func (e *Endpoint) Unsubscribes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsubscribes
}

func (e *Endpoint) Disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnects
}

func (e *Endpoint) Dial(events link.EndpointEvents) {
	e.mu.Lock()
	e.events = events
	e.mu.Unlock()
	if e.AutoConnect {
		events.Connected()
	}
}

func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	e.disconnects++
	events := e.events
	e.mu.Unlock()
	if events != nil {
		events.Disconnected()
	}
	return nil
}

func (e *Endpoint) ConnectedNodes(ctx context.Context) ([]proto.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]proto.Node(nil), e.nodes...), nil
}

func (e *Endpoint) SendMessage(ctx context.Context, nodeID, path string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, Send{NodeID: nodeID, Path: path, Payload: payload})
	return e.sendErrs[nodeID]
}

func (e *Endpoint) PutData(ctx context.Context, path string, data proto.DataMap, urgent bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.putErr != nil {
		return e.putErr
	}
	e.puts = append(e.puts, Put{Path: path, Data: data, Urgent: urgent})
	return nil
}

func (e *Endpoint) SubscribeData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribes++
	return nil
}

func (e *Endpoint) UnsubscribeData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubscribes++
	return nil
}

// Factory builds endpoints for link.NewSession and remembers each one.
type Factory struct {
	AutoConnect bool
	Nodes       []proto.Node

	mu        sync.Mutex
	endpoints []*Endpoint
}

func (f *Factory) New() link.Endpoint {
	ep := &Endpoint{AutoConnect: f.AutoConnect}
	ep.SetNodes(f.Nodes...)
	f.mu.Lock()
	f.endpoints = append(f.endpoints, ep)
	f.mu.Unlock()
	return ep
}

// Last is the most recently built endpoint, nil if none was built yet.
func (f *Factory) Last() *Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.endpoints) == 0 {
		return nil
	}
	return f.endpoints[len(f.endpoints)-1]
}

func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endpoints)
}
