package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbocsi/wearlink/proto"
)

// fakeRelay answers the client protocol over net.Pipe connections.
type fakeRelay struct {
	refuse   atomic.Bool
	rejectID atomic.Bool
	silent   atomic.Bool

	mu    sync.Mutex
	conns []*relayConn
	seen  []proto.Message
}

type relayConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (rc *relayConn) send(t *testing.T, msg proto.Message) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	data, _ := json.Marshal(msg)
	rc.conn.Write(append(data, '\n'))
}

func (r *fakeRelay) accept(t *testing.T) (net.Conn, error) {
	if r.refuse.Load() {
		return nil, errors.New("connection refused")
	}
	server, client := net.Pipe()
	rc := &relayConn{conn: server}
	r.mu.Lock()
	r.conns = append(r.conns, rc)
	r.mu.Unlock()
	go r.serve(t, rc)
	return client, nil
}

func (r *fakeRelay) serve(t *testing.T, rc *relayConn) {
	scanner := bufio.NewScanner(rc.conn)
	for scanner.Scan() {
		var msg proto.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		r.mu.Lock()
		r.seen = append(r.seen, msg)
		r.mu.Unlock()

		switch msg.Type {
		case proto.TypeIdentify:
			status := proto.StatusOK
			if r.rejectID.Load() {
				status = proto.StatusFailed
			}
			ack, _ := proto.NewMessage(proto.TypeIdentifyAck, "", proto.IdAckPayload{AssignedId: "node-1", Status: status})
			rc.send(t, ack)
		case proto.TypeGetNodes:
			if r.silent.Load() {
				continue
			}
			reply, _ := proto.NewMessage(proto.TypeNodes, "", proto.NodesPayload{Nodes: []proto.Node{{ID: "watch-1", DisplayName: "watch"}}})
			reply.RequestID = msg.RequestID
			rc.send(t, reply)
		default:
			result := proto.ResultPayload{Status: proto.StatusOK}
			if msg.Path == "/reject" {
				result = proto.ResultPayload{Status: proto.StatusFailed, Error: "rejected"}
			}
			reply, _ := proto.NewMessage(proto.TypeResult, msg.Path, result)
			reply.RequestID = msg.RequestID
			rc.send(t, reply)
		}
	}
}

func (r *fakeRelay) count(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.seen {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (r *fakeRelay) last() *relayConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[len(r.conns)-1]
}

func (r *fakeRelay) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.conns {
		rc.conn.Close()
	}
}

type pipeTransport struct {
	*TCPTransport
	t     *testing.T
	relay *fakeRelay
}

func (p *pipeTransport) Connect(addr string) error {
	conn, err := p.relay.accept(p.t)
	if err != nil {
		return err
	}
	p.attach(conn)
	return nil
}

type recordingEvents struct {
	ch chan string

	mu       sync.Mutex
	failErr  error
	messages []proto.Message
	data     []proto.DataEvent
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{ch: make(chan string, 32)}
}

func (e *recordingEvents) Connected()      { e.ch <- "connected" }
func (e *recordingEvents) Suspended(error) { e.ch <- "suspended" }
func (e *recordingEvents) Disconnected()   { e.ch <- "disconnected" }
func (e *recordingEvents) ConnectionFailed(err error) {
	e.mu.Lock()
	e.failErr = err
	e.mu.Unlock()
	e.ch <- "failed"
}

func (e *recordingEvents) MessageReceived(msg proto.Message) {
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()
	e.ch <- "message"
}

func (e *recordingEvents) DataChanged(events []proto.DataEvent) {
	e.mu.Lock()
	e.data = append(e.data, events...)
	e.mu.Unlock()
	e.ch <- "data"
}

func (e *recordingEvents) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-e.ch:
		if got != want {
			t.Fatalf("Expected event %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for event %q", want)
	}
}

func newTestClient(t *testing.T, relay *fakeRelay) *Client {
	c := NewClient(Options{
		Name:       "watch",
		Role:       "watch",
		Addr:       "pipe",
		RetryDelay: time.Millisecond,
		NewTransport: func() Transport {
			return &pipeTransport{TCPTransport: NewTCPTransport(), t: t, relay: relay}
		},
	})
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_ConnectsAndIdentifies(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(t, relay)
	events := newRecordingEvents()

	c.Dial(events)
	events.expect(t, "connected")

	if c.ID() != "node-1" {
		t.Errorf("Expected assigned id node-1, got %q", c.ID())
	}
	if relay.count(proto.TypeIdentify) != 1 {
		t.Errorf("Expected one identify, got %d", relay.count(proto.TypeIdentify))
	}
}

func TestClient_RequestsCorrelate(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(t, relay)
	events := newRecordingEvents()
	c.Dial(events)
	events.expect(t, "connected")

	nodes, err := c.ConnectedNodes(ctxTimeout(t))
	if err != nil {
		t.Fatalf("ConnectedNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "watch-1" {
		t.Errorf("Unexpected nodes: %+v", nodes)
	}

	data := proto.NewDataMap()
	data.PutInt("weather_id", 800)
	if err := c.PutData(ctxTimeout(t), "/weather", data, true); err != nil {
		t.Errorf("Expected put to succeed, got %v", err)
	}
	if err := c.PutData(ctxTimeout(t), "/reject", data, true); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Expected ErrRequestFailed, got %v", err)
	}
	if err := c.SendMessage(ctxTimeout(t), "phone-1", "/weather-req", nil); err != nil {
		t.Errorf("Expected send to succeed, got %v", err)
	}
	if c.pending.len() != 0 {
		t.Errorf("Expected no pending requests, got %d", c.pending.len())
	}
}

func TestClient_DeliversInbound(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(t, relay)
	events := newRecordingEvents()
	c.Dial(events)
	events.expect(t, "connected")

	msg, _ := proto.NewPeerMessage("node-1", "/weather-req", nil)
	msg.Sender = "watch-1"
	relay.last().send(t, msg)
	events.expect(t, "message")

	changed, _ := proto.NewMessage(proto.TypeDataChanged, "", proto.DataEventsPayload{Events: []proto.DataEvent{
		{Type: proto.DataChanged, Path: "/weather", Data: proto.NewDataMap(), Seq: 1},
	}})
	relay.last().send(t, changed)
	events.expect(t, "data")

	deleted, _ := proto.NewMessage(proto.TypeDataDeleted, "", proto.DataEvent{Type: proto.DataDeleted, Path: "/weather", Seq: 2})
	relay.last().send(t, deleted)
	events.expect(t, "data")

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.messages) != 1 || events.messages[0].Sender != "watch-1" {
		t.Errorf("Unexpected messages: %+v", events.messages)
	}
	if len(events.data) != 2 || events.data[0].Type != proto.DataChanged || events.data[1].Type != proto.DataDeleted {
		t.Errorf("Unexpected data events: %+v", events.data)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	relay := &fakeRelay{}
	relay.refuse.Store(true)
	c := newTestClient(t, relay)
	events := newRecordingEvents()

	c.Dial(events)
	events.expect(t, "failed")
}

func TestClient_IdentifyRejected(t *testing.T) {
	relay := &fakeRelay{}
	relay.rejectID.Store(true)
	c := newTestClient(t, relay)
	events := newRecordingEvents()

	c.Dial(events)
	events.expect(t, "failed")

	events.mu.Lock()
	err := events.failErr
	events.mu.Unlock()
	if !errors.Is(err, ErrIdentifyRejected) {
		t.Errorf("Expected ErrIdentifyRejected, got %v", err)
	}
	if n := relay.count(proto.TypeIdentify); n != 3 {
		t.Errorf("Expected 3 identify attempts, got %d", n)
	}
}

func TestClient_ReconnectsAndResubscribes(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(t, relay)
	events := newRecordingEvents()
	c.Dial(events)
	events.expect(t, "connected")

	if err := c.SubscribeData(ctxTimeout(t)); err != nil {
		t.Fatalf("SubscribeData: %v", err)
	}

	relay.dropAll()
	events.expect(t, "suspended")
	events.expect(t, "connected")

	deadline := time.Now().Add(2 * time.Second)
	for relay.count(proto.TypeSubscribeData) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := relay.count(proto.TypeSubscribeData); n != 2 {
		t.Errorf("Expected the subscription to be restored, got %d subscribes", n)
	}
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestClient(t, relay)
	events := newRecordingEvents()
	c.Dial(events)
	events.expect(t, "connected")

	relay.refuse.Store(true)
	relay.dropAll()
	events.expect(t, "suspended")
	events.expect(t, "disconnected")
}

func TestClient_DisconnectFailsPending(t *testing.T) {
	relay := &fakeRelay{}
	relay.silent.Store(true)
	c := newTestClient(t, relay)
	events := newRecordingEvents()
	c.Dial(events)
	events.expect(t, "connected")

	ctx := ctxTimeout(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.ConnectedNodes(ctx)
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.pending.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected pending request to fail")
	}
	events.expect(t, "disconnected")
}

func TestDiscoveredService_Addr(t *testing.T) {
	tcp := &DiscoveredService{Address: "10.0.0.2", Port: 8888, Transport: "tcp"}
	if tcp.Addr() != "10.0.0.2:8888" {
		t.Errorf("Unexpected tcp addr %s", tcp.Addr())
	}
	ws := &DiscoveredService{Address: "fe80::1", Port: 8080, Transport: "websocket"}
	if ws.Addr() != "ws://[fe80::1]:8080/ws" {
		t.Errorf("Unexpected websocket addr %s", ws.Addr())
	}
}

func TestRelayURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8889":           "ws://127.0.0.1:8889/ws",
		"ws://relay.local:8889/ws": "ws://relay.local:8889/ws",
		"tcp://10.0.0.2:8889":      "ws://10.0.0.2:8889/ws",
		"https://relay.example/":   "wss://relay.example/ws",
		"ws://relay.local/custom":  "ws://relay.local/custom",
	}
	for in, want := range cases {
		got, err := relayURL(in)
		if err != nil {
			t.Errorf("relayURL(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("relayURL(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := relayURL("ftp://relay.local"); err == nil {
		t.Error("Expected an unsupported scheme to fail")
	}
}
