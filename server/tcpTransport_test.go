package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/mbocsi/wearlink/proto"
)

func startTCPRelay(t *testing.T) (*Coordinator, *TCPTransport) {
	t.Helper()
	relay := NewRelay(RelayOptions{})
	tcp := NewTCPTransport("127.0.0.1:0")
	relay.RegisterTransport(tcp)
	go tcp.Start()
	t.Cleanup(func() { tcp.Shutdown() })

	select {
	case <-tcp.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("TCP transport did not start")
	}
	return relay.Coordinator(), tcp
}

type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialLine(t *testing.T, addr string) *lineConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &lineConn{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (lc *lineConn) send(t *testing.T, msg proto.Message) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if _, err := lc.conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func (lc *lineConn) read(t *testing.T) proto.Message {
	t.Helper()
	lc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if !lc.scanner.Scan() {
		t.Fatalf("Failed to read reply: %v", lc.scanner.Err())
	}
	var msg proto.Message
	if err := json.Unmarshal(lc.scanner.Bytes(), &msg); err != nil {
		t.Fatalf("Invalid reply: %v", err)
	}
	return msg
}

func TestTCPTransport_IdentifyAndDisconnect(t *testing.T) {
	coord, tcp := startTCPRelay(t)
	lc := dialLine(t, tcp.ListenAddr())

	identify, _ := proto.NewMessage(proto.TypeIdentify, "", proto.IdentifyPayload{ProposedName: "watch", Firmware: "v1"})
	lc.send(t, identify)

	ack := lc.read(t)
	if ack.Type != proto.TypeIdentifyAck {
		t.Fatalf("Expected identify ack, got %s", ack.Type)
	}
	var payload proto.IdAckPayload
	json.Unmarshal(ack.Payload, &payload)
	if payload.Status != proto.StatusOK {
		t.Errorf("Expected ok status, got %s", payload.Status)
	}
	if len(payload.AssignedId) < 4 || payload.AssignedId[:4] != "tcp-" {
		t.Errorf("Expected tcp- node id, got %s", payload.AssignedId)
	}

	meta := tcp.Meta()
	if meta.Protocol != "tcp" || !meta.Connected {
		t.Errorf("Unexpected transport metadata: %+v", meta)
	}
	if len(meta.Clients) != 1 {
		t.Errorf("Expected 1 client, got %d", len(meta.Clients))
	}
	if _, err := coord.Registry.Identified(payload.AssignedId); err != nil {
		t.Errorf("Expected node to be identified in the registry, got %v", err)
	}

	lc.conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for coord.Registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected node to be unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTCPTransport_IgnoresInvalidJSON(t *testing.T) {
	_, tcp := startTCPRelay(t)
	lc := dialLine(t, tcp.ListenAddr())

	lc.conn.Write([]byte("not json\n"))
	identify, _ := proto.NewMessage(proto.TypeIdentify, "", proto.IdentifyPayload{Firmware: "v1"})
	lc.send(t, identify)

	if reply := lc.read(t); reply.Type != proto.TypeIdentifyAck {
		t.Errorf("Expected the connection to survive bad input, got %s", reply.Type)
	}
}

func TestTCPTransport_StartWithoutCallbacks(t *testing.T) {
	tcp := NewTCPTransport("127.0.0.1:0")
	if err := tcp.Start(); err != errCallbacksUnset {
		t.Errorf("Expected errCallbacksUnset, got %v", err)
	}
}

func TestTCPTransport_SetNameAndDescription(t *testing.T) {
	tcp := NewTCPTransport("127.0.0.1:0")
	tcp.SetName("Phone link")
	tcp.SetDescription("Handheld nodes")

	meta := tcp.Meta()
	if meta.Name != "Phone link" || meta.Description != "Handheld nodes" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if meta.MaxClients != 16 {
		t.Errorf("Expected default max clients 16, got %d", meta.MaxClients)
	}
}
