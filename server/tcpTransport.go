package server

import (
	"bufio"
	"log/slog"
	"net"
)

// maxLineSize bounds one newline-delimited JSON message.
const maxLineSize = 1024 * 1024

// TCPTransport accepts nodes speaking newline-delimited JSON over TCP.
type TCPTransport struct {
	*nodeTable
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{nodeTable: newNodeTable("tcp-"+addr, "tcp", addr, 16)}
}

// Start accepts connections until Shutdown closes the listener.
func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp relay", "addr", t.addr)
	if err := t.checkHooks(); err != nil {
		return err
	}

	l, err := t.listen()
	if err != nil {
		return err
	}
	defer func() {
		l.Close()
		t.unbind()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		if t.full() {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go t.serve(conn)
	}
}

func (t *TCPTransport) serve(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	client := newTCPClient(conn, t)
	slog.Info("Node connected", "addr", remote, "id", client.Id)

	defer func() {
		t.drop(client)
		conn.Close()
		slog.Info("Node disconnected", "addr", remote, "id", client.Id)
	}()

	if err := t.admit(client); err != nil {
		slog.Error("Failed to register node", "addr", remote, "error", err)
		return
	}

	lines := bufio.NewScanner(conn)
	lines.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lines.Scan() {
		t.deliver(client, lines.Bytes())
	}
	if err := lines.Err(); err != nil {
		slog.Warn("Connection error", "addr", remote, "error", err)
	}
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp relay", "addr", t.addr)
	if l := t.boundListener(); l != nil {
		return l.Close()
	}
	return nil
}
