package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/wearlink/proto"
)

const (
	dialTimeout = 5 * time.Second
	maxLineSize = 1024 * 1024
)

func encodeFrame(msg proto.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

func decodeFrame(frame []byte) (proto.Message, error) {
	var msg proto.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return proto.Message{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return msg, nil
}

// TCPTransport speaks newline-delimited JSON.
type TCPTransport struct {
	conn    net.Conn
	lines   *bufio.Scanner
	writeMu sync.Mutex
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Connect(addr string) error {
	d := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", addr, err)
	}
	t.attach(conn)
	return nil
}

func (t *TCPTransport) attach(conn net.Conn) {
	t.conn = conn
	t.lines = bufio.NewScanner(conn)
	t.lines.Buffer(make([]byte, 0, 64*1024), maxLineSize)
}

func (t *TCPTransport) Send(msg proto.Message) error {
	if t.conn == nil {
		return ErrNotDialed
	}
	data, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.conn.Write(append(data, '\n'))
	return err
}

func (t *TCPTransport) Read() (proto.Message, error) {
	if t.conn == nil {
		return proto.Message{}, ErrNotDialed
	}
	if t.lines.Scan() {
		return decodeFrame(t.lines.Bytes())
	}
	if err := t.lines.Err(); err != nil {
		return proto.Message{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return proto.Message{}, ErrConnectionClosed
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
