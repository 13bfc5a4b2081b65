package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

// SSEClient streams data events to an HTTP client as server-sent events.
type SSEClient struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	closed  bool
	NodeMetadata
}

func NewSSEClient(w http.ResponseWriter) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	c := &SSEClient{
		writer:       w,
		flusher:      flusher,
		NodeMetadata: newNodeMetadata("sse", nil),
	}
	c.Name = "SSE client"
	return c, nil
}

func (s *SSEClient) Send(msg proto.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sse stream closed")
	}
	// payloads are compact JSON, so one data line suffices
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", msg.Type, msg.Payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// close stops writes once the handler returns.
func (s *SSEClient) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SSEClient) Meta() *NodeMetadata {
	return &s.NodeMetadata
}
