package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/wearlink/proto"
)

type reply struct {
	msg proto.Message
	err error
}

// pendingRequests correlates relay replies with outstanding requests by
// RequestID.
type pendingRequests struct {
	mu       sync.Mutex
	requests map[string]chan reply
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{requests: make(map[string]chan reply)}
}

func (p *pendingRequests) register() (string, <-chan reply) {
	id := uuid.NewString()
	ch := make(chan reply, 1)
	p.mu.Lock()
	p.requests[id] = ch
	p.mu.Unlock()
	return id, ch
}

func (p *pendingRequests) forget(id string) {
	p.mu.Lock()
	delete(p.requests, id)
	p.mu.Unlock()
}

// resolve hands msg to its waiter and reports whether one existed.
func (p *pendingRequests) resolve(msg proto.Message) bool {
	p.mu.Lock()
	ch, ok := p.requests[msg.RequestID]
	delete(p.requests, msg.RequestID)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- reply{msg: msg}
	return true
}

func (p *pendingRequests) failAll(err error) {
	p.mu.Lock()
	requests := p.requests
	p.requests = make(map[string]chan reply)
	p.mu.Unlock()
	for _, ch := range requests {
		ch <- reply{err: err}
	}
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
