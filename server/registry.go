package server

import (
	"errors"
	"sync"
)

var ErrNodeNotFound = errors.New("node not found")

type NodeRegistry struct {
	mu    sync.RWMutex
	store map[string]Client
}

func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{store: make(map[string]Client)}
}

func (r *NodeRegistry) Store(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[client.Meta().Id] = client
}

func (r *NodeRegistry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

// Identified returns the node with id if it has completed identify.
func (r *NodeRegistry) Identified(id string) (Client, error) {
	client, ok := r.Get(id)
	if !ok || !client.Meta().IsIdentified() {
		return nil, ErrNodeNotFound
	}
	return client, nil
}

func (r *NodeRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)
}

func (r *NodeRegistry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]Client, 0, len(r.store))
	for _, client := range r.store {
		clients = append(clients, client)
	}

	return clients
}

// Peers lists identified nodes other than exclude.
func (r *NodeRegistry) Peers(exclude string) []Client {
	var peers []Client
	for _, client := range r.List() {
		if client.Meta().Id == exclude || !client.Meta().IsIdentified() {
			continue
		}
		peers = append(peers, client)
	}
	return peers
}

func (r *NodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
