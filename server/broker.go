package server

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

// Broker fans data events out to the clients subscribed to record changes.
type Broker struct {
	mu   sync.RWMutex
	subs map[Client]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[Client]struct{}),
	}
}

func (b *Broker) Subscribe(client Client) {
	slog.Debug("Subscribing to data events", "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[client] = struct{}{}
}

func (b *Broker) Unsubscribe(client Client) {
	slog.Debug("Unsubscribing from data events", "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, client)
}

func (b *Broker) IsSubscribed(client Client) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[client]
	return ok
}

// Publish sends msg to every subscriber and returns how many accepted it.
func (b *Broker) Publish(msg proto.Message) int {
	b.mu.RLock()
	subs := make([]Client, 0, len(b.subs))
	for client := range b.subs {
		subs = append(subs, client)
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, client := range subs {
		err := client.Send(msg)
		if err != nil {
			slog.Warn("There was an error publishing a data event to a subscriber", "type", msg.Type, "client", client.Meta().Id, "error", err.Error())
			continue
		}
		sentCount++
	}
	slog.Debug("Data event published",
		"type", msg.Type,
		"subscribers", sentCount,
		"size", len(msg.Payload),
	)
	return sentCount
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
