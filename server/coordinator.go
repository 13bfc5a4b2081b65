package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbocsi/wearlink/proto"
)

type Coordinator struct {
	Registry   *NodeRegistry
	Broker     *Broker
	Records    RecordStore
	Metrics    *Metrics
	MCPServer  *MCPServer
	Transports []Transport

	batchInterval time.Duration
	opTimeout     time.Duration
	batch         *eventBatch
	seq           atomic.Uint64
}

func NewCoordinator(registry *NodeRegistry, broker *Broker, records RecordStore, metrics *Metrics) *Coordinator {
	return &Coordinator{
		Registry:      registry,
		Broker:        broker,
		Records:       records,
		Metrics:       metrics,
		batchInterval: time.Second,
		opTimeout:     5 * time.Second,
		batch:         newEventBatch(),
	}
}

// Start runs the transports and the batch flusher until ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.MCPServer != nil {
		go func() {
			if err := c.MCPServer.Start(); err != nil {
				slog.Error("MCP server stopped", "error", err)
			}
		}()
	}
	for _, t := range c.Transports {
		go func(t Transport) {
			if err := t.Start(); err != nil && ctx.Err() == nil {
				slog.Error("Transport stopped", "transport", t.Meta().Protocol, "error", err)
			}
		}(t)
	}

	ticker := time.NewTicker(c.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-ctx.Done():
			slog.Info("Shutting down transports and relay")
			c.Flush()
			for _, t := range c.Transports {
				if err := t.Shutdown(); err != nil {
					slog.Error("There was an error when shutting down transport", "error", err.Error())
				}
			}
			return nil
		}
	}
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterNode)
	t.OnDisconnect(c.UnregisterNode)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterNode(client Client) error {
	c.Registry.Store(client)
	c.Metrics.ConnectedNodes.Set(float64(c.Registry.Len()))

	slog.Info("Registered node", "id", client.Meta().Id)
	return nil
}

func (c *Coordinator) UnregisterNode(client Client) {
	c.Broker.Unsubscribe(client)
	c.Registry.Delete(client.Meta().Id)
	c.Metrics.ConnectedNodes.Set(float64(c.Registry.Len()))

	slog.Info("Unregistered node", "id", client.Meta().Id)
}

// Flush publishes batched data events as one data_changed message.
func (c *Coordinator) Flush() {
	events := c.batch.take()
	if len(events) == 0 {
		return
	}
	c.publishChanged(events)
}

func (c *Coordinator) publishChanged(events []proto.DataEvent) {
	msg, err := proto.NewMessage(proto.TypeDataChanged, "", proto.DataEventsPayload{Events: events})
	if err != nil {
		slog.Error("Failed to encode data events", "error", err)
		return
	}
	c.Broker.Publish(msg)
	c.Metrics.DataEvents.Add(float64(len(events)))
}

func (c *Coordinator) publishDeleted(ev proto.DataEvent) {
	msg, err := proto.NewMessage(proto.TypeDataDeleted, ev.Path, ev)
	if err != nil {
		slog.Error("Failed to encode data event", "error", err)
		return
	}
	c.Broker.Publish(msg)
	c.Metrics.DataEvents.Inc()
}

func (c *Coordinator) nextSeq() uint64 {
	return c.seq.Add(1)
}
