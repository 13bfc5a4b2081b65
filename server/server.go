package server

import (
	"context"
	"time"
)

type RelayOptions struct {
	Broker        *Broker       // Optional (defaults to new Broker if nil)
	Registry      *NodeRegistry // Optional (defaults to new Registry if nil)
	Records       RecordStore   // Optional (defaults to an in-memory store)
	Metrics       *Metrics      // Optional (defaults to a private registry)
	BatchInterval time.Duration // Flush period for non-urgent puts (default 1s)
	MCP           bool          // Serve MCP tools over stdio
}

type Relay struct {
	options     RelayOptions
	coordinator *Coordinator
}

func NewRelay(opts RelayOptions) *Relay {
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Registry == nil {
		opts.Registry = NewNodeRegistry()
	}
	if opts.Records == nil {
		opts.Records = NewMemoryRecordStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	coordinator := NewCoordinator(opts.Registry, opts.Broker, opts.Records, opts.Metrics)
	if opts.BatchInterval > 0 {
		coordinator.batchInterval = opts.BatchInterval
	}
	if opts.MCP {
		coordinator.MCPServer = NewMCPServer(coordinator)
	}

	return &Relay{
		options:     opts,
		coordinator: coordinator,
	}
}

func (s *Relay) RegisterTransport(t Transport) {
	s.coordinator.RegisterTransport(t)
}

func (s *Relay) Coordinator() *Coordinator {
	return s.coordinator
}

// Start blocks until ctx is cancelled.
func (s *Relay) Start(ctx context.Context) error {
	return s.coordinator.Start(ctx)
}
