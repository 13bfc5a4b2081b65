package cli

import (
	"fmt"
	"log/slog"

	"github.com/mbocsi/wearlink/client"
	"github.com/mbocsi/wearlink/config"
	"github.com/mbocsi/wearlink/link"
)

// discover is swapped in tests.
var discover = func(cfg config.NodeConfig) (*client.DiscoveredService, error) {
	if cfg.Transport == "websocket" {
		return client.DiscoverWebSocketService(cfg.DiscoveryTimeout)
	}
	return client.DiscoverTCPService(cfg.DiscoveryTimeout)
}

// relayAddr is node.relay, or the first relay found over mDNS.
func relayAddr(cfg config.NodeConfig) (string, error) {
	if cfg.Relay != "" {
		return cfg.Relay, nil
	}
	svc, err := discover(cfg)
	if err != nil {
		return "", fmt.Errorf("discover relay (set node.relay to skip discovery): %w", err)
	}
	return svc.Addr(), nil
}

// endpointFactory builds a fresh relay client for every session open.
func endpointFactory(cfg config.NodeConfig, name, role string) (func() link.Endpoint, error) {
	addr, err := relayAddr(cfg)
	if err != nil {
		return nil, err
	}

	newTransport := func() client.Transport { return client.NewTCPTransport() }
	if cfg.Transport == "websocket" {
		newTransport = func() client.Transport { return client.NewWebSocketTransport() }
	}

	slog.Info("Using relay", "addr", addr, "transport", cfg.Transport, "name", name)
	return func() link.Endpoint {
		return client.NewClient(client.Options{
			Name:         name,
			Role:         role,
			Addr:         addr,
			NewTransport: newTransport,
			RetryDelay:   cfg.RetryDelay,
			MaxRetries:   cfg.MaxRetries,
		})
	}, nil
}
