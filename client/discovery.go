package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	ServiceTCP = "_wearlink-tcp._tcp"
	ServiceWS  = "_wearlink-ws._tcp"

	defaultDiscoveryTimeout = 5 * time.Second
	// queryGrace is how long past its own timeout a query may run before
	// discovery stops waiting for it.
	queryGrace = 250 * time.Millisecond
)

// DiscoveredService is a relay found on the local network.
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string // "tcp" or "websocket"
	TXTRecords  []string
}

// Addr is the dialable form for the service's transport.
func (s *DiscoveredService) Addr() string {
	hostPort := net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
	if s.Transport == "websocket" {
		return "ws://" + hostPort + "/ws"
	}
	return hostPort
}

// queryFunc is swapped in tests.
var queryFunc = mdns.Query

// discover returns the first usable answer for service.
func discover(service, transport string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout

	query := queryFunc
	done := make(chan error, 1)
	go func() { done <- query(params) }()

	deadline := time.NewTimer(timeout + queryGrace)
	defer deadline.Stop()

	for {
		select {
		case entry := <-entries:
			if svc, ok := toService(entry, transport); ok {
				return svc, nil
			}
		case err := <-done:
			if svc, ok := firstBuffered(entries, transport); ok {
				return svc, nil
			}
			if err != nil {
				return nil, fmt.Errorf("mDNS query for %s: %w", service, err)
			}
			return nil, fmt.Errorf("no %s relay found", service)
		case <-deadline.C:
			return nil, fmt.Errorf("mDNS discovery timeout for %s", service)
		}
	}
}

// firstBuffered checks answers that arrived just before the query returned.
func firstBuffered(entries <-chan *mdns.ServiceEntry, transport string) (*DiscoveredService, bool) {
	for {
		select {
		case entry := <-entries:
			if svc, ok := toService(entry, transport); ok {
				return svc, true
			}
		default:
			return nil, false
		}
	}
}

func toService(entry *mdns.ServiceEntry, transport string) (*DiscoveredService, bool) {
	if entry == nil || entry.Port == 0 {
		return nil, false
	}
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = entry.AddrV6.String()
	default:
		return nil, false
	}

	svc := &DiscoveredService{
		ServiceName: entry.Name,
		Address:     address,
		Port:        entry.Port,
		Transport:   transport,
		TXTRecords:  entry.InfoFields,
	}
	slog.Info("Discovered wearlink relay",
		"service_name", svc.ServiceName,
		"address", svc.Address,
		"port", svc.Port,
		"transport", svc.Transport,
	)
	return svc, true
}

// DiscoverTCPService discovers the first relay advertising TCP.
func DiscoverTCPService(timeout time.Duration) (*DiscoveredService, error) {
	return discover(ServiceTCP, "tcp", timeout)
}

// DiscoverWebSocketService discovers the first relay advertising WebSocket.
func DiscoverWebSocketService(timeout time.Duration) (*DiscoveredService, error) {
	return discover(ServiceWS, "websocket", timeout)
}
