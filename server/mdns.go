package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/hashicorp/mdns"
)

const (
	ServiceTCP = "_wearlink-tcp._tcp"
	ServiceWS  = "_wearlink-ws._tcp"
)

// Advertiser announces relay transports over mDNS so nodes can find the
// relay without configuration.
type Advertiser struct {
	servers []*mdns.Server
}

// Advertise announces service on the port of addr.
func (a *Advertiser) Advertise(service, addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("advertise %s: %w", service, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("advertise %s: invalid port %q", service, portStr)
	}

	host, _ := os.Hostname()
	info := []string{"wearlink relay"}
	svc, err := mdns.NewMDNSService(host, service, "", "", port, nil, info)
	if err != nil {
		return fmt.Errorf("advertise %s: %w", service, err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("advertise %s: %w", service, err)
	}
	a.servers = append(a.servers, srv)
	slog.Info("Advertising relay over mDNS", "service", service, "port", port)
	return nil
}

func (a *Advertiser) Shutdown() {
	for _, srv := range a.servers {
		if err := srv.Shutdown(); err != nil {
			slog.Warn("Failed to stop mDNS responder", "error", err)
		}
	}
	a.servers = nil
}
