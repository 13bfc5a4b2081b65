package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func withQuery(t *testing.T, fn func(params *mdns.QueryParam) error) {
	t.Helper()
	prev := queryFunc
	queryFunc = fn
	t.Cleanup(func() { queryFunc = prev })
}

func TestDiscoverWebSocketService(t *testing.T) {
	var asked *mdns.QueryParam
	withQuery(t, func(params *mdns.QueryParam) error {
		asked = params
		params.Entries <- &mdns.ServiceEntry{Name: "relay." + params.Service, AddrV4: net.ParseIP("192.168.1.20"), Port: 8889}
		return nil
	})

	svc, err := DiscoverWebSocketService(time.Second)
	if err != nil {
		t.Fatalf("Expected a service, got %v", err)
	}
	if asked.Service != ServiceWS || asked.Timeout != time.Second {
		t.Errorf("Unexpected query: %+v", asked)
	}
	if svc.Transport != "websocket" || svc.Addr() != "ws://192.168.1.20:8889/ws" {
		t.Errorf("Unexpected service: %+v (%s)", svc, svc.Addr())
	}
}

func TestDiscoverTCPService_SkipsUnusableAnswers(t *testing.T) {
	withQuery(t, func(params *mdns.QueryParam) error {
		params.Entries <- &mdns.ServiceEntry{Name: "no-address", Port: 8888}
		params.Entries <- &mdns.ServiceEntry{Name: "no-port", AddrV4: net.ParseIP("10.0.0.1")}
		params.Entries <- &mdns.ServiceEntry{Name: "relay", AddrV4: net.ParseIP("10.0.0.2"), Port: 8888}
		return nil
	})

	svc, err := DiscoverTCPService(time.Second)
	if err != nil {
		t.Fatalf("Expected a service, got %v", err)
	}
	if svc.ServiceName != "relay" || svc.Addr() != "10.0.0.2:8888" {
		t.Errorf("Unexpected service: %+v", svc)
	}
}

func TestDiscoverTCPService_NothingFound(t *testing.T) {
	withQuery(t, func(params *mdns.QueryParam) error {
		return nil
	})

	if _, err := DiscoverTCPService(time.Second); err == nil {
		t.Error("Expected an error when no relay answers")
	}
}

func TestDiscoverTCPService_QueryError(t *testing.T) {
	boom := errors.New("no multicast interface")
	withQuery(t, func(params *mdns.QueryParam) error {
		return boom
	})

	_, err := DiscoverTCPService(time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("Expected the query error, got %v", err)
	}
}

func TestDiscoverTCPService_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	withQuery(t, func(params *mdns.QueryParam) error {
		<-release
		return nil
	})

	start := time.Now()
	if _, err := DiscoverTCPService(20 * time.Millisecond); err == nil {
		t.Fatal("Expected a timeout")
	}
	if time.Since(start) > time.Second {
		t.Error("Expected discovery to give up shortly after the timeout")
	}
}
