package client

import "github.com/mbocsi/wearlink/proto"

// Transport is one connection to the relay. Send may be called concurrently
// with Read; Read is only ever called from one goroutine.
type Transport interface {
	Connect(addr string) error
	Send(msg proto.Message) error
	Read() (proto.Message, error) // for one-at-a-time processing
	Close() error
}
