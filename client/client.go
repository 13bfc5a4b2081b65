package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/wearlink/link"
	"github.com/mbocsi/wearlink/proto"
)

var (
	ErrConnectionClosed = errors.New("relay connection closed")
	ErrNotDialed        = errors.New("transport is not connected")
	ErrIdentifyRejected = errors.New("relay rejected identify")
	ErrRequestFailed    = errors.New("relay request failed")
)

type Options struct {
	Name     string
	Role     string
	Firmware string
	Addr     string

	NewTransport func() Transport

	// RetryDelay separates identify retries and reconnect attempts.
	RetryDelay time.Duration
	// MaxRetries bounds both identify retries and reconnect attempts.
	MaxRetries       int
	HandshakeTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.NewTransport == nil {
		o.NewTransport = func() Transport { return NewTCPTransport() }
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.Firmware == "" {
		o.Firmware = "v1.0.0"
	}
}

// Client is a node's connection to the relay. It implements link.Endpoint:
// it connects in the background and reports connectivity through the
// session's events, reconnecting on its own after a dropped connection.
type Client struct {
	opts    Options
	logger  *slog.Logger
	pending *pendingRequests

	mu         sync.Mutex
	transport  Transport
	id         string
	subscribed bool
	dialed     bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ link.Endpoint = (*Client)(nil)

func NewClient(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:    opts,
		logger:  slog.Default().With("component", "client", "name", opts.Name),
		pending: newPendingRequests(),
		done:    make(chan struct{}),
	}
}

// ID is the node id assigned by the relay, empty until identified.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) Dial(events link.EndpointEvents) {
	c.mu.Lock()
	if c.dialed {
		c.mu.Unlock()
		c.logger.Warn("Client already dialed")
		return
	}
	c.dialed = true
	c.mu.Unlock()
	go c.run(events)
}

func (c *Client) run(events link.EndpointEvents) {
	t, err := c.connect()
	if err != nil {
		if c.isClosed() {
			events.Disconnected()
			return
		}
		c.logger.Error("Failed to connect to relay", "addr", c.opts.Addr, "error", err)
		events.ConnectionFailed(err)
		return
	}
	events.Connected()

	for {
		err := c.readLoop(t, events)
		c.detach(t)
		c.pending.failAll(ErrConnectionClosed)
		if c.isClosed() {
			events.Disconnected()
			return
		}

		c.logger.Warn("Lost relay connection", "error", err)
		events.Suspended(err)

		t, err = c.reconnect()
		if err != nil {
			if !c.isClosed() {
				c.logger.Error("Giving up on relay", "error", err)
			}
			events.Disconnected()
			return
		}
		c.resubscribe()
		events.Connected()
	}
}

func (c *Client) connect() (Transport, error) {
	t := c.opts.NewTransport()
	if err := t.Connect(c.opts.Addr); err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.opts.Addr, err)
	}
	if err := c.identify(t); err != nil {
		t.Close()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		t.Close()
		return nil, ErrConnectionClosed
	}
	c.transport = t
	return t, nil
}

func (c *Client) reconnect() (Transport, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if !c.sleep(c.opts.RetryDelay) {
			return nil, ErrConnectionClosed
		}
		t, err := c.connect()
		if err == nil {
			c.logger.Info("Reconnected to relay", "attempt", attempt)
			return t, nil
		}
		lastErr = err
		c.logger.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

func (c *Client) identify(t Transport) error {
	// a silent relay must not stall the handshake forever
	timer := time.AfterFunc(c.opts.HandshakeTimeout, func() { t.Close() })
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if err := c.sendIdentify(t); err != nil {
			return fmt.Errorf("send identify: %w", err)
		}
		ack, err := awaitAck(t)
		if err != nil {
			return fmt.Errorf("await identify_ack: %w", err)
		}
		if ack.Status == proto.StatusOK {
			c.mu.Lock()
			c.id = ack.AssignedId
			c.mu.Unlock()
			c.logger.Info("Identified with relay", "id", ack.AssignedId)
			return nil
		}

		c.logger.Warn("Relay rejected identify", "status", ack.Status, "attempt", attempt)
		if attempt >= c.opts.MaxRetries {
			return ErrIdentifyRejected
		}
		if !c.sleep(c.opts.RetryDelay) {
			return ErrConnectionClosed
		}
	}
}

func (c *Client) sendIdentify(t Transport) error {
	msg, err := proto.NewMessage(proto.TypeIdentify, "", proto.IdentifyPayload{
		ProposedName: c.opts.Name,
		Role:         c.opts.Role,
		Firmware:     c.opts.Firmware,
	})
	if err != nil {
		return err
	}
	c.logger.Debug("Sending identify message", "proposed_name", c.opts.Name, "role", c.opts.Role)
	return t.Send(msg)
}

func awaitAck(t Transport) (proto.IdAckPayload, error) {
	for {
		msg, err := t.Read()
		if err != nil {
			return proto.IdAckPayload{}, err
		}
		if msg.Type != proto.TypeIdentifyAck {
			slog.Warn("Received a message other than identify_ack", "type", msg.Type)
			continue
		}
		var ack proto.IdAckPayload
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			slog.Warn("Invalid JSON identify acknowledge payload", "error", err, "payload", string(msg.Payload))
			continue
		}
		return ack, nil
	}
}

func (c *Client) readLoop(t Transport, events link.EndpointEvents) error {
	for {
		msg, err := t.Read()
		if err != nil {
			return err
		}
		c.logger.Debug("Message received", "type", msg.Type, "path", msg.Path, "sender", msg.Sender, "size", len(msg.Payload))

		switch msg.Type {
		case proto.TypeResult, proto.TypeNodes:
			if !c.pending.resolve(msg) {
				c.logger.Debug("Dropping reply with no waiter", "request_id", msg.RequestID)
			}

		case proto.TypeMessage:
			events.MessageReceived(msg)

		case proto.TypeDataChanged:
			var payload proto.DataEventsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.logger.Warn("Invalid data_changed payload", "error", err)
				continue
			}
			events.DataChanged(payload.Events)

		case proto.TypeDataDeleted:
			var ev proto.DataEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				c.logger.Warn("Invalid data_deleted payload", "error", err)
				continue
			}
			events.DataChanged([]proto.DataEvent{ev})

		case proto.TypeIdentifyAck:
			c.logger.Warn("Received unexpected identify_ack")

		default:
			c.logger.Warn("Unhandled message", "type", msg.Type)
		}
	}
}

// ---------- requests ---------- //

func (c *Client) ConnectedNodes(ctx context.Context) ([]proto.Node, error) {
	msg, err := proto.NewMessage(proto.TypeGetNodes, "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, msg)
	if err != nil {
		return nil, err
	}
	if resp.Type != proto.TypeNodes {
		return nil, resultError(resp)
	}
	var payload proto.NodesPayload
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid nodes payload: %w", err)
	}
	return payload.Nodes, nil
}

func (c *Client) SendMessage(ctx context.Context, nodeID, path string, payload []byte) error {
	msg, err := proto.NewPeerMessage(nodeID, path, payload)
	if err != nil {
		return err
	}
	return c.call(ctx, msg)
}

func (c *Client) PutData(ctx context.Context, path string, data proto.DataMap, urgent bool) error {
	msg, err := proto.NewMessage(proto.TypePutData, path, proto.PutDataPayload{Data: data, Urgent: urgent})
	if err != nil {
		return err
	}
	return c.call(ctx, msg)
}

func (c *Client) DeleteData(ctx context.Context, path string) error {
	msg, err := proto.NewMessage(proto.TypeDeleteData, path, nil)
	if err != nil {
		return err
	}
	return c.call(ctx, msg)
}

func (c *Client) SubscribeData(ctx context.Context) error {
	if err := c.subscription(ctx, proto.TypeSubscribeData); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

func (c *Client) UnsubscribeData(ctx context.Context) error {
	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()
	return c.subscription(ctx, proto.TypeUnsubscribeData)
}

func (c *Client) subscription(ctx context.Context, msgType string) error {
	msg, err := proto.NewMessage(msgType, "", nil)
	if err != nil {
		return err
	}
	return c.call(ctx, msg)
}

// resubscribe restores the data subscription on a fresh connection. The
// relay forgets subscribers when their connection drops.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subscribed := c.subscribed
	c.mu.Unlock()
	if !subscribed {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		defer cancel()
		if err := c.subscription(ctx, proto.TypeSubscribeData); err != nil {
			c.logger.Warn("Failed to restore data subscription", "error", err)
		}
	}()
}

// call sends msg and expects an ok result.
func (c *Client) call(ctx context.Context, msg proto.Message) error {
	resp, err := c.request(ctx, msg)
	if err != nil {
		return err
	}
	return resultError(resp)
}

func (c *Client) request(ctx context.Context, msg proto.Message) (proto.Message, error) {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return proto.Message{}, ErrConnectionClosed
	}

	id, ch := c.pending.register()
	msg.RequestID = id
	if err := t.Send(msg); err != nil {
		c.pending.forget(id)
		return proto.Message{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		c.pending.forget(id)
		return proto.Message{}, ctx.Err()
	case <-c.done:
		c.pending.forget(id)
		return proto.Message{}, ErrConnectionClosed
	}
}

func resultError(resp proto.Message) error {
	if resp.Type != proto.TypeResult {
		return fmt.Errorf("%w: unexpected reply %q", ErrRequestFailed, resp.Type)
	}
	var result proto.ResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return fmt.Errorf("invalid result payload: %w", err)
	}
	if !result.OK() {
		return fmt.Errorf("%w: %s", ErrRequestFailed, result.Error)
	}
	return nil
}

// ---------- lifecycle ---------- //

// Disconnect closes the connection and stops reconnecting. The session is
// told through a final Disconnected event.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		t := c.transport
		c.transport = nil
		c.mu.Unlock()
		if t != nil {
			err = t.Close()
		}
	})
	return err
}

func (c *Client) detach(t Transport) {
	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
	}
	c.mu.Unlock()
	t.Close()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// sleep waits d and reports false if the client was closed meanwhile.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}
