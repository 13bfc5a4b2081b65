package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/wearlink/proto"
)

var (
	ErrNotConnected     = errors.New("link session is not connected")
	ErrSessionClosed    = errors.New("link session closed")
	ErrConnectionFailed = errors.New("link connection failed")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Suspended
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Endpoint is the transport side of a session. Dial starts connecting and
// returns at once; progress is reported through events, from any goroutine.
type Endpoint interface {
	Dial(events EndpointEvents)
	Disconnect() error
	ConnectedNodes(ctx context.Context) ([]proto.Node, error)
	SendMessage(ctx context.Context, nodeID, path string, payload []byte) error
	PutData(ctx context.Context, path string, data proto.DataMap, urgent bool) error
	SubscribeData(ctx context.Context) error
	UnsubscribeData(ctx context.Context) error
}

// EndpointEvents are the connectivity and delivery callbacks of an Endpoint.
type EndpointEvents interface {
	Connected()
	Suspended(cause error)
	ConnectionFailed(err error)
	Disconnected()
	MessageReceived(msg proto.Message)
	DataChanged(events []proto.DataEvent)
}

type ListenerID int

type messageListener struct {
	path string
	fn   func(proto.Message)
}

// Session is one process's handle to the link plus its connection state.
// Its methods may be called from any goroutine; all state changes happen on
// the session's loop.
type Session struct {
	loop        *Loop
	newEndpoint func() Endpoint
	logger      *slog.Logger

	// loop-owned
	endpoint       Endpoint
	gen            uint64
	state          State
	cancel         context.CancelFunc
	ctx            context.Context
	dataListeners  map[ListenerID]func([]proto.DataEvent)
	dataSubscribed bool
	msgListeners   map[ListenerID]messageListener
	stateListeners map[ListenerID]func(State)
	waiters        []*Result[struct{}]

	nextID    atomic.Int64
	stateView atomic.Int32
	peersMu   sync.RWMutex
	peers     []proto.Node
}

func NewSession(loop *Loop, newEndpoint func() Endpoint) *Session {
	return &Session{
		loop:           loop,
		newEndpoint:    newEndpoint,
		logger:         slog.Default().With("component", "link"),
		state:          Disconnected,
		dataListeners:  make(map[ListenerID]func([]proto.DataEvent)),
		msgListeners:   make(map[ListenerID]messageListener),
		stateListeners: make(map[ListenerID]func(State)),
	}
}

func (s *Session) Loop() *Loop {
	return s.loop
}

// State is safe to read from any goroutine.
func (s *Session) State() State {
	return State(s.stateView.Load())
}

// Peers returns the connected peer nodes. It is empty unless Connected.
func (s *Session) Peers() []proto.Node {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]proto.Node, len(s.peers))
	copy(out, s.peers)
	return out
}

// Open reuses a live session or constructs a new endpoint and starts
// connecting. Live means anything but Disconnected or Failed.
func (s *Session) Open() {
	s.loop.Post(s.open)
}

func (s *Session) open() {
	if s.endpoint != nil && s.state != Disconnected && s.state != Failed {
		s.logger.Debug("Reusing link session", "state", s.state)
		return
	}
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.endpoint = s.newEndpoint()
	s.setState(Connecting)
	s.logger.Info("Opening link session")
	s.endpoint.Dial(&sessionEvents{s: s, gen: s.gen})
}

// Close unregisters data listeners, then disconnects. It is safe in any
// state and a no-op when already Disconnected.
func (s *Session) Close() {
	s.loop.Post(s.close)
}

func (s *Session) close() {
	if s.state == Disconnected && s.endpoint == nil {
		return
	}
	ep := s.endpoint
	wasConnected := s.state == Connected
	subscribed := s.dataSubscribed

	clear(s.dataListeners)
	s.dataSubscribed = false
	s.gen++
	s.endpoint = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.setState(Disconnected)
	s.failWaiters(ErrSessionClosed)
	s.logger.Info("Closed link session")

	if ep == nil {
		return
	}
	go func() {
		if wasConnected && subscribed {
			if err := ep.UnsubscribeData(context.Background()); err != nil {
				s.logger.Debug("Failed to unsubscribe data listener", "error", err)
			}
		}
		if err := ep.Disconnect(); err != nil {
			s.logger.Warn("Failed to disconnect link endpoint", "error", err)
		}
	}()
}

// AwaitConnected completes when the session reaches Connected. It fails if
// the session fails, disconnects, or is closed first.
func (s *Session) AwaitConnected() *Result[struct{}] {
	r := NewResult[struct{}]()
	postOp(s, r, func() {
		if s.state == Connected {
			r.Complete(struct{}{}, nil)
			return
		}
		s.waiters = append(s.waiters, r)
	})
	return r
}

// AddStateListener registers fn to run on the loop after every transition.
func (s *Session) AddStateListener(fn func(State)) ListenerID {
	id := s.newID()
	s.loop.Post(func() { s.stateListeners[id] = fn })
	return id
}

func (s *Session) RemoveStateListener(id ListenerID) {
	s.loop.Post(func() { delete(s.stateListeners, id) })
}

// AddMessageListener registers fn for inbound messages at path. Message
// listeners survive reconnects and may be added in any state.
func (s *Session) AddMessageListener(path string, fn func(proto.Message)) ListenerID {
	id := s.newID()
	s.loop.Post(func() { s.msgListeners[id] = messageListener{path: path, fn: fn} })
	return id
}

func (s *Session) RemoveMessageListener(id ListenerID) {
	s.loop.Post(func() { delete(s.msgListeners, id) })
}

// AddDataListener subscribes fn to replicated record changes. It requires a
// Connected session; the returned result reports the subscription outcome.
func (s *Session) AddDataListener(fn func([]proto.DataEvent)) (ListenerID, *Result[struct{}]) {
	id := s.newID()
	r := NewResult[struct{}]()
	postOp(s, r, func() {
		if s.state != Connected {
			r.Complete(struct{}{}, ErrNotConnected)
			return
		}
		s.dataListeners[id] = fn
		if s.dataSubscribed {
			r.Complete(struct{}{}, nil)
			return
		}
		s.dataSubscribed = true
		ep, ctx := s.endpoint, s.ctx
		go func() { r.Complete(struct{}{}, ep.SubscribeData(ctx)) }()
	})
	return id, r
}

// RemoveDataListener drops fn; the relay subscription goes with the last one.
func (s *Session) RemoveDataListener(id ListenerID) {
	s.loop.Post(func() {
		if _, ok := s.dataListeners[id]; !ok {
			return
		}
		delete(s.dataListeners, id)
		if len(s.dataListeners) > 0 || !s.dataSubscribed {
			return
		}
		s.dataSubscribed = false
		if s.state != Connected {
			return
		}
		ep, ctx := s.endpoint, s.ctx
		go func() {
			if err := ep.UnsubscribeData(ctx); err != nil {
				s.logger.Debug("Failed to unsubscribe data listener", "error", err)
			}
		}()
	})
}

// ConnectedNodes enumerates the peers reachable through the link and
// refreshes Peers.
func (s *Session) ConnectedNodes() *Result[[]proto.Node] {
	r := NewResult[[]proto.Node]()
	postOp(s, r, func() {
		if s.state != Connected {
			r.Complete(nil, ErrNotConnected)
			return
		}
		ep, ctx, gen := s.endpoint, s.ctx, s.gen
		go func() {
			nodes, err := ep.ConnectedNodes(ctx)
			if err == nil {
				s.loop.Post(func() { s.updatePeers(gen, nodes) })
			}
			r.Complete(nodes, err)
		}()
	})
	return r
}

// SendMessage sends a fire-and-forget message to one node.
func (s *Session) SendMessage(nodeID, path string, payload []byte) *Result[struct{}] {
	r := NewResult[struct{}]()
	postOp(s, r, func() {
		if s.state != Connected {
			r.Complete(struct{}{}, ErrNotConnected)
			return
		}
		ep, ctx := s.endpoint, s.ctx
		go func() { r.Complete(struct{}{}, ep.SendMessage(ctx, nodeID, path, payload)) }()
	})
	return r
}

// PutData upserts the replicated record at path.
func (s *Session) PutData(path string, data proto.DataMap, urgent bool) *Result[struct{}] {
	r := NewResult[struct{}]()
	postOp(s, r, func() {
		if s.state != Connected {
			r.Complete(struct{}{}, ErrNotConnected)
			return
		}
		ep, ctx := s.endpoint, s.ctx
		go func() { r.Complete(struct{}{}, ep.PutData(ctx, path, data, urgent)) }()
	})
	return r
}

// postOp runs fn on the loop, or fails r if the loop has stopped.
func postOp[T any](s *Session, r *Result[T], fn func()) {
	if !s.loop.Post(fn) {
		var zero T
		r.Complete(zero, ErrLoopStopped)
	}
}

// ---------- transport callbacks (loop only) ---------- //

func (s *Session) handleConnected(gen uint64) {
	if gen != s.gen {
		return
	}
	if s.state != Connected {
		s.logger.Info("Link session connected", "from", s.state)
		s.setState(Connected)
		for _, w := range s.waiters {
			w.Complete(struct{}{}, nil)
		}
		s.waiters = nil
	}
	// Re-derive the peer list on every connect callback, repeated or not.
	ep, ctx := s.endpoint, s.ctx
	go func() {
		nodes, err := ep.ConnectedNodes(ctx)
		if err != nil {
			s.logger.Debug("Failed to refresh peers", "error", err)
			return
		}
		s.loop.Post(func() { s.updatePeers(gen, nodes) })
	}()
}

func (s *Session) handleSuspended(gen uint64, cause error) {
	if gen != s.gen || s.state != Connected {
		return
	}
	s.logger.Warn("Link session suspended", "cause", cause)
	s.setState(Suspended)
}

func (s *Session) handleConnectionFailed(gen uint64, err error) {
	if gen != s.gen || s.state == Failed {
		return
	}
	s.logger.Error("Link connection failed", "error", err)
	clear(s.dataListeners)
	s.dataSubscribed = false
	s.setState(Failed)
	s.failWaiters(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
}

func (s *Session) handleDisconnected(gen uint64) {
	if gen != s.gen || s.state == Disconnected {
		return
	}
	s.logger.Info("Link session disconnected", "from", s.state)
	// Data subscriptions do not outlive the connection.
	clear(s.dataListeners)
	s.dataSubscribed = false
	s.setState(Disconnected)
	s.failWaiters(ErrSessionClosed)
}

func (s *Session) handleMessage(gen uint64, msg proto.Message) {
	if gen != s.gen {
		return
	}
	for _, l := range s.msgListeners {
		if l.path == msg.Path {
			l.fn(msg)
		}
	}
}

func (s *Session) handleDataChanged(gen uint64, events []proto.DataEvent) {
	if gen != s.gen {
		return
	}
	for _, fn := range s.dataListeners {
		fn(events)
	}
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.stateView.Store(int32(next))
	if next != Connected {
		s.peersMu.Lock()
		s.peers = nil
		s.peersMu.Unlock()
	}
	for _, fn := range s.stateListeners {
		fn(next)
	}
}

func (s *Session) updatePeers(gen uint64, nodes []proto.Node) {
	if gen != s.gen || s.state != Connected {
		return
	}
	s.peersMu.Lock()
	s.peers = append([]proto.Node(nil), nodes...)
	s.peersMu.Unlock()
}

func (s *Session) failWaiters(err error) {
	for _, w := range s.waiters {
		w.Complete(struct{}{}, err)
	}
	s.waiters = nil
}

func (s *Session) newID() ListenerID {
	return ListenerID(s.nextID.Add(1))
}

// sessionEvents binds endpoint callbacks to one session generation, so a
// stale endpoint cannot move a newer session.
type sessionEvents struct {
	s   *Session
	gen uint64
}

func (e *sessionEvents) Connected() {
	e.s.loop.Post(func() { e.s.handleConnected(e.gen) })
}

func (e *sessionEvents) Suspended(cause error) {
	e.s.loop.Post(func() { e.s.handleSuspended(e.gen, cause) })
}

func (e *sessionEvents) ConnectionFailed(err error) {
	e.s.loop.Post(func() { e.s.handleConnectionFailed(e.gen, err) })
}

func (e *sessionEvents) Disconnected() {
	e.s.loop.Post(func() { e.s.handleDisconnected(e.gen) })
}

func (e *sessionEvents) MessageReceived(msg proto.Message) {
	e.s.loop.Post(func() { e.s.handleMessage(e.gen, msg) })
}

func (e *sessionEvents) DataChanged(events []proto.DataEvent) {
	e.s.loop.Post(func() { e.s.handleDataChanged(e.gen, events) })
}
