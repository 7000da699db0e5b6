// Package membus is an in-process bus. Participants joined to the same
// Network exchange topic samples, CAN frames and RPC calls synchronously on
// the sender's goroutine. A participant never receives its own samples.
package membus

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge/bus"
	"github.com/fmubridge/fmubridge/bridge/can"
)

// Network connects in-process participants.
type Network struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	can     map[string][]*canController
	clients map[string][]*rpcClient
	servers map[string][]*rpcServer
	pending map[bus.CallHandle]pendingCall
}

type pendingCall struct {
	client        *rpcClient
	correlationID string
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		subs:    make(map[string][]*subscription),
		can:     make(map[string][]*canController),
		clients: make(map[string][]*rpcClient),
		servers: make(map[string][]*rpcServer),
		pending: make(map[bus.CallHandle]pendingCall),
	}
}

// Join adds a participant.
func (n *Network) Join(name string) *Bus {
	if name == "" {
		name = uuid.NewString()
	}
	return &Bus{net: n, name: name}
}

// Bus is one participant on a Network.
type Bus struct {
	net  *Network
	name string

	mu     sync.Mutex
	closed bool
}

var _ bus.Bus = (*Bus)(nil)

// Name returns the participant name.
func (b *Bus) Name() string {
	return b.name
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type subscription struct {
	owner *Bus
	topic string
	h     bus.DataHandler
}

func (s *subscription) Unsubscribe() error {
	n := s.owner.net
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[s.topic]
	for i, x := range list {
		if x == s {
			n.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *Bus) Publish(_ context.Context, topic string, ts float64, payload []byte) error {
	if b.isClosed() {
		return bus.ErrClosed
	}
	b.net.mu.RLock()
	targets := append([]*subscription(nil), b.net.subs[topic]...)
	b.net.mu.RUnlock()

	for _, s := range targets {
		if s.owner == b || s.owner.isClosed() {
			continue
		}
		s.h(ts, append([]byte(nil), payload...))
	}
	logrus.Debugf("[membus] %s published %s at %g (%d bytes)", b.name, topic, ts, len(payload))
	return nil
}

func (b *Bus) Subscribe(_ context.Context, topic string, h bus.DataHandler) (bus.Subscription, error) {
	if b.isClosed() {
		return nil, bus.ErrClosed
	}
	s := &subscription{owner: b, topic: topic, h: h}
	b.net.mu.Lock()
	b.net.subs[topic] = append(b.net.subs[topic], s)
	b.net.mu.Unlock()
	return s, nil
}

func (b *Bus) CAN(controller string) (bus.CANController, error) {
	if b.isClosed() {
		return nil, bus.ErrClosed
	}
	c := &canController{owner: b, name: controller}
	b.net.mu.Lock()
	b.net.can[controller] = append(b.net.can[controller], c)
	b.net.mu.Unlock()
	return c, nil
}

func (b *Bus) RPCClient(function string) (bus.RPCClient, error) {
	if b.isClosed() {
		return nil, bus.ErrClosed
	}
	c := &rpcClient{owner: b, function: function}
	b.net.mu.Lock()
	b.net.clients[function] = append(b.net.clients[function], c)
	b.net.mu.Unlock()
	return c, nil
}

func (b *Bus) RPCServer(function string) (bus.RPCServer, error) {
	if b.isClosed() {
		return nil, bus.ErrClosed
	}
	s := &rpcServer{owner: b, function: function}
	b.net.mu.Lock()
	b.net.servers[function] = append(b.net.servers[function], s)
	b.net.mu.Unlock()
	return s, nil
}

// Close detaches the participant. Later operations fail with bus.ErrClosed
// and nothing is delivered to it any more.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type canController struct {
	owner *Bus
	name  string

	mu     sync.Mutex
	frames []func(float64, can.Frame)
	acks   []func(float64, uint32)
}

func (c *canController) OnFrame(h func(ts float64, f can.Frame)) {
	c.mu.Lock()
	c.frames = append(c.frames, h)
	c.mu.Unlock()
}

func (c *canController) OnAck(h func(ts float64, id uint32)) {
	c.mu.Lock()
	c.acks = append(c.acks, h)
	c.mu.Unlock()
}

func (c *canController) Send(_ context.Context, ts float64, f can.Frame) error {
	if c.owner.isClosed() {
		return bus.ErrClosed
	}
	n := c.owner.net
	n.mu.RLock()
	peers := append([]*canController(nil), n.can[c.name]...)
	n.mu.RUnlock()

	for _, p := range peers {
		if p.owner == c.owner || p.owner.isClosed() {
			continue
		}
		p.mu.Lock()
		handlers := slices.Clone(p.frames)
		p.mu.Unlock()
		for _, h := range handlers {
			h(ts, can.Frame{ID: f.ID, Extended: f.Extended, Remote: f.Remote, Data: append([]byte{}, f.Data...)})
		}
	}

	c.mu.Lock()
	acks := slices.Clone(c.acks)
	c.mu.Unlock()
	for _, h := range acks {
		h(ts, f.ID)
	}
	return nil
}

type rpcClient struct {
	owner    *Bus
	function string

	mu      sync.Mutex
	results []func(float64, string, []byte)
}

func (c *rpcClient) OnResult(h func(ts float64, correlationID string, result []byte)) {
	c.mu.Lock()
	c.results = append(c.results, h)
	c.mu.Unlock()
}

func (c *rpcClient) Call(_ context.Context, ts float64, correlationID string, args []byte) error {
	if c.owner.isClosed() {
		return bus.ErrClosed
	}
	n := c.owner.net
	n.mu.Lock()
	var targets []*rpcServer
	for _, s := range n.servers[c.function] {
		if s.owner != c.owner && !s.owner.isClosed() {
			targets = append(targets, s)
		}
	}
	handles := make([]bus.CallHandle, len(targets))
	for i := range targets {
		handles[i] = bus.CallHandle(uuid.NewString())
		n.pending[handles[i]] = pendingCall{client: c, correlationID: correlationID}
	}
	n.mu.Unlock()

	if len(targets) == 0 {
		logrus.Warnf("[membus] %s: call %s to %s has no server", c.owner.name, correlationID, c.function)
	}
	for i, s := range targets {
		s.deliver(ts, handles[i], append([]byte(nil), args...))
	}
	return nil
}

func (c *rpcClient) deliver(ts float64, correlationID string, result []byte) {
	c.mu.Lock()
	handlers := slices.Clone(c.results)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ts, correlationID, result)
	}
}

type rpcServer struct {
	owner    *Bus
	function string

	mu    sync.Mutex
	calls []func(float64, bus.CallHandle, []byte)
}

func (s *rpcServer) OnCall(h func(ts float64, handle bus.CallHandle, args []byte)) {
	s.mu.Lock()
	s.calls = append(s.calls, h)
	s.mu.Unlock()
}

func (s *rpcServer) deliver(ts float64, handle bus.CallHandle, args []byte) {
	s.mu.Lock()
	handlers := slices.Clone(s.calls)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ts, handle, args)
	}
}

func (s *rpcServer) SubmitResult(_ context.Context, ts float64, handle bus.CallHandle, result []byte) error {
	if s.owner.isClosed() {
		return bus.ErrClosed
	}
	n := s.owner.net
	n.mu.Lock()
	call, ok := n.pending[handle]
	delete(n.pending, handle)
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc %s: unknown call handle %q", s.function, handle)
	}
	if call.client.owner.isClosed() {
		return nil
	}
	call.client.deliver(ts, call.correlationID, append([]byte(nil), result...))
	return nil
}
