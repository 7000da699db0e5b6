// Package natsbus maps the bus primitives onto NATS core messaging.
//
// Subjects, below an optional prefix:
//
//	data.<topic>                    topic samples
//	can.<controller>                CAN frames (one transmit record each)
//	rpc.<function>.call             RPC calls
//	rpc.<function>.result.<client>  RPC results for one client participant
//
// The sender's simulation time, participant id and RPC correlation id travel
// in message headers.
package natsbus

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge/bus"
	"github.com/fmubridge/fmubridge/bridge/can"
)

// Message headers.
const (
	HeaderTimestamp   = "Fmubridge-Time"
	HeaderSender      = "Fmubridge-Sender"
	HeaderCorrelation = "Fmubridge-Correlation"
	HeaderReply       = "Fmubridge-Reply"
)

// Config holds connection settings.
type Config struct {
	URL           string
	Prefix        string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "fmubridge",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Bus is one participant connected to NATS.
type Bus struct {
	nc          *nats.Conn
	prefix      string
	participant string
	ownsConn    bool

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ bus.Bus = (*Bus)(nil)

// Connect dials the server described by cfg.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logrus.Warnf("[natsbus] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("[natsbus] reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	b := New(nc, cfg.Prefix)
	b.ownsConn = true
	return b, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, prefix string) *Bus {
	return &Bus{nc: nc, prefix: prefix, participant: uuid.NewString()}
}

// Participant returns the id stamped on every message this bus sends.
func (b *Bus) Participant() string {
	return b.participant
}

// Subject returns the full subject for the given tokens.
func (b *Bus) Subject(tokens ...string) string {
	if b.prefix != "" {
		tokens = append([]string{b.prefix}, tokens...)
	}
	return strings.Join(tokens, ".")
}

func (b *Bus) newMsg(subject string, ts float64, payload []byte) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Header.Set(HeaderTimestamp, strconv.FormatFloat(ts, 'g', -1, 64))
	m.Header.Set(HeaderSender, b.participant)
	m.Data = payload
	return m
}

// Timestamp returns the simulation time carried by m.
func Timestamp(m *nats.Msg) (float64, error) {
	v := m.Header.Get(HeaderTimestamp)
	if v == "" {
		return 0, fmt.Errorf("message on %s has no %s header", m.Subject, HeaderTimestamp)
	}
	return strconv.ParseFloat(v, 64)
}

func (b *Bus) publish(m *nats.Msg) error {
	if b.nc.IsClosed() {
		return bus.ErrClosed
	}
	return b.nc.PublishMsg(m)
}

// subscribe registers a handler that drops this participant's own messages
// and messages without a usable timestamp.
func (b *Bus) subscribe(subject string, h func(ts float64, m *nats.Msg)) (*nats.Subscription, error) {
	if b.nc.IsClosed() {
		return nil, bus.ErrClosed
	}
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		if m.Header.Get(HeaderSender) == b.participant {
			return
		}
		ts, err := Timestamp(m)
		if err != nil {
			logrus.Warnf("[natsbus] dropping message: %v", err)
			return
		}
		h(ts, m)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) Publish(_ context.Context, topic string, ts float64, payload []byte) error {
	return b.publish(b.newMsg(b.Subject("data", topic), ts, payload))
}

func (b *Bus) Subscribe(_ context.Context, topic string, h bus.DataHandler) (bus.Subscription, error) {
	sub, err := b.subscribe(b.Subject("data", topic), func(ts float64, m *nats.Msg) {
		h(ts, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *Bus) CAN(controller string) (bus.CANController, error) {
	c := &canController{b: b, subject: b.Subject("can", controller)}
	if _, err := b.subscribe(c.subject, c.receive); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Bus) RPCClient(function string) (bus.RPCClient, error) {
	c := &rpcClient{
		b:       b,
		call:    b.Subject("rpc", function, "call"),
		results: b.Subject("rpc", function, "result", b.participant),
	}
	if _, err := b.subscribe(c.results, c.receive); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Bus) RPCServer(function string) (bus.RPCServer, error) {
	s := &rpcServer{b: b, function: function, pending: make(map[bus.CallHandle]pendingCall)}
	if _, err := b.subscribe(b.Subject("rpc", function, "call"), s.receive); err != nil {
		return nil, err
	}
	return s, nil
}

// Close removes every subscription and, for connections opened by Connect,
// drains and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			logrus.Warnf("[natsbus] unsubscribe %s: %v", s.Subject, err)
		}
	}
	if b.ownsConn && !b.nc.IsClosed() {
		return b.nc.Drain()
	}
	return nil
}

type canController struct {
	b       *Bus
	subject string

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

// Send publishes f and acknowledges it to local ack handlers once the
// publish succeeded.
func (c *canController) Send(_ context.Context, ts float64, f can.Frame) error {
	payload, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.b.publish(c.b.newMsg(c.subject, ts, payload)); err != nil {
		return fmt.Errorf("send %s on %s: %w", f, c.subject, err)
	}
	c.mu.Lock()
	acks := slices.Clone(c.acks)
	c.mu.Unlock()
	for _, h := range acks {
		h(ts, f.ID)
	}
	return nil
}

func (c *canController) receive(ts float64, m *nats.Msg) {
	var f can.Frame
	if err := f.UnmarshalBinary(m.Data); err != nil {
		logrus.Warnf("[natsbus] dropping CAN message on %s: %v", m.Subject, err)
		return
	}
	c.mu.Lock()
	handlers := slices.Clone(c.frames)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ts, f)
	}
}

type rpcClient struct {
	b       *Bus
	call    string
	results string

	mu       sync.Mutex
	handlers []func(float64, string, []byte)
}

func (c *rpcClient) OnResult(h func(ts float64, correlationID string, result []byte)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *rpcClient) Call(_ context.Context, ts float64, correlationID string, args []byte) error {
	m := c.b.newMsg(c.call, ts, args)
	m.Header.Set(HeaderCorrelation, correlationID)
	m.Header.Set(HeaderReply, c.results)
	return c.b.publish(m)
}

func (c *rpcClient) receive(ts float64, m *nats.Msg) {
	id := m.Header.Get(HeaderCorrelation)
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ts, id, m.Data)
	}
}

type pendingCall struct {
	reply         string
	correlationID string
}

type rpcServer struct {
	b        *Bus
	function string

	mu       sync.Mutex
	handlers []func(float64, bus.CallHandle, []byte)
	pending  map[bus.CallHandle]pendingCall
}

func (s *rpcServer) OnCall(h func(ts float64, handle bus.CallHandle, args []byte)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

func (s *rpcServer) receive(ts float64, m *nats.Msg) {
	reply := m.Header.Get(HeaderReply)
	if reply == "" {
		logrus.Warnf("[natsbus] rpc %s: call without reply subject dropped", s.function)
		return
	}
	handle := bus.CallHandle(uuid.NewString())
	s.mu.Lock()
	s.pending[handle] = pendingCall{reply: reply, correlationID: m.Header.Get(HeaderCorrelation)}
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()
	for _, h := range handlers {
		h(ts, handle, m.Data)
	}
}

func (s *rpcServer) SubmitResult(_ context.Context, ts float64, handle bus.CallHandle, result []byte) error {
	s.mu.Lock()
	call, ok := s.pending[handle]
	delete(s.pending, handle)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc %s: unknown call handle %q", s.function, handle)
	}
	m := s.b.newMsg(call.reply, ts, result)
	m.Header.Set(HeaderCorrelation, call.correlationID)
	return s.b.publish(m)
}
