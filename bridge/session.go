package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge/bus"
	"github.com/fmubridge/fmubridge/bridge/config"
	"github.com/fmubridge/fmubridge/bridge/delivery"
	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/metrics"
	"github.com/fmubridge/fmubridge/bridge/pipeline"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records buffer, publication and step metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// inbound is the delivery buffer of one subscribed topic.
type inbound struct {
	topic *pipeline.Topic
	buf   *delivery.Buffer[string, []byte]
	sub   bus.Subscription
}

// Session exchanges data between one FMU and a bus. Step, Run and Terminate
// must be called from a single goroutine; bus callbacks only touch the
// delivery buffers.
type Session struct {
	cfg     *config.Config
	fmu     *fmi.Binding
	bus     bus.Bus
	layout  *pipeline.Layout
	pipe    *pipeline.Pipeline
	metrics *metrics.Metrics

	state    State
	now      float64
	step     float64
	window   *delivery.WindowRef
	inbound  []*inbound
	outbox   *delivery.Outbox[string, []byte]
	cans     []*canChannel
	clients  []*rpcClientChannel
	servers  []*rpcServerChannel
	wallBase time.Time

	failMu  sync.Mutex
	failure error
}

// New configures a session for fmu from cfg. cfg must have defaults
// applied. Configuration problems are reported here, before anything is
// attached to the bus.
func New(cfg *config.Config, fmu *fmi.Binding, b bus.Bus, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	layout, err := pipeline.Configure(fmu.ModelDescription(), cfg.PipelineOptions(reg))
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		fmu:    fmu,
		bus:    b,
		layout: layout,
		pipe:   pipeline.New(layout, fmu),
		now:    cfg.Simulation.Start,
		step:   cfg.Simulation.StepSize,
		outbox: delivery.NewOutbox[string, []byte](),
	}
	s.window = delivery.NewWindowRef(delivery.Window{Now: s.now, Next: s.now + s.step})
	for _, o := range opts {
		o(s)
	}
	for i, c := range cfg.CAN {
		ch, err := newCANChannel(layout, i, c)
		if err != nil {
			return nil, err
		}
		s.cans = append(s.cans, ch)
	}
	for i, fn := range cfg.RPC.Clients {
		c, err := newRPCClient(layout, i, fn)
		if err != nil {
			return nil, err
		}
		s.clients = append(s.clients, c)
	}
	for i, fn := range cfg.RPC.Servers {
		sv, err := newRPCServer(layout, i, fn)
		if err != nil {
			return nil, err
		}
		s.servers = append(s.servers, sv)
	}
	return s, nil
}

// Layout returns the configured topics.
func (s *Session) Layout() *pipeline.Layout { return s.layout }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Time returns the current simulation time.
func (s *Session) Time() float64 { return s.now }

// Window returns the stepping window seen by bus callbacks.
func (s *Session) Window() delivery.Window { return s.window.Load() }

func (s *Session) bufferOptions() []delivery.Option {
	var opts []delivery.Option
	if !s.cfg.IsSynchronized() {
		opts = append(opts, delivery.Unsynchronized())
	}
	if s.metrics != nil {
		opts = append(opts, delivery.WithObserver(s.metrics))
	}
	return opts
}

// fail records the first error raised in a bus callback. The next Step
// returns it.
func (s *Session) fail(err error) {
	if err == nil {
		return
	}
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failure == nil {
		logrus.Errorf("[bridge] %v", err)
		s.failure = err
	}
}

func (s *Session) failed() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

func (s *Session) published(channel string, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.Published(channel, n)
	}
}

// Initialize subscribes to every input topic and opens the CAN and RPC
// channels.
func (s *Session) Initialize(ctx context.Context) error {
	if s.state != StateCreated {
		return fmt.Errorf("initialize session in state %s", s.state)
	}
	for _, t := range s.pipe.Subscriptions() {
		in := &inbound{
			topic: t,
			buf:   delivery.NewBuffer[string, []byte]("data:"+t.Name, delivery.RejectFuture, s.bufferOptions()...),
		}
		sub, err := s.bus.Subscribe(ctx, t.Name, func(ts float64, payload []byte) {
			s.fail(in.buf.Insert(s.window.Load(), ts, in.topic.Name, payload))
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", t.Name, err)
		}
		in.sub = sub
		s.inbound = append(s.inbound, in)
	}
	for _, ch := range s.cans {
		if err := ch.attach(s); err != nil {
			return err
		}
	}
	for _, c := range s.clients {
		if err := c.attach(s); err != nil {
			return err
		}
	}
	for _, sv := range s.servers {
		if err := sv.attach(s); err != nil {
			return err
		}
	}
	s.state = StateInitialized
	logrus.Infof("[bridge] initialized at t=%g: %d publication(s), %d subscription(s), %d CAN channel(s), %d RPC client(s), %d RPC server(s)",
		s.now, len(s.layout.Publications), len(s.layout.Subscriptions), len(s.cans), len(s.clients), len(s.servers))
	return nil
}

// Step performs one FMU step of the configured step size.
func (s *Session) Step(ctx context.Context) error {
	switch s.state {
	case StateTerminated:
		return bridgeerrors.ErrTerminated
	case StateCreated:
		return fmt.Errorf("step in state %s", s.state)
	}
	if err := s.failed(); err != nil {
		return err
	}
	if s.state == StateInitialized {
		s.state = StateRunning
		s.wallBase = time.Now()
	}
	started := time.Now()

	w := delivery.Window{Now: s.now, Next: s.now + s.step}
	s.window.Store(w)
	if err := s.receive(w); err != nil {
		return err
	}

	reached, err := s.fmu.DoStep(ctx, s.now, s.step)
	if err != nil {
		return err
	}
	s.now = reached
	s.window.Store(delivery.Window{Now: reached, Next: reached + s.step})

	if err := s.send(ctx, reached); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.StepCompleted(reached, time.Since(started))
	}
	logrus.Debugf("[bridge] step to t=%g took %s", reached, time.Since(started))
	if s.cfg.Simulation.Realtime {
		return s.pace(ctx)
	}
	return s.failed()
}

// receive writes everything due at w.Now into the FMU.
func (s *Session) receive(w delivery.Window) error {
	for _, in := range s.inbound {
		items, err := in.buf.Drain(w)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := s.pipe.Import(in.topic, it.Value); err != nil {
				return fmt.Errorf("import %s at t=%g: %w", in.topic.Name, it.Timestamp, err)
			}
		}
	}
	for _, ch := range s.cans {
		if err := ch.receive(s, w); err != nil {
			return err
		}
	}
	for _, c := range s.clients {
		if err := c.receive(s, w); err != nil {
			return err
		}
	}
	for _, sv := range s.servers {
		if err := sv.receive(s, w); err != nil {
			return err
		}
	}
	return nil
}

// send publishes the active output topics and the CAN and RPC traffic the
// FMU produced, all stamped ts.
func (s *Session) send(ctx context.Context, ts float64) error {
	for _, t := range s.pipe.Publications() {
		on, err := s.pipe.Active(t)
		if err != nil {
			return err
		}
		if !on {
			continue
		}
		payload, err := s.pipe.Export(t)
		if err != nil {
			return fmt.Errorf("export %s at t=%g: %w", t.Name, ts, err)
		}
		s.outbox.Put(t.Name, payload)
	}
	if err := s.outbox.Flush(func(topic string, payload []byte) error {
		if err := s.bus.Publish(ctx, topic, ts, payload); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		s.published("data:"+topic, 1)
		return nil
	}); err != nil {
		return err
	}
	for _, ch := range s.cans {
		if err := ch.transmit(ctx, s, ts); err != nil {
			return err
		}
	}
	for _, c := range s.clients {
		if err := c.call(ctx, s, ts); err != nil {
			return err
		}
	}
	for _, sv := range s.servers {
		if err := sv.respond(ctx, s, ts); err != nil {
			return err
		}
	}
	return nil
}

// pace sleeps until wall-clock time caught up with simulation time.
func (s *Session) pace(ctx context.Context) error {
	due := s.wallBase.Add(time.Duration((s.now - s.cfg.Simulation.Start) * float64(time.Second)))
	wait := time.Until(due)
	if wait <= 0 {
		return s.failed()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return s.failed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run steps until horizon is reached, ctx is done or a step fails. The last
// step ends at or just past horizon.
func (s *Session) Run(ctx context.Context, horizon float64) error {
	logrus.Infof("[bridge] running from t=%g to t=%g, step %g", s.now, horizon, s.step)
	for horizon-s.now > s.step*1e-6 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	logrus.Infof("[bridge] reached t=%g", s.now)
	return nil
}

// Terminate unsubscribes, drops buffered messages and terminates the FMU.
// Terminating twice is a no-op.
func (s *Session) Terminate() error {
	if s.state == StateTerminated {
		return nil
	}
	s.state = StateTerminated
	for _, in := range s.inbound {
		if err := in.sub.Unsubscribe(); err != nil {
			logrus.Warnf("[bridge] unsubscribe %s: %v", in.topic.Name, err)
		}
		in.buf.Terminate()
	}
	for _, ch := range s.cans {
		if ch.in != nil {
			ch.in.Terminate()
		}
	}
	for _, c := range s.clients {
		if c.in != nil {
			c.in.Terminate()
		}
	}
	for _, sv := range s.servers {
		if sv.in != nil {
			sv.in.Terminate()
		}
	}
	logrus.Infof("[bridge] terminated at t=%g", s.now)
	return s.fmu.Terminate()
}
