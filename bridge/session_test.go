package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmubridge/fmubridge/bridge/bus/membus"
	"github.com/fmubridge/fmubridge/bridge/can"
	"github.com/fmubridge/fmubridge/bridge/config"
	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/fmi/loopback"
	"github.com/fmubridge/fmubridge/bridge/internal/testutil"
	"github.com/fmubridge/fmubridge/bridge/pipeline"
)

// peer is a session around a loopback thermal FMU.
type peer struct {
	md   *fmi.ModelDescription
	inst *loopback.Instance
	s    *Session
}

func loadThermal(t *testing.T) *fmi.ModelDescription {
	t.Helper()
	md, err := fmi.LoadModelDescription(testutil.ModelPath(t, "thermal"))
	require.NoError(t, err)
	return md
}

func newSession(t *testing.T, net *membus.Network, name string, cfg *config.Config) (*peer, error) {
	t.Helper()
	md := loadThermal(t)
	cfg.ApplyDefaults(md)
	links, err := cfg.LoopbackLinks(md)
	require.NoError(t, err)
	inst, err := loopback.New(md, loopback.WithLinks(links...))
	require.NoError(t, err)
	s, err := New(cfg, fmi.NewBinding(inst), net.Join(name))
	if err != nil {
		return nil, err
	}
	return &peer{md: md, inst: inst, s: s}, nil
}

// newPeer builds and initializes a session joined to net.
func newPeer(t *testing.T, net *membus.Network, name string, cfg *config.Config) *peer {
	t.Helper()
	p, err := newSession(t, net, name, cfg)
	require.NoError(t, err)
	require.NoError(t, p.s.Initialize(context.Background()))
	t.Cleanup(func() { _ = p.s.Terminate() })
	return p
}

func (p *peer) set(t *testing.T, name string, values ...any) {
	t.Helper()
	v, ok := p.md.Variable(name)
	require.True(t, ok, name)
	nv, err := fmi.Pack(v.Kind, p.md.EnumWidth(), values...)
	require.NoError(t, err)
	require.Equal(t, fmi.StatusOK, p.inst.SetValues(v.ValueReference, v.Kind, nv))
}

func (p *peer) get(t *testing.T, name string) any {
	t.Helper()
	v, ok := p.md.Variable(name)
	require.True(t, ok, name)
	nv, s := p.inst.GetValues([]fmi.ValueReference{v.ValueReference}, v.Kind)
	require.Equal(t, fmi.StatusOK, s)
	out, err := nv.Unpack()
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func (p *peer) step(t *testing.T) {
	t.Helper()
	require.NoError(t, p.s.Step(context.Background()))
}

func canOps(t *testing.T, p *peer, name string) []can.Operation {
	t.Helper()
	ops, err := can.Decode(p.get(t, name).([]byte))
	require.NoError(t, err)
	return ops
}

// echoPair wires A's echo output to B's setpoint input over topic "temp".
func echoPair(t *testing.T, synchronized bool) (a, b *peer) {
	net := membus.NewNetwork()
	a = newPeer(t, net, "a", &config.Config{Variables: []config.Variable{{Name: "echo", Topic: "temp"}}})
	b = newPeer(t, net, "b", &config.Config{
		Simulation: config.Simulation{Synchronized: &synchronized},
		Variables:  []config.Variable{{Name: "setpoint", Topic: "temp"}},
	})
	a.set(t, "echo", 25.0)
	return a, b
}

func TestSession_TopicDeliveredInStepStartingAtItsTimestamp(t *testing.T) {
	// GIVEN two peers in lock-step, A publishing echo=25 to B's setpoint (degC)
	a, b := echoPair(t, true)

	// WHEN A and B each complete their first step
	a.step(t)
	b.step(t)

	// THEN B has not seen the sample stamped 0.1 yet
	assert.Equal(t, 0.0, b.get(t, "setpoint"))

	// WHEN both complete their second step
	a.step(t)
	b.step(t)

	// THEN the sample was written before B's step starting at 0.1, in Kelvin
	testutil.AssertFloat64Equal(t, "setpoint", 298.15, b.get(t, "setpoint").(float64), 1e-12)
	testutil.AssertFloat64Equal(t, "time", 0.2, b.s.Time(), 1e-12)
	assert.Equal(t, StateRunning, b.s.State())
}

func TestSession_SampleBeyondNextStepIsOrderingError(t *testing.T) {
	// GIVEN A running two steps ahead of B
	a, b := echoPair(t, true)
	a.step(t)
	a.step(t)

	// WHEN B steps
	err := b.s.Step(context.Background())

	// THEN the sample stamped 0.2 broke step-aligned delivery
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassOrdering))
	assert.ErrorIs(t, err, bridgeerrors.ErrFutureMessage)
}

func TestSession_UnsynchronizedDeliversOnNextStep(t *testing.T) {
	// GIVEN B ignores timestamps and A is two steps ahead
	a, b := echoPair(t, false)
	a.step(t)
	a.step(t)

	// WHEN B steps once
	b.step(t)

	// THEN the newest sample was delivered right away
	testutil.AssertFloat64Equal(t, "setpoint", 298.15, b.get(t, "setpoint").(float64), 1e-12)
}

func TestSession_CANFramesAndAcks(t *testing.T) {
	channel := []config.CAN{{Controller: "can0", Tx: "canTx", TxClock: "canTxClock", Rx: "canRx", RxClock: "canRxClock"}}
	net := membus.NewNetwork()
	a := newPeer(t, net, "a", &config.Config{CAN: channel})
	b := newPeer(t, net, "b", &config.Config{CAN: channel})
	assert.NotContains(t, topicNames(a.s.Layout().Publications), "canTx")
	assert.NotContains(t, topicNames(b.s.Layout().Subscriptions), "canRx")

	// GIVEN A's FMU queued one frame and ticked its transmit clock
	frame := can.Frame{ID: 0x10, Data: []byte{4, 2}}
	tx, err := can.Encode(can.Transmit(frame), can.Confirm(0x99))
	require.NoError(t, err)
	a.set(t, "canTx", tx)
	a.set(t, "canTxClock", true)

	// WHEN A steps, the FMU lowers its clock, and both run two steps
	a.step(t)
	a.set(t, "canTxClock", false)
	b.step(t)
	a.step(t)
	b.step(t)

	// THEN B received the frame and A the acknowledgement, one step later
	assert.Equal(t, []can.Operation{can.Transmit(frame)}, canOps(t, b, "canRx"))
	assert.Equal(t, []can.Operation{can.Confirm(0x10)}, canOps(t, a, "canRx"))
}

func TestSession_CANWithoutReceiveClockClearsDeliveredFrames(t *testing.T) {
	channel := []config.CAN{{Controller: "can0", Tx: "canTx", TxClock: "canTxClock", Rx: "canRx"}}
	net := membus.NewNetwork()
	a := newPeer(t, net, "a", &config.Config{CAN: channel})
	b := newPeer(t, net, "b", &config.Config{CAN: channel})

	// GIVEN A sent one frame in its first step
	frame := can.Frame{ID: 0x21, Data: []byte{7}}
	tx, err := can.Encode(can.Transmit(frame))
	require.NoError(t, err)
	a.set(t, "canTx", tx)
	a.set(t, "canTxClock", true)
	a.step(t)
	a.set(t, "canTxClock", false)

	// WHEN B runs the step the frame is due in
	b.step(t)
	b.step(t)

	// THEN the receive buffer carries it
	assert.Equal(t, []can.Operation{can.Transmit(frame)}, canOps(t, b, "canRx"))

	// WHEN B and A run steps with nothing due
	b.step(t)
	a.step(t)
	a.step(t)

	// THEN neither receive buffer repeats the earlier operations
	assert.Empty(t, canOps(t, b, "canRx"))
	assert.Empty(t, canOps(t, a, "canRx"))

	// AND a step with nothing due and nothing held leaves the buffer empty
	b.step(t)
	assert.Empty(t, canOps(t, b, "canRx"))
}

func TestSession_RPCClientAndServer(t *testing.T) {
	net := membus.NewNetwork()
	a := newPeer(t, net, "client", &config.Config{
		RPC: config.RPC{Clients: []config.RPCFunction{{Function: "add", Args: "call", Result: "reply"}}},
	})
	b := newPeer(t, net, "server", &config.Config{
		RPC: config.RPC{Servers: []config.RPCFunction{{Function: "add", Args: "req", Result: "resp"}}},
		// The server FMU answers within the step: resp.sum = req.a.
		Loopback: config.Loopback{Links: []config.Link{{From: "req.a", To: "resp.sum"}, {From: "req.tick", To: "resp.tick"}}},
	})

	// GIVEN the client FMU ticks its call clock with call.a=2, call.b=3
	a.set(t, "call.tick", true)
	a.step(t)
	a.set(t, "call.tick", false)

	// WHEN the server serves the call in its step starting at 0.1
	b.step(t)
	a.step(t)
	b.step(t)

	// THEN the server FMU saw the arguments
	assert.Equal(t, 2.0, b.get(t, "req.a"))
	assert.Equal(t, 3.0, b.get(t, "req.b"))
	assert.Equal(t, 0.0, a.get(t, "reply.sum"))

	// WHEN the client steps from 0.2, when the result is due
	a.step(t)

	// THEN the result was written into the reply structure
	assert.Equal(t, 2.0, a.get(t, "reply.sum"))
}

func TestSession_Run(t *testing.T) {
	p := newPeer(t, membus.NewNetwork(), "solo", &config.Config{})

	require.NoError(t, p.s.Run(context.Background(), 1.0))

	assert.Equal(t, 10, p.inst.Steps())
	testutil.AssertFloat64Equal(t, "time", 1.0, p.s.Time(), 1e-9)
	w := p.s.Window()
	testutil.AssertFloat64Equal(t, "next", 1.1, w.Next, 1e-9)
}

func TestSession_RunHonoursCancellation(t *testing.T) {
	p := newPeer(t, membus.NewNetwork(), "solo", &config.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.s.Run(ctx, 1.0)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.inst.Steps())
}

func TestSession_RealtimePacing(t *testing.T) {
	p := newPeer(t, membus.NewNetwork(), "solo", &config.Config{
		Simulation: config.Simulation{StepSize: 0.05, Realtime: true},
	})
	start := time.Now()

	require.NoError(t, p.s.Run(context.Background(), 0.1))

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 2, p.inst.Steps())
}

func TestSession_Lifecycle(t *testing.T) {
	p, err := newSession(t, membus.NewNetwork(), "solo", &config.Config{})
	require.NoError(t, err)
	ctx := context.Background()
	assert.Equal(t, StateCreated, p.s.State())

	assert.Error(t, p.s.Step(ctx), "step before initialize")

	require.NoError(t, p.s.Initialize(ctx))
	assert.Equal(t, StateInitialized, p.s.State())
	assert.Error(t, p.s.Initialize(ctx), "initialize twice")

	require.NoError(t, p.s.Terminate())
	assert.Equal(t, StateTerminated, p.s.State())
	assert.ErrorIs(t, p.s.Step(ctx), bridgeerrors.ErrTerminated)
	assert.NoError(t, p.s.Terminate(), "terminate is idempotent")
}

func TestSession_LateMessagesAfterTerminateAreDropped(t *testing.T) {
	a, b := echoPair(t, true)
	require.NoError(t, b.s.Terminate())

	a.step(t)
	a.step(t)

	assert.ErrorIs(t, b.s.Step(context.Background()), bridgeerrors.ErrTerminated)
	assert.Zero(t, b.inst.Steps())
}

func TestNew_ChannelConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"CAN tx is not binary", config.Config{CAN: []config.CAN{{Controller: "c", Tx: "echo", TxClock: "canTxClock", Rx: "canRx"}}}},
		{"CAN rx is an output", config.Config{CAN: []config.CAN{{Controller: "c", Tx: "canTx", TxClock: "canTxClock", Rx: "canTx"}}}},
		{"CAN tx clock missing", config.Config{CAN: []config.CAN{{Controller: "c", Tx: "canTx", TxClock: "nope", Rx: "canRx"}}}},
		{"RPC args without clock", config.Config{RPC: config.RPC{Clients: []config.RPCFunction{{Function: "f", Args: "pose", Result: "reply"}}}}},
		{"RPC client args are inputs", config.Config{RPC: config.RPC{Clients: []config.RPCFunction{{Function: "f", Args: "req", Result: "reply"}}}}},
		{"RPC server unknown structure", config.Config{RPC: config.RPC{Servers: []config.RPCFunction{{Function: "f", Args: "missing", Result: "resp"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := newSession(t, membus.NewNetwork(), "x", &cfg)
			require.Error(t, err)
			assert.True(t, bridgeerrors.IsClass(err, bridgeerrors.ClassConfiguration), err.Error())
		})
	}
}

func topicNames(topics []*pipeline.Topic) []string {
	var names []string
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names
}
