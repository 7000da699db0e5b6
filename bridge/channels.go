package bridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge/bus"
	"github.com/fmubridge/fmubridge/bridge/can"
	"github.com/fmubridge/fmubridge/bridge/config"
	"github.com/fmubridge/fmubridge/bridge/delivery"
	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/pipeline"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// lookupVariable returns the configured variable name, checking its kind
// and direction.
func lookupVariable(layout *pipeline.Layout, subject, name string, k types.Kind, dir pipeline.Direction) (*pipeline.ConfiguredVariable, error) {
	cv, ok := layout.Variable(name)
	if !ok {
		return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "model has no exchanged variable %q", name)
	}
	if cv.Kind() != k || cv.Direction != dir {
		return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "variable %q must be a %s %s, got %s %s", name, k, dir, cv.Kind(), cv.Direction)
	}
	return cv, nil
}

// lookupStructure returns the structure rooted at root, which must contain
// at least one clock and only variables of direction dir.
func lookupStructure(layout *pipeline.Layout, subject, root string, dir pipeline.Direction) (*pipeline.ConfiguredStructure, error) {
	s, ok := layout.Structure(root)
	if !ok {
		return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "model has no structure %q", root)
	}
	if len(s.AllClocks()) == 0 {
		return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "structure %q has no clock", root)
	}
	for _, cv := range s.Variables() {
		if cv.Direction != dir {
			return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "structure %q must only hold %s variables, %s is %s", root, dir, cv.Name(), cv.Direction)
		}
	}
	for _, c := range s.AllClocks() {
		if c.Direction != dir {
			return nil, bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, "structure %q must only hold %s clocks, %s is %s", root, dir, c.Name(), c.Direction)
		}
	}
	return s, nil
}

// canChannel connects one CAN controller to the FMU's transmit and receive
// buffers.
type canChannel struct {
	name    string
	tx      *pipeline.ConfiguredVariable
	txClock *pipeline.ConfiguredVariable
	rx      *pipeline.ConfiguredVariable
	rxClock *pipeline.ConfiguredVariable

	ctrl bus.CANController
	in   *delivery.Buffer[can.Key, can.Operation]
	// held is set while rx carries operations from an earlier step.
	held bool
}

func newCANChannel(layout *pipeline.Layout, idx int, c config.CAN) (*canChannel, error) {
	subject := fmt.Sprintf("can[%d]", idx)
	ch := &canChannel{name: c.Controller}
	var err error
	if ch.tx, err = lookupVariable(layout, subject+".tx", c.Tx, types.KindBinary, pipeline.Publish); err != nil {
		return nil, err
	}
	if ch.txClock, err = lookupVariable(layout, subject+".tx_clock", c.TxClock, types.KindClock, pipeline.Publish); err != nil {
		return nil, err
	}
	if ch.rx, err = lookupVariable(layout, subject+".rx", c.Rx, types.KindBinary, pipeline.Subscribe); err != nil {
		return nil, err
	}
	if c.RxClock != "" {
		if ch.rxClock, err = lookupVariable(layout, subject+".rx_clock", c.RxClock, types.KindClock, pipeline.Subscribe); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// attach registers the bus callbacks. Received frames and acknowledgements
// of own frames are buffered until the step they are due in.
func (ch *canChannel) attach(s *Session) error {
	ctrl, err := s.bus.CAN(ch.name)
	if err != nil {
		return fmt.Errorf("open CAN controller %s: %w", ch.name, err)
	}
	ch.ctrl = ctrl
	ch.in = delivery.NewBuffer[can.Key, can.Operation]("can:"+ch.name, delivery.DeferFuture, s.bufferOptions()...)
	ctrl.OnFrame(func(ts float64, f can.Frame) {
		op := can.Transmit(f)
		s.fail(ch.in.Insert(s.window.Load(), ts, op.Key(), op))
	})
	ctrl.OnAck(func(ts float64, id uint32) {
		op := can.Confirm(id)
		s.fail(ch.in.Insert(s.window.Load(), ts, op.Key(), op))
	})
	return nil
}

// receive writes the due operations into the receive buffer and ticks the
// receive clock. Without a receive clock the buffer is emptied on the first
// step with nothing due.
func (ch *canChannel) receive(s *Session, w delivery.Window) error {
	items, err := ch.in.Drain(w)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		if ch.rxClock != nil || !ch.held {
			return nil
		}
		ch.held = false
		return s.pipe.WriteBinary(ch.rx, []byte{})
	}
	ops := make([]can.Operation, len(items))
	for i, it := range items {
		ops[i] = it.Value
	}
	payload, err := can.Encode(ops...)
	if err != nil {
		return err
	}
	logrus.Debugf("[bridge] %s: %d operation(s) into %s", ch.in.Name(), len(ops), ch.rx.Name())
	if err := s.pipe.WriteBinary(ch.rx, payload); err != nil {
		return err
	}
	ch.held = true
	if ch.rxClock != nil {
		return s.pipe.Tick(ch.rxClock)
	}
	return nil
}

// transmit sends the transmit operations of the transmit buffer when its
// clock ticked. Confirm operations written by the FMU are ignored.
func (ch *canChannel) transmit(ctx context.Context, s *Session, ts float64) error {
	on, err := s.pipe.ClockActive(ch.txClock)
	if err != nil || !on {
		return err
	}
	payload, err := s.pipe.ReadBinary(ch.tx)
	if err != nil {
		return err
	}
	ops, err := can.Decode(payload)
	if err != nil {
		return fmt.Errorf("CAN controller %s: %w", ch.name, err)
	}
	sent := 0
	for _, op := range ops {
		if op.Opcode != can.OpTransmit {
			continue
		}
		if err := ch.ctrl.Send(ctx, ts, op.Frame); err != nil {
			return err
		}
		sent++
	}
	s.published("can:"+ch.name, sent)
	return nil
}

// rpcResult is one result received by a client.
type rpcResult struct {
	correlationID string
	payload       []byte
}

// rpcClientChannel calls a remote function whenever the FMU ticks a clock of
// the argument structure and writes results into the result structure.
type rpcClientChannel struct {
	function string
	args     *pipeline.ConfiguredStructure
	result   *pipeline.ConfiguredStructure

	client  bus.RPCClient
	in      *delivery.Buffer[string, rpcResult]
	pending map[string]float64
}

func newRPCClient(layout *pipeline.Layout, idx int, fn config.RPCFunction) (*rpcClientChannel, error) {
	subject := fmt.Sprintf("rpc.clients[%d]", idx)
	args, err := lookupStructure(layout, subject+".args", fn.Args, pipeline.Publish)
	if err != nil {
		return nil, err
	}
	result, err := lookupStructure(layout, subject+".result", fn.Result, pipeline.Subscribe)
	if err != nil {
		return nil, err
	}
	return &rpcClientChannel{function: fn.Function, args: args, result: result, pending: make(map[string]float64)}, nil
}

func (c *rpcClientChannel) attach(s *Session) error {
	client, err := s.bus.RPCClient(c.function)
	if err != nil {
		return fmt.Errorf("open RPC client %s: %w", c.function, err)
	}
	c.client = client
	c.in = delivery.NewBuffer[string, rpcResult]("rpc:"+c.function+":results", delivery.DeferFuture, s.bufferOptions()...)
	client.OnResult(func(ts float64, id string, result []byte) {
		s.fail(c.in.Insert(s.window.Load(), ts, id, rpcResult{correlationID: id, payload: result}))
	})
	return nil
}

// receive imports the due results of calls this client made.
func (c *rpcClientChannel) receive(s *Session, w delivery.Window) error {
	items, err := c.in.Drain(w)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, ok := c.pending[it.Key]; !ok {
			logrus.Warnf("[bridge] rpc %s: dropping result for unknown call %s", c.function, it.Key)
			continue
		}
		delete(c.pending, it.Key)
		if err := s.pipe.ImportStructure(c.result, it.Value.payload); err != nil {
			return fmt.Errorf("rpc %s result: %w", c.function, err)
		}
		if err := s.pipe.Tick(c.result.AllClocks()...); err != nil {
			return err
		}
	}
	return nil
}

// call issues a call when a clock of the argument structure ticked.
func (c *rpcClientChannel) call(ctx context.Context, s *Session, ts float64) error {
	on, err := s.pipe.AnyTicked(c.args.AllClocks())
	if err != nil || !on {
		return err
	}
	payload, err := s.pipe.ExportStructure(c.args)
	if err != nil {
		return fmt.Errorf("rpc %s args: %w", c.function, err)
	}
	id := uuid.NewString()
	c.pending[id] = ts
	if err := c.client.Call(ctx, ts, id, payload); err != nil {
		delete(c.pending, id)
		return err
	}
	logrus.Debugf("[bridge] rpc %s: call %s at %g", c.function, id, ts)
	s.published("rpc:"+c.function+":calls", 1)
	return nil
}

// rpcCall is one call received by a server.
type rpcCall struct {
	handle bus.CallHandle
	args   []byte
}

// rpcServerChannel serves one function. Calls are handed to the FMU one at
// a time: the next queued call is imported once the FMU answered the
// previous one by ticking a clock of the result structure.
type rpcServerChannel struct {
	function string
	args     *pipeline.ConfiguredStructure
	result   *pipeline.ConfiguredStructure

	server   bus.RPCServer
	in       *delivery.Buffer[bus.CallHandle, rpcCall]
	queue    []rpcCall
	inflight *rpcCall
}

func newRPCServer(layout *pipeline.Layout, idx int, fn config.RPCFunction) (*rpcServerChannel, error) {
	subject := fmt.Sprintf("rpc.servers[%d]", idx)
	args, err := lookupStructure(layout, subject+".args", fn.Args, pipeline.Subscribe)
	if err != nil {
		return nil, err
	}
	result, err := lookupStructure(layout, subject+".result", fn.Result, pipeline.Publish)
	if err != nil {
		return nil, err
	}
	return &rpcServerChannel{function: fn.Function, args: args, result: result}, nil
}

func (sv *rpcServerChannel) attach(s *Session) error {
	server, err := s.bus.RPCServer(sv.function)
	if err != nil {
		return fmt.Errorf("open RPC server %s: %w", sv.function, err)
	}
	sv.server = server
	sv.in = delivery.NewBuffer[bus.CallHandle, rpcCall]("rpc:"+sv.function+":calls", delivery.DeferFuture, s.bufferOptions()...)
	server.OnCall(func(ts float64, h bus.CallHandle, args []byte) {
		s.fail(sv.in.Insert(s.window.Load(), ts, h, rpcCall{handle: h, args: args}))
	})
	return nil
}

// receive queues the due calls and hands the oldest one to the FMU when no
// call is in flight.
func (sv *rpcServerChannel) receive(s *Session, w delivery.Window) error {
	items, err := sv.in.Drain(w)
	if err != nil {
		return err
	}
	for _, it := range items {
		sv.queue = append(sv.queue, it.Value)
	}
	if sv.inflight != nil || len(sv.queue) == 0 {
		return nil
	}
	next := sv.queue[0]
	sv.queue = sv.queue[1:]
	if err := s.pipe.ImportStructure(sv.args, next.args); err != nil {
		return fmt.Errorf("rpc %s args: %w", sv.function, err)
	}
	if err := s.pipe.Tick(sv.args.AllClocks()...); err != nil {
		return err
	}
	sv.inflight = &next
	logrus.Debugf("[bridge] rpc %s: serving call %s, %d queued", sv.function, next.handle, len(sv.queue))
	return nil
}

// respond submits the result of the call in flight once the FMU ticked a
// clock of the result structure.
func (sv *rpcServerChannel) respond(ctx context.Context, s *Session, ts float64) error {
	if sv.inflight == nil {
		return nil
	}
	on, err := s.pipe.AnyTicked(sv.result.AllClocks())
	if err != nil || !on {
		return err
	}
	payload, err := s.pipe.ExportStructure(sv.result)
	if err != nil {
		return fmt.Errorf("rpc %s result: %w", sv.function, err)
	}
	handle := sv.inflight.handle
	sv.inflight = nil
	if err := sv.server.SubmitResult(ctx, ts, handle, payload); err != nil {
		return err
	}
	s.published("rpc:"+sv.function+":results", 1)
	return nil
}
