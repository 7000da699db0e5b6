// Package bus defines the bus primitives the bridge exchanges data with:
// topic publish/subscribe, CAN controllers and RPC clients and servers.
//
// Implementations live in membus (in-process) and natsbus (NATS). Every
// message carries the sender's simulation time, which receivers use to align
// delivery with their own steps. Handlers run on the implementation's
// goroutines and must not block.
package bus

import (
	"context"
	"errors"

	"github.com/fmubridge/fmubridge/bridge/can"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// DataHandler receives one topic sample.
type DataHandler func(ts float64, payload []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is one participant's connection to the bus.
type Bus interface {
	Publish(ctx context.Context, topic string, ts float64, payload []byte) error
	Subscribe(ctx context.Context, topic string, h DataHandler) (Subscription, error)
	CAN(controller string) (CANController, error)
	RPCClient(function string) (RPCClient, error)
	RPCServer(function string) (RPCServer, error)
	Close() error
}

// CANController sends frames on a CAN network and reports received frames
// and transmit acknowledgements of its own frames.
type CANController interface {
	Send(ctx context.Context, ts float64, f can.Frame) error
	OnFrame(h func(ts float64, f can.Frame))
	OnAck(h func(ts float64, id uint32))
}

// RPCClient calls a remote function. Results are matched to calls by the
// correlation id chosen by the caller.
type RPCClient interface {
	Call(ctx context.Context, ts float64, correlationID string, args []byte) error
	OnResult(h func(ts float64, correlationID string, result []byte))
}

// CallHandle identifies a received call until its result is submitted.
type CallHandle string

// RPCServer serves a function.
type RPCServer interface {
	OnCall(h func(ts float64, handle CallHandle, args []byte))
	SubmitResult(ctx context.Context, ts float64, handle CallHandle, result []byte) error
}
