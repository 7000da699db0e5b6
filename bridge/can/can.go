// Package can encodes CAN frames as the operation records a CAN-capable FMU
// exchanges through its binary transmit and receive variables.
//
// Every record starts with a u32 opcode and the u32 length of the whole
// record, both little-endian:
//
//	transmit: [0x10][16+N][id u32][IDE u8][RTR u8][N u16][N data bytes]
//	confirm:  [0x20][12][id u32]
//
// A binary variable holds any number of records back to back.
package can

import (
	"fmt"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/wire"
)

const (
	OpTransmit uint32 = 0x10
	OpConfirm  uint32 = 0x20

	transmitHeader = 16
	confirmLength  = 12
)

// Frame is one CAN frame.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	Data     []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("can[id=%#x ide=%t rtr=%t len=%d]", f.ID, f.Extended, f.Remote, len(f.Data))
}

// Operation is one decoded record. Frame is set for transmit records; ID
// alone for confirmations.
type Operation struct {
	Opcode uint32
	ID     uint32
	Frame  Frame
}

// Key identifies an operation for last-is-best buffering.
type Key struct {
	Opcode uint32
	ID     uint32
}

// Key returns the buffering key of op.
func (op Operation) Key() Key {
	return Key{Opcode: op.Opcode, ID: op.ID}
}

// Transmit returns the transmit operation for f.
func Transmit(f Frame) Operation {
	return Operation{Opcode: OpTransmit, ID: f.ID, Frame: f}
}

// Confirm returns the confirmation operation for a frame id.
func Confirm(id uint32) Operation {
	return Operation{Opcode: OpConfirm, ID: id}
}

// Append writes op to w.
func Append(w *wire.Writer, op Operation) error {
	switch op.Opcode {
	case OpTransmit:
		n := len(op.Frame.Data)
		if n > 0xFFFF {
			return bridgeerrors.Codecf("encode can", bridgeerrors.ErrShape, "frame %#x carries %d bytes", op.Frame.ID, n)
		}
		w.WriteUInt32(OpTransmit)
		w.WriteUInt32(uint32(transmitHeader + n))
		w.WriteUInt32(op.Frame.ID)
		w.WriteBool(op.Frame.Extended)
		w.WriteBool(op.Frame.Remote)
		w.WriteUInt16(uint16(n))
		for _, b := range op.Frame.Data {
			w.WriteUInt8(b)
		}
	case OpConfirm:
		w.WriteUInt32(OpConfirm)
		w.WriteUInt32(confirmLength)
		w.WriteUInt32(op.ID)
	default:
		return bridgeerrors.Codecf("encode can", bridgeerrors.ErrValueType, "unknown opcode %#x", op.Opcode)
	}
	return nil
}

// Encode writes ops back to back.
func Encode(ops ...Operation) ([]byte, error) {
	w := wire.NewWriter(0)
	for _, op := range ops {
		if err := Append(w, op); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// Decode parses every record in b. Records with an unknown opcode are
// skipped using their length field.
func Decode(b []byte) ([]Operation, error) {
	r := wire.NewReader(b)
	var ops []Operation
	for r.Remaining() > 0 {
		start := r.Offset()
		opcode, err := r.ReadUInt32()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUInt32()
		if err != nil {
			return nil, err
		}
		if length < 8 || int(length)-8 > r.Remaining() {
			return nil, bridgeerrors.Codecf("decode can", bridgeerrors.ErrTruncated, "record at offset %d claims %d bytes, %d available", start, length, r.Remaining()+8)
		}
		switch opcode {
		case OpTransmit:
			op, err := decodeTransmit(r, length)
			if err != nil {
				return nil, fmt.Errorf("record at offset %d: %w", start, err)
			}
			ops = append(ops, op)
		case OpConfirm:
			if length != confirmLength {
				return nil, bridgeerrors.Codecf("decode can", bridgeerrors.ErrShape, "confirm record at offset %d has length %d", start, length)
			}
			id, err := r.ReadUInt32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, Confirm(id))
		default:
			for i := 8; i < int(length); i++ {
				if _, err := r.ReadUInt8(); err != nil {
					return nil, err
				}
			}
		}
	}
	return ops, nil
}

func decodeTransmit(r *wire.Reader, length uint32) (Operation, error) {
	if length < transmitHeader {
		return Operation{}, bridgeerrors.Codecf("decode can", bridgeerrors.ErrShape, "transmit record length %d below header size", length)
	}
	var f Frame
	var err error
	if f.ID, err = r.ReadUInt32(); err != nil {
		return Operation{}, err
	}
	if f.Extended, err = r.ReadBool(); err != nil {
		return Operation{}, err
	}
	if f.Remote, err = r.ReadBool(); err != nil {
		return Operation{}, err
	}
	n, err := r.ReadUInt16()
	if err != nil {
		return Operation{}, err
	}
	if uint32(n)+transmitHeader != length {
		return Operation{}, bridgeerrors.Codecf("decode can", bridgeerrors.ErrShape, "data length %d does not match record length %d", n, length)
	}
	f.Data = make([]byte, n)
	for i := range f.Data {
		if f.Data[i], err = r.ReadUInt8(); err != nil {
			return Operation{}, err
		}
	}
	return Transmit(f), nil
}

// MarshalBinary encodes f as a single transmit record.
func (f Frame) MarshalBinary() ([]byte, error) {
	return Encode(Transmit(f))
}

// UnmarshalBinary decodes a single transmit record.
func (f *Frame) UnmarshalBinary(b []byte) error {
	ops, err := Decode(b)
	if err != nil {
		return err
	}
	if len(ops) != 1 || ops[0].Opcode != OpTransmit {
		return bridgeerrors.Codecf("decode can", bridgeerrors.ErrShape, "expected one transmit record, got %d records", len(ops))
	}
	*f = ops[0].Frame
	return nil
}
