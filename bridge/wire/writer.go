package wire

import (
	"encoding/binary"
	"math"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

// Writer accumulates a wire payload. All multi-byte values are written
// little-endian regardless of the host byte order.
type Writer struct {
	buf   []byte
	depth int // open array frames
}

// NewWriter returns a Writer with capacity for sizeHint bytes.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated payload. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards the accumulated payload, keeping the storage.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.depth = 0
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteInt8(v int8)   { w.buf = append(w.buf, byte(v)) }
func (w *Writer) WriteUInt8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteInt16(v int16) { w.WriteUInt16(uint16(v)) }
func (w *Writer) WriteUInt16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUInt32(uint32(v)) }
func (w *Writer) WriteUInt32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) { w.WriteUInt64(uint64(v)) }
func (w *Writer) WriteUInt64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) { w.WriteUInt32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUInt64(math.Float64bits(v)) }

// WriteString writes a u32 length followed by the UTF-8 bytes of v.
func (w *Writer) WriteString(v string) {
	w.WriteUInt32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// WriteBinary writes a u32 length followed by v.
func (w *Writer) WriteBinary(v []byte) {
	w.WriteUInt32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// WriteUint writes the low bits of v using a width given in bits. Only byte
// multiples up to 64 are supported.
func (w *Writer) WriteUint(bits int, v uint64) error {
	switch bits {
	case 8:
		w.WriteUInt8(uint8(v))
	case 16:
		w.WriteUInt16(uint16(v))
	case 32:
		w.WriteUInt32(uint32(v))
	case 64:
		w.WriteUInt64(v)
	default:
		return widthError("write", bits)
	}
	return nil
}

// BeginArray writes the u32 element count that opens an array frame.
func (w *Writer) BeginArray(count int) {
	w.WriteUInt32(uint32(count))
	w.depth++
}

// EndArray closes the innermost array frame. It writes nothing.
func (w *Writer) EndArray() {
	if w.depth > 0 {
		w.depth--
	}
}

// WriteOptional writes the presence byte of an optional value. When present
// is false nothing else must be written for the value.
func (w *Writer) WriteOptional(present bool) {
	w.WriteBool(present)
}

func widthError(op string, bits int) error {
	if bits%8 != 0 {
		return bridgeerrors.Codecf(op, bridgeerrors.ErrSubByteAlignment, "%d-bit value would leave the stream unaligned", bits)
	}
	return bridgeerrors.Codecf(op, bridgeerrors.ErrShape, "unsupported width of %d bits", bits)
}
