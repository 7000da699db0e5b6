package wire

import (
	"encoding/binary"
	"math"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

// Reader consumes a wire payload sequentially. Reading past the end of the
// payload returns an error wrapping errors.ErrTruncated and leaves the cursor
// where it was.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, bridgeerrors.Codecf("read "+what, bridgeerrors.ErrTruncated,
			"need %d bytes at offset %d, %d remaining", n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUInt8()
	return int8(v), err
}

func (r *Reader) ReadUInt8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUInt16()
	return int16(v), err
}

func (r *Reader) ReadUInt16() (uint16, error) {
	b, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUInt32()
	return int32(v), err
}

func (r *Reader) ReadUInt32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUInt64()
	return int64(v), err
}

func (r *Reader) ReadUInt64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUInt32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUInt64()
	return math.Float64frombits(v), err
}

// ReadString reads a u32 length followed by that many bytes.
func (r *Reader) ReadString() (string, error) {
	b, err := r.readSized("string")
	return string(b), err
}

// ReadBinary reads a u32 length followed by that many bytes. The result is a
// copy, independent of the reader's buffer.
func (r *Reader) ReadBinary() ([]byte, error) {
	b, err := r.readSized("binary")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) readSized(what string) ([]byte, error) {
	start := r.pos
	n, err := r.ReadUInt32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n), what)
	if err != nil {
		r.pos = start
		return nil, err
	}
	return b, nil
}

// ReadUint reads an unsigned value of the given width in bits. Only byte
// multiples up to 64 are supported.
func (r *Reader) ReadUint(bits int) (uint64, error) {
	switch bits {
	case 8:
		v, err := r.ReadUInt8()
		return uint64(v), err
	case 16:
		v, err := r.ReadUInt16()
		return uint64(v), err
	case 32:
		v, err := r.ReadUInt32()
		return uint64(v), err
	case 64:
		return r.ReadUInt64()
	default:
		return 0, widthError("read", bits)
	}
}

// BeginArray reads the u32 element count that opens an array frame.
func (r *Reader) BeginArray() (int, error) {
	n, err := r.ReadUInt32()
	return int(n), err
}

// EndArray closes an array frame. It consumes nothing.
func (r *Reader) EndArray() {}

// ReadOptional reads the presence byte of an optional value.
func (r *Reader) ReadOptional() (bool, error) {
	return r.ReadBool()
}
