package fmi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// NativeValues holds the values of one or more FMU variables of one kind, in
// the layout the FMU exchanges them.
//
// Fixed-width kinds are packed back to back in host byte order. EnumWidth
// follows the FMI version: 4 for FMI 2, where Enum and Bool are C ints
// (fmi2Integer, fmi2Boolean), and 8 for FMI 3, where Enum is an int64 and
// Bool a single byte. Clock always uses one byte. String values
// live in Strings. Binary values are concatenated in Data with the size of
// every element in Sizes.
type NativeValues struct {
	Kind      types.Kind
	EnumWidth int
	Data      []byte
	Sizes     []int
	Strings   []string
}

// NewNativeValues returns an empty container for kind k.
func NewNativeValues(k types.Kind, enumWidth int) NativeValues {
	return NativeValues{Kind: k, EnumWidth: enumWidth}
}

// Width returns the size in bytes of one fixed-width element, or 0 for
// variable-width kinds.
func (nv NativeValues) Width() int {
	switch nv.Kind {
	case types.KindClock:
		return 1
	case types.KindBool:
		if nv.EnumWidth == 4 {
			return 4
		}
		return 1
	case types.KindEnum:
		if nv.EnumWidth == 4 {
			return 4
		}
		return 8
	case types.KindString, types.KindBinary:
		return 0
	default:
		return nv.Kind.Size()
	}
}

// Len returns the number of elements.
func (nv NativeValues) Len() int {
	switch nv.Kind {
	case types.KindString:
		return len(nv.Strings)
	case types.KindBinary:
		return len(nv.Sizes)
	default:
		if w := nv.Width(); w > 0 {
			return len(nv.Data) / w
		}
		return 0
	}
}

// Slice returns the elements [from, to) as a new container.
func (nv NativeValues) Slice(from, to int) NativeValues {
	out := NativeValues{Kind: nv.Kind, EnumWidth: nv.EnumWidth}
	switch nv.Kind {
	case types.KindString:
		out.Strings = nv.Strings[from:to]
	case types.KindBinary:
		off := 0
		for _, s := range nv.Sizes[:from] {
			off += s
		}
		end := off
		for _, s := range nv.Sizes[from:to] {
			end += s
		}
		out.Data = nv.Data[off:end]
		out.Sizes = nv.Sizes[from:to]
	default:
		w := nv.Width()
		out.Data = nv.Data[from*w : to*w]
	}
	return out
}

// Concat appends the elements of other, which must have the same kind.
func (nv *NativeValues) Concat(other NativeValues) {
	nv.Data = append(nv.Data, other.Data...)
	nv.Sizes = append(nv.Sizes, other.Sizes...)
	nv.Strings = append(nv.Strings, other.Strings...)
}

// At returns element i as its Go value: bool for Bool and Clock, int64 for
// Enum, []byte for Binary and the matching Go type otherwise.
func (nv NativeValues) At(i int) (any, error) {
	if i < 0 || i >= nv.Len() {
		return nil, bridgeerrors.Codecf("native value", bridgeerrors.ErrShape, "index %d out of %d %s elements", i, nv.Len(), nv.Kind)
	}
	switch nv.Kind {
	case types.KindString:
		return nv.Strings[i], nil
	case types.KindBinary:
		e := nv.Slice(i, i+1)
		return append([]byte{}, e.Data...), nil
	}
	w := nv.Width()
	b := nv.Data[i*w : (i+1)*w]
	ne := binary.NativeEndian
	switch nv.Kind {
	case types.KindBool:
		if w == 4 {
			return ne.Uint32(b) != 0, nil
		}
		return b[0] != 0, nil
	case types.KindClock:
		return b[0] != 0, nil
	case types.KindInt8:
		return int8(b[0]), nil
	case types.KindUInt8:
		return b[0], nil
	case types.KindInt16:
		return int16(ne.Uint16(b)), nil
	case types.KindUInt16:
		return ne.Uint16(b), nil
	case types.KindInt32:
		return int32(ne.Uint32(b)), nil
	case types.KindUInt32:
		return ne.Uint32(b), nil
	case types.KindInt64:
		return int64(ne.Uint64(b)), nil
	case types.KindUInt64:
		return ne.Uint64(b), nil
	case types.KindFloat32:
		return math.Float32frombits(ne.Uint32(b)), nil
	case types.KindFloat64:
		return math.Float64frombits(ne.Uint64(b)), nil
	case types.KindEnum:
		if w == 4 {
			return int64(int32(ne.Uint32(b))), nil
		}
		return int64(ne.Uint64(b)), nil
	}
	return nil, bridgeerrors.Codecf("native value", bridgeerrors.ErrValueType, "kind %s has no native form", nv.Kind)
}

// Append adds one element. v must have the Go type At returns for the kind.
// Enum values that do not fit EnumWidth fail with errors.ErrEnumRange.
func (nv *NativeValues) Append(v any) error {
	mismatch := func() error {
		return bridgeerrors.Codecf("native value", bridgeerrors.ErrValueType, "%T for native %s", v, nv.Kind)
	}
	ne := binary.NativeEndian
	switch nv.Kind {
	case types.KindBool, types.KindClock:
		x, ok := v.(bool)
		if !ok {
			return mismatch()
		}
		var bit uint32
		if x {
			bit = 1
		}
		if nv.Width() == 4 {
			nv.Data = ne.AppendUint32(nv.Data, bit)
		} else {
			nv.Data = append(nv.Data, byte(bit))
		}
	case types.KindInt8:
		x, ok := v.(int8)
		if !ok {
			return mismatch()
		}
		nv.Data = append(nv.Data, byte(x))
	case types.KindUInt8:
		x, ok := v.(uint8)
		if !ok {
			return mismatch()
		}
		nv.Data = append(nv.Data, x)
	case types.KindInt16:
		x, ok := v.(int16)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint16(nv.Data, uint16(x))
	case types.KindUInt16:
		x, ok := v.(uint16)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint16(nv.Data, x)
	case types.KindInt32:
		x, ok := v.(int32)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint32(nv.Data, uint32(x))
	case types.KindUInt32:
		x, ok := v.(uint32)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint32(nv.Data, x)
	case types.KindInt64:
		x, ok := v.(int64)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint64(nv.Data, uint64(x))
	case types.KindUInt64:
		x, ok := v.(uint64)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint64(nv.Data, x)
	case types.KindFloat32:
		x, ok := v.(float32)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint32(nv.Data, math.Float32bits(x))
	case types.KindFloat64:
		x, ok := v.(float64)
		if !ok {
			return mismatch()
		}
		nv.Data = ne.AppendUint64(nv.Data, math.Float64bits(x))
	case types.KindEnum:
		x, ok := v.(int64)
		if !ok {
			return mismatch()
		}
		if nv.Width() == 4 {
			if x < math.MinInt32 || x > math.MaxInt32 {
				return bridgeerrors.Codecf("native value", bridgeerrors.ErrEnumRange, "%d does not fit %d bytes", x, nv.Width())
			}
			nv.Data = ne.AppendUint32(nv.Data, uint32(int32(x)))
		} else {
			nv.Data = ne.AppendUint64(nv.Data, uint64(x))
		}
	case types.KindString:
		x, ok := v.(string)
		if !ok {
			return mismatch()
		}
		nv.Strings = append(nv.Strings, x)
	case types.KindBinary:
		x, ok := v.([]byte)
		if !ok {
			return mismatch()
		}
		nv.Data = append(nv.Data, x...)
		nv.Sizes = append(nv.Sizes, len(x))
	default:
		return mismatch()
	}
	return nil
}

// Pack builds a container from Go values.
func Pack(k types.Kind, enumWidth int, values ...any) (NativeValues, error) {
	nv := NewNativeValues(k, enumWidth)
	for i, v := range values {
		if err := nv.Append(v); err != nil {
			return NativeValues{}, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nv, nil
}

// Unpack returns every element as a Go value.
func (nv NativeValues) Unpack() ([]any, error) {
	out := make([]any, nv.Len())
	for i := range out {
		v, err := nv.At(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ParseStart converts a start attribute into native values. Array start
// values are whitespace separated; binary start values are hex encoded.
// An empty start yields n zero values.
func ParseStart(k types.Kind, enumWidth int, start string, n int) (NativeValues, error) {
	nv := NewNativeValues(k, enumWidth)
	var fields []string
	if k == types.KindString {
		if start != "" || n > 0 {
			fields = []string{start}
		}
	} else {
		fields = strings.Fields(start)
	}
	if len(fields) == 0 {
		for i := 0; i < n; i++ {
			if err := nv.Append(zeroOf(k)); err != nil {
				return NativeValues{}, err
			}
		}
		return nv, nil
	}
	for _, f := range fields {
		v, err := parseScalar(k, f)
		if err != nil {
			return NativeValues{}, fmt.Errorf("start value %q: %w", f, err)
		}
		if err := nv.Append(v); err != nil {
			return NativeValues{}, err
		}
	}
	// A single start value applies to every element.
	for nv.Len() < n && len(fields) == 1 {
		v, _ := nv.At(0)
		if err := nv.Append(v); err != nil {
			return NativeValues{}, err
		}
	}
	return nv, nil
}

func zeroOf(k types.Kind) any {
	switch k {
	case types.KindBool, types.KindClock:
		return false
	case types.KindInt8:
		return int8(0)
	case types.KindUInt8:
		return uint8(0)
	case types.KindInt16:
		return int16(0)
	case types.KindUInt16:
		return uint16(0)
	case types.KindInt32:
		return int32(0)
	case types.KindUInt32:
		return uint32(0)
	case types.KindInt64, types.KindEnum:
		return int64(0)
	case types.KindUInt64:
		return uint64(0)
	case types.KindFloat32:
		return float32(0)
	case types.KindFloat64:
		return float64(0)
	case types.KindString:
		return ""
	case types.KindBinary:
		return []byte{}
	}
	return nil
}

func parseScalar(k types.Kind, s string) (any, error) {
	switch k {
	case types.KindBool, types.KindClock:
		switch s {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean")
	case types.KindInt8:
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), err
	case types.KindInt16:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case types.KindInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case types.KindInt64, types.KindEnum:
		return strconv.ParseInt(s, 10, 64)
	case types.KindUInt8:
		v, err := strconv.ParseUint(s, 10, 8)
		return uint8(v), err
	case types.KindUInt16:
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err
	case types.KindUInt32:
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	case types.KindUInt64:
		return strconv.ParseUint(s, 10, 64)
	case types.KindFloat32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case types.KindFloat64:
		return strconv.ParseFloat(s, 64)
	case types.KindString:
		return s, nil
	case types.KindBinary:
		return hex.DecodeString(s)
	}
	return nil, fmt.Errorf("kind %s has no start value", k)
}
