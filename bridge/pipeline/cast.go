package pipeline

import (
	"math"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// intBounds holds the inclusive range of the integer kinds narrower than 64 bits.
var intBounds = map[types.Kind][2]int64{
	types.KindInt8:   {math.MinInt8, math.MaxInt8},
	types.KindInt16:  {math.MinInt16, math.MaxInt16},
	types.KindInt32:  {math.MinInt32, math.MaxInt32},
	types.KindUInt8:  {0, math.MaxUint8},
	types.KindUInt16: {0, math.MaxUint16},
	types.KindUInt32: {0, math.MaxUint32},
}

// compatible reports whether values of native kind n can travel as wire kind w.
func compatible(n, w types.Kind) bool {
	switch {
	case n == types.KindString || w == types.KindString:
		return n == w
	case n == types.KindBinary || w == types.KindBinary:
		return n == w
	case n == types.KindClock || w == types.KindClock || w == types.KindCustom:
		return false
	default:
		return true
	}
}

// convert casts v to the Go representation of kind to without going through
// float64, so 64-bit integers survive unchanged.
func convert(v any, to types.Kind) (any, error) {
	switch x := v.(type) {
	case bool:
		if to == types.KindBool || to == types.KindClock {
			return x, nil
		}
		if x {
			return fromInt(1, to)
		}
		return fromInt(0, to)
	case int8:
		return fromInt(int64(x), to)
	case int16:
		return fromInt(int64(x), to)
	case int32:
		return fromInt(int64(x), to)
	case int64:
		return fromInt(x, to)
	case uint8:
		return fromUint(uint64(x), to)
	case uint16:
		return fromUint(uint64(x), to)
	case uint32:
		return fromUint(uint64(x), to)
	case uint64:
		return fromUint(x, to)
	case float32:
		if to == types.KindFloat32 {
			return x, nil
		}
		return fromFloat(float64(x), to)
	case float64:
		return fromFloat(x, to)
	case string:
		if to == types.KindString {
			return x, nil
		}
	case []byte:
		if to == types.KindBinary {
			return x, nil
		}
	}
	return nil, bridgeerrors.Codecf("cast", bridgeerrors.ErrValueType, "cannot cast %T to %s", v, to)
}

// toFloat returns the numeric value of v.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, bridgeerrors.Codecf("cast", bridgeerrors.ErrValueType, "%T is not numeric", v)
}

func outOfRange(v any, to types.Kind) error {
	return bridgeerrors.Codecf("cast", bridgeerrors.ErrValueRange, "%v does not fit %s", v, to)
}

func fromInt(i int64, to types.Kind) (any, error) {
	if b, ok := intBounds[to]; ok && (i < b[0] || i > b[1]) {
		return nil, outOfRange(i, to)
	}
	switch to {
	case types.KindBool, types.KindClock:
		return i != 0, nil
	case types.KindInt8:
		return int8(i), nil
	case types.KindInt16:
		return int16(i), nil
	case types.KindInt32:
		return int32(i), nil
	case types.KindInt64, types.KindEnum:
		return i, nil
	case types.KindUInt8:
		return uint8(i), nil
	case types.KindUInt16:
		return uint16(i), nil
	case types.KindUInt32:
		return uint32(i), nil
	case types.KindUInt64:
		if i < 0 {
			return nil, outOfRange(i, to)
		}
		return uint64(i), nil
	case types.KindFloat32:
		return float32(i), nil
	case types.KindFloat64:
		return float64(i), nil
	}
	return nil, bridgeerrors.Codecf("cast", bridgeerrors.ErrValueType, "cannot cast an integer to %s", to)
}

func fromUint(u uint64, to types.Kind) (any, error) {
	if u <= math.MaxInt64 {
		return fromInt(int64(u), to)
	}
	switch to {
	case types.KindUInt64:
		return u, nil
	case types.KindBool, types.KindClock:
		return true, nil
	case types.KindFloat32:
		return float32(u), nil
	case types.KindFloat64:
		return float64(u), nil
	}
	return nil, outOfRange(u, to)
}

// fromFloat rounds f to the nearest integer for integer targets.
func fromFloat(f float64, to types.Kind) (any, error) {
	switch to {
	case types.KindFloat64:
		return f, nil
	case types.KindFloat32:
		return float32(f), nil
	case types.KindBool, types.KindClock:
		return f != 0, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, outOfRange(f, to)
	}
	r := math.Round(f)
	if to == types.KindUInt64 {
		if r < 0 || r >= math.Exp2(64) {
			return nil, outOfRange(f, to)
		}
		return uint64(r), nil
	}
	if r < -math.Exp2(63) || r >= math.Exp2(63) {
		return nil, outOfRange(f, to)
	}
	return fromInt(int64(r), to)
}
