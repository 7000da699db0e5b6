package wire

import (
	"fmt"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Record is the decoded form of a struct value, keyed by member name.
type Record map[string]any

// Encode writes v according to d.
//
// Values use the following Go representation: bool, int8 … uint64, float32,
// float64, string, []byte (Binary), int64 (Enum), []any (List), Record
// (struct) and nil for an absent optional.
func Encode(w *Writer, d *types.Descriptor, v any) error {
	if d.Optional {
		if v == nil {
			w.WriteOptional(false)
			return nil
		}
		w.WriteOptional(true)
	} else if v == nil {
		return bridgeerrors.Codecf("encode", bridgeerrors.ErrValueType, "nil value for non-optional %s", d)
	}

	switch {
	case d.List:
		items, ok := v.([]any)
		if !ok {
			return bridgeerrors.Codecf("encode", bridgeerrors.ErrValueType, "%T for %s", v, d)
		}
		w.BeginArray(len(items))
		for i, item := range items {
			if err := Encode(w, d.Elem, item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		w.EndArray()
		return nil
	case d.Kind == types.KindCustom:
		if d.Struct == nil {
			return bridgeerrors.Codecf("encode", bridgeerrors.ErrUnresolvedType, "%s", d.Name)
		}
		rec, ok := v.(Record)
		if !ok {
			return bridgeerrors.Codecf("encode", bridgeerrors.ErrValueType, "%T for struct %s", v, d.Name)
		}
		return EncodeStruct(w, d.Struct, rec)
	default:
		return EncodeScalar(w, d.Kind, v)
	}
}

// EncodeStruct writes the members of rec in the declared order of def.
func EncodeStruct(w *Writer, def *types.StructDefinition, rec Record) error {
	for _, m := range def.Members {
		mv, ok := rec[m.Name]
		if !ok && !m.Type.Optional {
			return bridgeerrors.Codecf("encode", bridgeerrors.ErrShape, "struct %s: member %q missing", def.Name, m.Name)
		}
		if err := Encode(w, m.Type, mv); err != nil {
			return fmt.Errorf("struct %s member %s: %w", def.Name, m.Name, err)
		}
	}
	return nil
}

// EncodeScalar writes a single primitive value of kind k. The dynamic type of
// v must be the Go type that represents k.
func EncodeScalar(w *Writer, k types.Kind, v any) error {
	var ok bool
	switch k {
	case types.KindBool:
		var x bool
		if x, ok = v.(bool); ok {
			w.WriteBool(x)
		}
	case types.KindInt8:
		var x int8
		if x, ok = v.(int8); ok {
			w.WriteInt8(x)
		}
	case types.KindInt16:
		var x int16
		if x, ok = v.(int16); ok {
			w.WriteInt16(x)
		}
	case types.KindInt32:
		var x int32
		if x, ok = v.(int32); ok {
			w.WriteInt32(x)
		}
	case types.KindInt64, types.KindEnum:
		var x int64
		if x, ok = v.(int64); ok {
			w.WriteInt64(x)
		}
	case types.KindUInt8:
		var x uint8
		if x, ok = v.(uint8); ok {
			w.WriteUInt8(x)
		}
	case types.KindUInt16:
		var x uint16
		if x, ok = v.(uint16); ok {
			w.WriteUInt16(x)
		}
	case types.KindUInt32:
		var x uint32
		if x, ok = v.(uint32); ok {
			w.WriteUInt32(x)
		}
	case types.KindUInt64:
		var x uint64
		if x, ok = v.(uint64); ok {
			w.WriteUInt64(x)
		}
	case types.KindFloat32:
		var x float32
		if x, ok = v.(float32); ok {
			w.WriteFloat32(x)
		}
	case types.KindFloat64:
		var x float64
		if x, ok = v.(float64); ok {
			w.WriteFloat64(x)
		}
	case types.KindString:
		var x string
		if x, ok = v.(string); ok {
			w.WriteString(x)
		}
	case types.KindBinary:
		var x []byte
		if x, ok = v.([]byte); ok {
			w.WriteBinary(x)
		}
	default:
		return bridgeerrors.Codecf("encode", bridgeerrors.ErrValueType, "kind %s is not a wire primitive", k)
	}
	if !ok {
		return bridgeerrors.Codecf("encode", bridgeerrors.ErrValueType, "%T for %s", v, k)
	}
	return nil
}

// Decode reads one value of type d. See Encode for the Go representation.
func Decode(r *Reader, d *types.Descriptor) (any, error) {
	if d.Optional {
		present, err := r.ReadOptional()
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
	}

	switch {
	case d.List:
		n, err := r.BeginArray()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, min(n, r.Remaining()))
		for i := 0; i < n; i++ {
			item, err := Decode(r, d.Elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, item)
		}
		r.EndArray()
		return items, nil
	case d.Kind == types.KindCustom:
		if d.Struct == nil {
			return nil, bridgeerrors.Codecf("decode", bridgeerrors.ErrUnresolvedType, "%s", d.Name)
		}
		return DecodeStruct(r, d.Struct)
	default:
		return DecodeScalar(r, d.Kind)
	}
}

// DecodeStruct reads the members of def in declared order.
func DecodeStruct(r *Reader, def *types.StructDefinition) (Record, error) {
	rec := make(Record, len(def.Members))
	for _, m := range def.Members {
		v, err := Decode(r, m.Type)
		if err != nil {
			return nil, fmt.Errorf("struct %s member %s: %w", def.Name, m.Name, err)
		}
		rec[m.Name] = v
	}
	return rec, nil
}

// DecodeScalar reads a single primitive value of kind k.
func DecodeScalar(r *Reader, k types.Kind) (any, error) {
	switch k {
	case types.KindBool:
		return r.ReadBool()
	case types.KindInt8:
		return r.ReadInt8()
	case types.KindInt16:
		return r.ReadInt16()
	case types.KindInt32:
		return r.ReadInt32()
	case types.KindInt64, types.KindEnum:
		return r.ReadInt64()
	case types.KindUInt8:
		return r.ReadUInt8()
	case types.KindUInt16:
		return r.ReadUInt16()
	case types.KindUInt32:
		return r.ReadUInt32()
	case types.KindUInt64:
		return r.ReadUInt64()
	case types.KindFloat32:
		return r.ReadFloat32()
	case types.KindFloat64:
		return r.ReadFloat64()
	case types.KindString:
		return r.ReadString()
	case types.KindBinary:
		return r.ReadBinary()
	default:
		return nil, bridgeerrors.Codecf("decode", bridgeerrors.ErrValueType, "kind %s is not a wire primitive", k)
	}
}
