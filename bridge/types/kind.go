package types

import "strings"

// Kind is the closed set of primitive kinds a Descriptor leaf can carry.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindString
	KindBinary
	KindEnum
	KindCustom
	// KindClock only appears on FMU variables; it is never a wire type.
	KindClock
)

var kindNames = map[Kind]string{
	KindBool:    "Bool",
	KindInt8:    "Int8",
	KindInt16:   "Int16",
	KindInt32:   "Int32",
	KindInt64:   "Int64",
	KindUInt8:   "UInt8",
	KindUInt16:  "UInt16",
	KindUInt32:  "UInt32",
	KindUInt64:  "UInt64",
	KindFloat32: "Float32",
	KindFloat64: "Float64",
	KindString:  "String",
	KindBinary:  "Binary",
	KindEnum:    "Enum",
	KindCustom:  "Custom",
	KindClock:   "Clock",
}

// primitiveAliases maps lower-cased type tokens to primitive kinds.
var primitiveAliases = map[string]Kind{
	"bool":    KindBool,
	"boolean": KindBool,
	"int8":    KindInt8,
	"sbyte":   KindInt8,
	"int16":   KindInt16,
	"short":   KindInt16,
	"int":     KindInt32,
	"integer": KindInt32,
	"int32":   KindInt32,
	"int64":   KindInt64,
	"long":    KindInt64,
	"uint8":   KindUInt8,
	"byte":    KindUInt8,
	"uint16":  KindUInt16,
	"ushort":  KindUInt16,
	"uint":    KindUInt32,
	"uint32":  KindUInt32,
	"uint64":  KindUInt64,
	"ulong":   KindUInt64,
	"float":   KindFloat32,
	"single":  KindFloat32,
	"float32": KindFloat32,
	"double":  KindFloat64,
	"float64": KindFloat64,
	"real":    KindFloat64,
	"string":  KindString,
	"binary":  KindBinary,
	"bytes":   KindBinary,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Invalid"
}

// LookupPrimitive resolves a primitive alias, case-insensitively.
func LookupPrimitive(token string) (Kind, bool) {
	k, ok := primitiveAliases[strings.ToLower(token)]
	return k, ok
}

// Size returns the fixed wire width of k in bytes, or 0 for variable-width
// and composite kinds. Enums travel as 64-bit signed integers.
func (k Kind) Size() int {
	switch k {
	case KindBool, KindInt8, KindUInt8:
		return 1
	case KindInt16, KindUInt16:
		return 2
	case KindInt32, KindUInt32, KindFloat32:
		return 4
	case KindInt64, KindUInt64, KindFloat64, KindEnum:
		return 8
	default:
		return 0
	}
}

// IsNumeric reports whether k is an integer, floating-point or enum kind.
func (k Kind) IsNumeric() bool {
	return k.IsInteger() || k.IsFloat() || k == KindEnum
}

// IsInteger reports whether k is a signed or unsigned integer kind.
func (k Kind) IsInteger() bool {
	return k.IsSigned() || k.IsUnsigned()
}

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	return k == KindInt8 || k == KindInt16 || k == KindInt32 || k == KindInt64
}

// IsUnsigned reports whether k is an unsigned integer kind.
func (k Kind) IsUnsigned() bool {
	return k == KindUInt8 || k == KindUInt16 || k == KindUInt32 || k == KindUInt64
}

// IsFloat reports whether k is a floating-point kind.
func (k Kind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}
